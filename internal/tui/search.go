package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"
)

func newSearchInput() textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "Search chats"
	ti.Prompt = "/ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(chatPurple)
	ti.Width = sidebarWidth - 6
	return ti
}
