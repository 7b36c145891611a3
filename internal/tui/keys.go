package tui

import "github.com/charmbracelet/bubbles/key"

// Key bindings
type keyMap struct {
	Send      key.Binding
	Newline   key.Binding
	Cancel    key.Binding
	Sidebar   key.Binding
	NewChat   key.Binding
	Focus     key.Binding
	Up        key.Binding
	Down      key.Binding
	Copy      key.Binding
	Delete    key.Binding
	DeleteCh  key.Binding
	Assistant key.Binding
	Help      key.Binding
	Retry     key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Newline: key.NewBinding(
		key.WithKeys("alt+enter"),
		key.WithHelp("alt+enter", "new line"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel request / close"),
	),
	Sidebar: key.NewBinding(
		key.WithKeys("ctrl+s"),
		key.WithHelp("ctrl+s", "chat history"),
	),
	NewChat: key.NewBinding(
		key.WithKeys("ctrl+n"),
		key.WithHelp("ctrl+n", "new chat"),
	),
	Focus: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "input / messages"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next"),
	),
	Copy: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "copy message"),
	),
	Delete: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "delete message"),
	),
	DeleteCh: key.NewBinding(
		key.WithKeys("ctrl+d"),
		key.WithHelp("ctrl+d", "delete chat"),
	),
	Assistant: key.NewBinding(
		key.WithKeys("ctrl+a"),
		key.WithHelp("ctrl+a", "next assistant"),
	),
	Help: key.NewBinding(
		key.WithKeys("ctrl+_", "?"),
		key.WithHelp("ctrl+/", "shortcuts"),
	),
	Retry: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "retry"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Cancel, k.Sidebar, k.Focus, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Newline, k.Cancel, k.Focus},
		{k.Sidebar, k.NewChat, k.DeleteCh, k.Assistant},
		{k.Up, k.Down, k.Copy, k.Delete},
		{k.Help, k.Quit},
	}
}
