package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors for chat
	chatPurple    = lipgloss.Color("#A855F7")
	chatGreen     = lipgloss.Color("#22C55E")
	chatYellow    = lipgloss.Color("#FBBF24")
	chatRed       = lipgloss.Color("#EF4444")
	chatBlue      = lipgloss.Color("#3B82F6")
	chatGray      = lipgloss.Color("#6B7280")
	chatDarkGray  = lipgloss.Color("#374151")
	chatLightGray = lipgloss.Color("#9CA3AF")
	chatWhite     = lipgloss.Color("#F9FAFB")

	chatTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(chatPurple)

	chatAssistantNameStyle = lipgloss.NewStyle().
				Foreground(chatGreen)

	chatUserLabelStyle = lipgloss.NewStyle().
				Foreground(chatPurple).
				Bold(true)

	chatUserMsgStyle = lipgloss.NewStyle().
				Foreground(chatWhite).
				Background(chatPurple).
				Padding(0, 1)

	chatAssistantLabelStyle = lipgloss.NewStyle().
				Foreground(chatGreen).
				Bold(true)

	chatOtherLabelStyle = lipgloss.NewStyle().
				Foreground(chatLightGray).
				Bold(true)

	chatPlainMsgStyle = lipgloss.NewStyle().
				Foreground(chatWhite)

	chatThinkingStyle = lipgloss.NewStyle().
				Foreground(chatGray).
				Italic(true)

	chatSelectedStyle = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder(), false, false, false, true).
				BorderForeground(chatYellow).
				PaddingLeft(1)

	chatUnselectedStyle = lipgloss.NewStyle().
				PaddingLeft(2)

	chatErrorMsgStyle = lipgloss.NewStyle().
				Foreground(chatRed).
				Bold(true)

	chatInputBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(chatDarkGray).
				Padding(0, 1)

	chatInputBoxFocusedStyle = lipgloss.NewStyle().
					Border(lipgloss.RoundedBorder()).
					BorderForeground(chatGreen).
					Padding(0, 1)

	chatStatusStyle = lipgloss.NewStyle().
			Foreground(chatGray)

	chatConfirmStyle = lipgloss.NewStyle().
				Foreground(chatYellow).
				Bold(true)

	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth).
			Border(lipgloss.RoundedBorder(), false, true, false, false).
			BorderForeground(chatDarkGray).
			Padding(0, 1)

	sidebarItemStyle = lipgloss.NewStyle().
				Foreground(chatLightGray)

	sidebarItemActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(chatPurple)

	helpOverlayStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(chatPurple).
				Padding(1, 2)
)

const sidebarWidth = 30

// categoryColors tints the sender label of categorised messages.
var categoryColors = map[string]lipgloss.Color{
	"error":   chatRed,
	"warning": chatYellow,
	"info":    chatBlue,
	"tool":    chatYellow,
	"system":  chatGray,
}
