package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/crowdchat/crowd/internal/conversation"
)

// markdown renders assistant content, caching the output per message so a
// streaming message only re-renders when its content changed.
type markdown struct {
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]cachedRender
}

type cachedRender struct {
	content string
	out     string
}

func newMarkdown(width int) *markdown {
	md := &markdown{width: width, cache: make(map[string]cachedRender)}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Msg("[tui] markdown renderer unavailable")
		return md
	}
	md.renderer = r
	return md
}

func (md *markdown) render(id, content string) string {
	if c, ok := md.cache[id]; ok && c.content == content {
		return c.out
	}

	out := content
	if md.renderer != nil {
		if rendered, err := md.renderer.Render(content); err == nil {
			out = strings.Trim(rendered, "\n")
		}
	}
	md.cache[id] = cachedRender{content: content, out: out}
	return out
}

func labelStyle(m conversation.Message) lipgloss.Style {
	var style lipgloss.Style
	switch m.Role {
	case conversation.RoleUser:
		style = chatUserLabelStyle
	case conversation.RoleAssistant:
		style = chatAssistantLabelStyle
	default:
		style = chatOtherLabelStyle
	}
	if c, ok := categoryColors[m.Category]; ok {
		style = style.Foreground(c)
	}
	return style
}

func senderName(m conversation.Message) string {
	if m.Name != "" {
		return m.Name
	}
	if m.Role != "" {
		return m.Role
	}
	return "unknown"
}

// renderMessage renders one message block without selection decoration.
func renderMessage(m conversation.Message, width int, md *markdown, spin string) string {
	var b strings.Builder

	label := senderName(m)
	if m.Category != "" {
		label += " · " + m.Category
	}
	b.WriteString(labelStyle(m).Render(label))
	b.WriteString("\n")

	switch {
	case m.Content == "" && m.Role != conversation.RoleUser:
		b.WriteString(spin + " " + chatThinkingStyle.Render("Thinking..."))
	case m.Role == conversation.RoleUser:
		b.WriteString(chatUserMsgStyle.MaxWidth(width).Render(wrap(m.Content, width-2)))
	case m.Role == conversation.RoleAssistant && md != nil:
		b.WriteString(md.render(m.ID, m.Content))
	default:
		b.WriteString(chatPlainMsgStyle.Render(wrap(m.Content, width)))
	}

	return b.String()
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if max <= 3 || len([]rune(s)) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
