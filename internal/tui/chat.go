// Package tui provides the terminal chat screen.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crowdchat/crowd/internal/api"
	"github.com/crowdchat/crowd/internal/chats"
	"github.com/crowdchat/crowd/internal/chatsync"
	"github.com/crowdchat/crowd/internal/conversation"
)

// Controller is the chat state the screen drives. *chatsync.Sync implements it.
type Controller interface {
	Open(ctx context.Context, chatID string) error
	Close() error
	Snapshot() chatsync.Snapshot
	Updates() <-chan struct{}
	Submit(text string) (*chatsync.Pending, error)
	CancelPending() bool
	Delete(ctx context.Context, messageID string) error
	SetAssistant(ctx context.Context, name string) error
}

// History lists and deletes past chats. *api.Client implements it.
type History interface {
	Chats(ctx context.Context) ([]api.ChatSummary, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// Options configures the chat screen.
type Options struct {
	// ChatID is opened first. Empty starts a new chat.
	ChatID string
	// Assistant is selected right after the first chat opens.
	Assistant string
	// Recent records opened chats. Optional.
	Recent *chats.Recent
	// NewChatID generates ids for new chats. Defaults to random UUIDs.
	NewChatID func() string
}

type focus int

const (
	focusInput focus = iota
	focusList
)

type confirmKind int

const (
	confirmDeleteMessage confirmKind = iota + 1
	confirmDeleteChat
)

type confirmation struct {
	kind confirmKind
	id   string
	what string
}

// Messages
type updateMsg struct{}
type openedMsg struct {
	chatID string
	err    error
}
type chatsLoadedMsg struct {
	chats []api.ChatSummary
	err   error
}
type chatDeletedMsg struct {
	chatID string
	err    error
}
type messageDeletedMsg struct{ err error }
type assistantSetMsg struct {
	name string
	err  error
}
type statusMsg string

var copyToClipboard = clipboard.WriteAll

// ChatModel is the bubbletea model for the chat screen.
type ChatModel struct {
	ctrl    Controller
	history History
	opts    Options

	// UI components
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	search   textinput.Model
	md       *markdown

	// State
	target      string
	snap        chatsync.Snapshot
	loading     bool
	loadErr     error
	status      string
	focus       focus
	selected    int
	offsets     []int
	confirm     *confirmation
	showHelp    bool
	showSidebar bool
	allChats    []api.ChatSummary
	shownChats  []api.ChatSummary
	sidebarIdx  int
	firstOpen   bool
	lastTitle   string
	width       int
	height      int
	ready       bool
}

// NewChatModel creates the chat screen.
func NewChatModel(ctrl Controller, history History, opts Options) ChatModel {
	if opts.NewChatID == nil {
		opts.NewChatID = uuid.NewString
	}
	if opts.ChatID == "" {
		opts.ChatID = opts.NewChatID()
	}

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Focus()
	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false) // Enter sends message

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(chatPurple)

	return ChatModel{
		ctrl:      ctrl,
		history:   history,
		opts:      opts,
		textarea:  ta,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		help:      help.New(),
		search:    newSearchInput(),
		md:        newMarkdown(76),
		target:    opts.ChatID,
		snap:      chatsync.Snapshot{ChatID: opts.ChatID},
		loading:   true,
		firstOpen: true,
	}
}

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.openChat(m.opts.ChatID),
		m.waitForUpdate(),
	)
}

func (m ChatModel) waitForUpdate() tea.Cmd {
	updates := m.ctrl.Updates()
	return func() tea.Msg {
		<-updates
		return updateMsg{}
	}
}

func (m ChatModel) openChat(chatID string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		err := ctrl.Open(context.Background(), chatID)
		return openedMsg{chatID: chatID, err: err}
	}
}

func (m ChatModel) loadChats() tea.Cmd {
	history := m.history
	return func() tea.Msg {
		list, err := history.Chats(context.Background())
		return chatsLoadedMsg{chats: list, err: err}
	}
}

func (m ChatModel) setAssistant(name string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		err := ctrl.SetAssistant(context.Background(), name)
		return assistantSetMsg{name: name, err: err}
	}
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		m.refresh()

	case updateMsg:
		m.snap = m.ctrl.Snapshot()
		m.clampSelection()
		m.refresh()
		cmds = append(cmds, m.waitForUpdate())
		if cmd := m.titleCmd(); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case openedMsg:
		// A slower open of a chat we already left.
		if msg.chatID != m.target {
			break
		}
		m.loading = false
		m.snap = m.ctrl.Snapshot()
		if msg.err != nil {
			m.loadErr = msg.err
		} else {
			m.loadErr = nil
			m.touchRecent()
			if m.firstOpen && m.opts.Assistant != "" && m.opts.Assistant != m.snap.Assistant {
				cmds = append(cmds, m.setAssistant(m.opts.Assistant))
			}
		}
		m.firstOpen = false
		m.selected = len(m.snap.View.Messages) - 1
		m.refresh()
		m.viewport.GotoBottom()
		if cmd := m.titleCmd(); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case chatsLoadedMsg:
		if msg.err != nil {
			m.status = "Failed to load chats: " + msg.err.Error()
			break
		}
		m.allChats = msg.chats
		m.filterChats()

	case chatDeletedMsg:
		if msg.err != nil {
			m.status = "Failed to delete chat: " + msg.err.Error()
			break
		}
		m.allChats = chats.Remove(m.allChats, msg.chatID)
		m.filterChats()
		if m.opts.Recent != nil {
			if err := m.opts.Recent.Delete(msg.chatID); err != nil && !errors.Is(err, chats.ErrNotFound) {
				log.Warn().Err(err).Str("chat", msg.chatID).Msg("[tui] failed to drop recent record")
			}
		}
		m.status = "Chat deleted"
		if msg.chatID == m.target {
			return m.startNewChat()
		}

	case messageDeletedMsg:
		if msg.err != nil {
			m.status = "Delete failed, message restored: " + msg.err.Error()
		}

	case assistantSetMsg:
		if msg.err != nil {
			m.status = "Failed to set assistant: " + msg.err.Error()
		} else {
			m.status = "Assistant: " + msg.name
			m.touchRecent()
		}

	case statusMsg:
		m.status = string(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.thinking() {
			m.refresh()
		}
	}

	if _, isKey := msg.(tea.KeyMsg); !isKey && m.focus == focusInput {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		return m, tea.Quit
	}

	if m.confirm != nil {
		return m.handleConfirm(msg)
	}

	if m.showHelp {
		if key.Matches(msg, keys.Cancel, keys.Help) {
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Sidebar):
		m.showSidebar = !m.showSidebar
		m.layout()
		m.refresh()
		if m.showSidebar {
			m.search.Reset()
			m.search.Focus()
			m.sidebarIdx = 0
			return m, m.loadChats()
		}
		m.search.Blur()
		return m, nil

	case key.Matches(msg, keys.NewChat):
		return m.startNewChat()

	case key.Matches(msg, keys.Assistant):
		return m.cycleAssistant()

	case msg.Type == tea.KeyCtrlUnderscore:
		m.showHelp = true
		return m, nil

	case key.Matches(msg, keys.Cancel):
		if m.showSidebar {
			m.showSidebar = false
			m.search.Blur()
			m.layout()
			m.refresh()
			return m, nil
		}
		if m.ctrl.CancelPending() {
			m.status = "Request cancelled"
		}
		return m, nil
	}

	if m.showSidebar {
		return m.handleSidebarKey(msg)
	}

	if m.loadErr != nil {
		if key.Matches(msg, keys.Retry) {
			m.loading = true
			m.loadErr = nil
			return m, m.openChat(m.target)
		}
		return m, nil
	}

	if key.Matches(msg, keys.Focus) {
		if m.focus == focusInput {
			m.focus = focusList
			m.textarea.Blur()
			m.selected = len(m.snap.View.Messages) - 1
		} else {
			m.focus = focusInput
			m.textarea.Focus()
		}
		m.refresh()
		return m, nil
	}

	if m.focus == focusList {
		return m.handleListKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m ChatModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Newline):
		m.textarea.InsertString("\n")
		return m, nil

	case key.Matches(msg, keys.Send):
		text := m.textarea.Value()
		if m.loading || strings.TrimSpace(text) == "" {
			return m, nil
		}
		if _, err := m.ctrl.Submit(text); err != nil {
			m.status = "Cannot send: " + err.Error()
			return m, nil
		}
		m.textarea.Reset()
		m.status = ""
		m.snap = m.ctrl.Snapshot()
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m ChatModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	msgs := m.snap.View.Messages

	switch {
	case key.Matches(msg, keys.Help):
		m.showHelp = true

	case key.Matches(msg, keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		m.refresh()
		m.scrollToSelected()

	case key.Matches(msg, keys.Down):
		if m.selected < len(msgs)-1 {
			m.selected++
		}
		m.refresh()
		m.scrollToSelected()

	case key.Matches(msg, keys.Copy):
		if m.selected < 0 || m.selected >= len(msgs) {
			return m, nil
		}
		content := msgs[m.selected].Content
		return m, func() tea.Msg {
			if err := copyToClipboard(content); err != nil {
				return statusMsg("Copy failed: " + err.Error())
			}
			return statusMsg("Copied to clipboard")
		}

	case key.Matches(msg, keys.Delete):
		if m.selected < 0 || m.selected >= len(msgs) {
			return m, nil
		}
		target := msgs[m.selected]
		m.confirm = &confirmation{
			kind: confirmDeleteMessage,
			id:   target.ID,
			what: truncate(target.Content, 40),
		}
	}

	return m, nil
}

func (m ChatModel) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyUp:
		if m.sidebarIdx > 0 {
			m.sidebarIdx--
		}
		return m, nil

	case msg.Type == tea.KeyDown:
		if m.sidebarIdx < len(m.shownChats)-1 {
			m.sidebarIdx++
		}
		return m, nil

	case msg.Type == tea.KeyEnter:
		if m.sidebarIdx >= len(m.shownChats) {
			return m, nil
		}
		id := m.shownChats[m.sidebarIdx].ID
		m.showSidebar = false
		m.search.Blur()
		m.layout()
		if id == m.target {
			return m, nil
		}
		return m.switchTo(id)

	case key.Matches(msg, keys.DeleteCh):
		if m.sidebarIdx >= len(m.shownChats) {
			return m, nil
		}
		c := m.shownChats[m.sidebarIdx]
		m.confirm = &confirmation{kind: confirmDeleteChat, id: c.ID, what: c.Title}
		return m, nil
	}

	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.filterChats()
	return m, cmd
}

func (m ChatModel) handleConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := m.confirm
	switch msg.String() {
	case "y", "Y":
		m.confirm = nil
		switch c.kind {
		case confirmDeleteMessage:
			ctrl := m.ctrl
			id := c.id
			return m, func() tea.Msg {
				return messageDeletedMsg{err: ctrl.Delete(context.Background(), id)}
			}
		case confirmDeleteChat:
			history := m.history
			id := c.id
			return m, func() tea.Msg {
				return chatDeletedMsg{chatID: id, err: history.DeleteChat(context.Background(), id)}
			}
		}
	case "n", "N", "esc":
		m.confirm = nil
	}
	return m, nil
}

func (m ChatModel) startNewChat() (tea.Model, tea.Cmd) {
	return m.switchTo(m.opts.NewChatID())
}

func (m ChatModel) switchTo(chatID string) (tea.Model, tea.Cmd) {
	m.target = chatID
	m.loading = true
	m.loadErr = nil
	m.status = ""
	m.selected = -1
	m.focus = focusInput
	m.textarea.Focus()
	m.snap = chatsync.Snapshot{ChatID: chatID}
	m.refresh()
	return m, m.openChat(chatID)
}

func (m ChatModel) cycleAssistant() (tea.Model, tea.Cmd) {
	list := m.snap.Assistants
	if len(list) == 0 {
		m.status = "No assistants available"
		return m, nil
	}
	next := list[0].Name
	for i, a := range list {
		if a.Name == m.snap.Assistant {
			next = list[(i+1)%len(list)].Name
			break
		}
	}
	return m, m.setAssistant(next)
}

func (m *ChatModel) touchRecent() {
	if m.opts.Recent == nil || m.snap.ChatID == "" {
		return
	}
	if err := m.opts.Recent.Touch(m.snap.ChatID, m.snap.Title, m.snap.Assistant); err != nil {
		log.Warn().Err(err).Str("chat", m.snap.ChatID).Msg("[tui] failed to record recent chat")
	}
}

func (m *ChatModel) filterChats() {
	m.shownChats = chats.Filter(m.allChats, m.search.Value())
	if m.sidebarIdx >= len(m.shownChats) {
		m.sidebarIdx = len(m.shownChats) - 1
	}
	if m.sidebarIdx < 0 {
		m.sidebarIdx = 0
	}
}

func (m *ChatModel) clampSelection() {
	n := len(m.snap.View.Messages)
	if m.selected >= n {
		m.selected = n - 1
	}
}

func (m ChatModel) thinking() bool {
	if m.loading {
		return true
	}
	for _, msg := range m.snap.View.Messages {
		if msg.Content == "" && msg.Role != conversation.RoleUser {
			return true
		}
	}
	return false
}

func (m *ChatModel) titleCmd() tea.Cmd {
	title := m.snap.Title
	if title == "" {
		title = "New chat"
	}
	title += " - crowd"
	if title == m.lastTitle {
		return nil
	}
	m.lastTitle = title
	return tea.SetWindowTitle(title)
}

func (m ChatModel) contentWidth() int {
	w := m.width
	if m.showSidebar {
		w -= sidebarWidth + 2
	}
	if w < 20 {
		w = 20
	}
	return w
}

func (m *ChatModel) layout() {
	if !m.ready {
		return
	}
	headerHeight := 2
	inputHeight := 5
	footerHeight := 2
	vpHeight := m.height - headerHeight - inputHeight - footerHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	w := m.contentWidth()
	m.viewport.Width = w
	m.viewport.Height = vpHeight
	m.textarea.SetWidth(w - 4)
	m.help.Width = w

	if m.md == nil || m.md.width != w-4 {
		m.md = newMarkdown(w - 4)
	}
}

// refresh re-renders the message list. The view follows new content only if
// it was already scrolled to the bottom.
func (m *ChatModel) refresh() {
	atBottom := m.viewport.AtBottom()

	width := m.contentWidth() - 4
	var (
		b       strings.Builder
		offsets = make([]int, 0, len(m.snap.View.Messages))
		line    int
	)
	for i, msg := range m.snap.View.Messages {
		block := renderMessage(msg, width, m.md, m.spinner.View())
		if m.focus == focusList {
			if i == m.selected {
				block = chatSelectedStyle.Render(block)
			} else {
				block = chatUnselectedStyle.Render(block)
			}
		}
		offsets = append(offsets, line)
		b.WriteString(block)
		b.WriteString("\n\n")
		line += lipgloss.Height(block) + 1
	}
	m.offsets = offsets

	m.viewport.SetContent(b.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *ChatModel) scrollToSelected() {
	if m.selected < 0 || m.selected >= len(m.offsets) {
		return
	}
	top := m.offsets[m.selected]
	if top < m.viewport.YOffset || top >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(top)
	}
}

func (m ChatModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	main := m.renderMain()
	if m.showSidebar {
		main = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), main)
	}
	return main
}

func (m ChatModel) renderMain() string {
	var b strings.Builder
	w := m.contentWidth()

	// Header
	title := m.snap.Title
	if title == "" {
		title = "New chat"
	}
	header := chatTitleStyle.Render(truncate(title, w/2))
	if m.snap.Assistant != "" {
		header += "  " + chatAssistantNameStyle.Render("@"+m.snap.Assistant)
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", w) + "\n")

	// Body
	switch {
	case m.showHelp:
		full := m.help
		full.ShowAll = true
		b.WriteString(lipgloss.Place(w, m.viewport.Height, lipgloss.Center, lipgloss.Center,
			helpOverlayStyle.Render("Keyboard shortcuts\n\n"+full.View(keys))) + "\n")
	case m.loadErr != nil:
		msg := chatErrorMsgStyle.Render("Failed to load chat. Please try again.") + "\n" +
			chatStatusStyle.Render("r: retry  •  ctrl+n: new chat")
		b.WriteString(lipgloss.Place(w, m.viewport.Height, lipgloss.Center, lipgloss.Center, msg) + "\n")
	case m.loading:
		b.WriteString(lipgloss.Place(w, m.viewport.Height, lipgloss.Center, lipgloss.Center,
			m.spinner.View()+" "+chatStatusStyle.Render("Loading chat...")) + "\n")
	default:
		b.WriteString(m.viewport.View() + "\n")
	}

	// Input area
	inputStyle := chatInputBoxStyle
	if m.focus == focusInput && !m.showSidebar {
		inputStyle = chatInputBoxFocusedStyle
	}
	b.WriteString(inputStyle.Render(m.textarea.View()) + "\n")

	// Footer
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(m.help.View(keys))

	return b.String()
}

func (m ChatModel) statusLine() string {
	if c := m.confirm; c != nil {
		what := "message"
		if c.kind == confirmDeleteChat {
			what = "chat"
		}
		return chatConfirmStyle.Render(fmt.Sprintf("Delete %s %q? (y/n)", what, c.what))
	}

	var parts []string
	if m.snap.Pending {
		parts = append(parts, m.spinner.View()+" sending (esc to cancel)")
	}
	if m.snap.StreamErr != nil {
		parts = append(parts, chatErrorMsgStyle.Render("stream disconnected: "+m.snap.StreamErr.Error()))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	return chatStatusStyle.Render(strings.Join(parts, "  •  "))
}

func (m ChatModel) renderSidebar() string {
	var items []string
	items = append(items, chatTitleStyle.Render("Chats"))
	items = append(items, m.search.View())
	items = append(items, "")

	if len(m.shownChats) == 0 {
		items = append(items, chatStatusStyle.Render("No chats"))
	}
	for i, c := range m.shownChats {
		title := c.Title
		if title == "" {
			title = c.ID
		}
		title = truncate(title, sidebarWidth-4)
		style := sidebarItemStyle
		prefix := "  "
		if i == m.sidebarIdx {
			style = sidebarItemActiveStyle
			prefix = "> "
		}
		if c.ID == m.target {
			title += " •"
		}
		items = append(items, style.Render(prefix+title))
	}

	items = append(items, "", chatStatusStyle.Render("enter open • ctrl+d delete"))
	return sidebarStyle.Height(m.height - 1).Render(strings.Join(items, "\n"))
}

// Run starts the chat screen and blocks until the user quits. The controller
// is closed on return.
func Run(ctrl Controller, history History, opts Options) error {
	defer ctrl.Close()

	model := NewChatModel(ctrl, history, opts)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
