package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdchat/crowd/internal/api"
	"github.com/crowdchat/crowd/internal/chats"
	"github.com/crowdchat/crowd/internal/chatsync"
	"github.com/crowdchat/crowd/internal/conversation"
)

type fakeController struct {
	mu         sync.Mutex
	snap       chatsync.Snapshot
	openErr    error
	opened     []string
	submitted  []string
	deleted    []string
	assistants []string
	cancels    int
	pending    bool
	updates    chan struct{}
}

func newFakeController(snap chatsync.Snapshot) *fakeController {
	return &fakeController{snap: snap, updates: make(chan struct{}, 1)}
}

func (f *fakeController) Open(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, chatID)
	f.snap.ChatID = chatID
	if f.openErr != nil {
		return &chatsync.LoadError{ChatID: chatID, Err: f.openErr}
	}
	return nil
}

func (f *fakeController) Close() error { return nil }

func (f *fakeController) Snapshot() chatsync.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Updates() <-chan struct{} { return f.updates }

func (f *fakeController) Submit(text string) (*chatsync.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	f.snap.View = f.snap.View.AppendUser("u", "You", text)
	return &chatsync.Pending{MessageID: "u"}, nil
}

func (f *fakeController) CancelPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	had := f.pending
	f.pending = false
	return had
}

func (f *fakeController) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeController) SetAssistant(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistants = append(f.assistants, name)
	f.snap.Assistant = name
	return nil
}

type fakeHistory struct {
	list    []api.ChatSummary
	deleted []string
}

func (h *fakeHistory) Chats(ctx context.Context) ([]api.ChatSummary, error) {
	return h.list, nil
}

func (h *fakeHistory) DeleteChat(ctx context.Context, id string) error {
	h.deleted = append(h.deleted, id)
	return nil
}

func sampleSnapshot() chatsync.Snapshot {
	return chatsync.Snapshot{
		Title: "Greeting",
		View: conversation.NewView([]conversation.Message{
			{ID: "m1", Role: conversation.RoleUser, Name: "You", Content: "hi"},
			{ID: "m2", Role: conversation.RoleAssistant, Name: "gpt", Content: "**hello**"},
		}),
		Assistant:  "gpt",
		Assistants: []api.Assistant{{Name: "gpt"}, {Name: "claude"}},
	}
}

// ready builds a model that has been sized and has finished opening c1.
func ready(t *testing.T, ctrl *fakeController, history *fakeHistory, opts Options) ChatModel {
	t.Helper()
	if opts.ChatID == "" {
		opts.ChatID = "c1"
	}
	m := NewChatModel(ctrl, history, opts)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	msg := m.openChat(opts.ChatID)()
	return update(t, m, msg)
}

func update(t *testing.T, m ChatModel, msg tea.Msg) ChatModel {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(ChatModel)
	require.True(t, ok)
	return out
}

func updateCmd(t *testing.T, m ChatModel, msg tea.Msg) (ChatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(ChatModel), cmd
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestOpenShowsMessages(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	assert.Equal(t, []string{"c1"}, ctrl.opened)
	assert.False(t, m.loading)

	view := m.View()
	assert.Contains(t, view, "Greeting")
	assert.Contains(t, view, "@gpt")
	assert.Contains(t, view, "hi")
	assert.Contains(t, view, "hello")
}

func TestNewChatIDWhenNoneGiven(t *testing.T) {
	ctrl := newFakeController(chatsync.Snapshot{})
	m := NewChatModel(ctrl, &fakeHistory{}, Options{NewChatID: func() string { return "fresh" }})
	assert.Equal(t, "fresh", m.target)
}

func TestEnterSubmits(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	// Blank input is ignored.
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, ctrl.submitted)

	m.textarea.SetValue("line one")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter, Alt: true})
	m.textarea.InsertString("line two")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Equal(t, []string{"line one\nline two"}, ctrl.submitted)
	assert.Empty(t, m.textarea.Value())
	assert.Equal(t, 3, m.snap.View.Len())
}

func TestEscCancelsPending(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	ctrl.pending = true
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 1, ctrl.cancels)
	assert.Equal(t, "Request cancelled", m.status)
}

func TestLoadErrorAndRetry(t *testing.T) {
	ctrl := newFakeController(chatsync.Snapshot{})
	ctrl.openErr = errors.New("boom")
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	require.Error(t, m.loadErr)
	assert.Contains(t, m.View(), "Failed to load chat. Please try again.")

	ctrl.openErr = nil
	m, cmd := updateCmd(t, m, keyRunes("r"))
	require.NotNil(t, cmd)
	assert.True(t, m.loading)

	m = update(t, m, cmd())
	assert.NoError(t, m.loadErr)
	assert.Equal(t, []string{"c1", "c1"}, ctrl.opened)
}

func TestCycleAssistant(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlA})
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	assert.Equal(t, []string{"claude"}, ctrl.assistants)
	assert.Equal(t, "Assistant: claude", m.status)
}

func TestAssistantOptionAppliedOnFirstOpen(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	m := NewChatModel(ctrl, &fakeHistory{}, Options{ChatID: "c1", Assistant: "claude"})
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	_, cmd := updateCmd(t, m, m.openChat("c1")())
	require.NotNil(t, cmd)

	// Run the batch and find the assistant change.
	var found bool
	for _, msg := range runBatch(cmd) {
		if a, ok := msg.(assistantSetMsg); ok {
			found = true
			assert.Equal(t, "claude", a.name)
		}
	}
	assert.True(t, found)
	assert.Equal(t, []string{"claude"}, ctrl.assistants)
}

// runBatch executes a command and the commands it batches, skipping ones
// that would block on timers.
func runBatch(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return []tea.Msg{msg}
	}
	var out []tea.Msg
	for _, c := range batch {
		if c == nil {
			continue
		}
		out = append(out, runBatch(c)...)
	}
	return out
}

func TestListFocusDeleteWithConfirmation(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusList, m.focus)
	assert.Equal(t, 1, m.selected)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.selected)

	m = update(t, m, keyRunes("d"))
	require.NotNil(t, m.confirm)
	assert.Contains(t, m.View(), "(y/n)")

	// "n" backs out without deleting.
	m = update(t, m, keyRunes("n"))
	assert.Nil(t, m.confirm)

	m = update(t, m, keyRunes("d"))
	m, cmd := updateCmd(t, m, keyRunes("y"))
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	assert.Equal(t, []string{"m1"}, ctrl.deleted)
	assert.Empty(t, m.status)
}

func TestCopyMessage(t *testing.T) {
	var copied string
	prev := copyToClipboard
	copyToClipboard = func(s string) error {
		copied = s
		return nil
	}
	t.Cleanup(func() { copyToClipboard = prev })

	ctrl := newFakeController(sampleSnapshot())
	m := ready(t, ctrl, &fakeHistory{}, Options{})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})

	m, cmd := updateCmd(t, m, keyRunes("c"))
	require.NotNil(t, cmd)
	m = update(t, m, cmd())

	assert.Equal(t, "**hello**", copied)
	assert.Equal(t, "Copied to clipboard", m.status)
}

func TestSidebarSearchOpenAndDelete(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	history := &fakeHistory{list: []api.ChatSummary{
		{ID: "c1", Title: "Greeting"},
		{ID: "c2", Title: "Lisbon trip"},
		{ID: "c3", Title: "Go generics"},
	}}
	recent := chats.NewRecent(filepath.Join(t.TempDir(), "recent"))
	m := ready(t, ctrl, history, Options{Recent: recent, NewChatID: func() string { return "new" }})

	rec, err := recent.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "Greeting", rec.Title)

	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.True(t, m.showSidebar)
	m = update(t, m, cmd())
	require.Len(t, m.shownChats, 3)

	for _, r := range "lis" {
		m = update(t, m, keyRunes(string(r)))
	}
	require.Len(t, m.shownChats, 1)
	assert.Equal(t, "c2", m.shownChats[0].ID)
	assert.Contains(t, m.View(), "Lisbon trip")

	m, cmd = updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.False(t, m.showSidebar)
	m = update(t, m, cmd())
	assert.Equal(t, []string{"c1", "c2"}, ctrl.opened)

	// Deleting the open chat starts a new one.
	m, cmd = updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	m = update(t, m, cmd())
	for i, c := range m.shownChats {
		if c.ID == "c2" {
			m.sidebarIdx = i
		}
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	require.NotNil(t, m.confirm)
	m, cmd = updateCmd(t, m, keyRunes("y"))
	m, cmd = updateCmd(t, m, cmd())
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"c2"}, history.deleted)
	assert.Equal(t, "new", m.target)

	m = update(t, m, cmd())
	assert.Equal(t, []string{"c1", "c2", "new"}, ctrl.opened)
	assert.NotContains(t, idsOf(m.allChats), "c2")
}

func idsOf(list []api.ChatSummary) []string {
	var out []string
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func TestHelpOverlay(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlUnderscore})
	require.True(t, m.showHelp)
	assert.Contains(t, m.View(), "Keyboard shortcuts")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.showHelp)
	assert.Zero(t, ctrl.cancels)
}

func TestThinkingPlaceholder(t *testing.T) {
	snap := sampleSnapshot()
	v, err := snap.View.Apply(conversation.BeginMessage{ID: "a2", Role: conversation.RoleAssistant, Name: "gpt"})
	require.NoError(t, err)
	snap.View = v

	ctrl := newFakeController(snap)
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	assert.True(t, m.thinking())
	assert.Contains(t, m.View(), "Thinking...")
}

func TestStreamErrorShownInStatus(t *testing.T) {
	snap := sampleSnapshot()
	snap.StreamErr = errors.New("event stream ended")
	ctrl := newFakeController(snap)
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	assert.Contains(t, m.statusLine(), "stream disconnected")
}

func TestStaleOpenIgnored(t *testing.T) {
	ctrl := newFakeController(sampleSnapshot())
	m := ready(t, ctrl, &fakeHistory{}, Options{})

	m, _ = updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	require.True(t, m.loading)

	m = update(t, m, openedMsg{chatID: "c1"})
	assert.True(t, m.loading)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a long chat title", 10, "a long ..."},
		{"two\nlines", 20, "two lines"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("é", 30), 10), "..."))
}
