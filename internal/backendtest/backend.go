// Package backendtest is an in-memory chat backend for tests. It serves the
// same REST and event-stream routes as the real backend.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/crowdchat/crowd/internal/conversation"
)

// Op names a backend route for failure injection.
type Op string

const (
	OpChats         Op = "chats"
	OpDeleteChat    Op = "delete_chat"
	OpState         Op = "state"
	OpAssistants    Op = "assistants"
	OpEvents        Op = "events"
	OpSend          Op = "send"
	OpDeleteMessage Op = "delete_message"
	OpSetAssistant  Op = "set_assistant"
)

// Chat is the stored state of one chat.
type Chat struct {
	Title       string
	Assistant   string
	Messages    []conversation.Message
	LastUpdated time.Time
}

// Post is a received message post.
type Post struct {
	ChatID    string
	ID        string `json:"id"`
	Content   string `json:"content"`
	Assistant string `json:"assistant"`
}

type subscriber struct {
	frames chan []byte
	done   chan struct{}
	kick   chan struct{}
}

// Backend is a fake chat server.
type Backend struct {
	// Echo makes every post answered with a streamed assistant echo.
	Echo bool

	mu          sync.Mutex
	chats       map[string]*Chat
	assistants  []string
	subs        map[string]map[*subscriber]struct{}
	failures    map[Op]int
	posts       []Post
	cancelled   []string
	deleted     []string
	putBodies   []string
	sendGate    chan struct{}
	held        int
	streamsSeen map[string]int

	router chi.Router
}

// New returns an empty backend offering the given assistants.
func New(assistants ...string) *Backend {
	b := &Backend{
		chats:       make(map[string]*Chat),
		assistants:  assistants,
		subs:        make(map[string]map[*subscriber]struct{}),
		failures:    make(map[Op]int),
		streamsSeen: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/chats", b.listChats)
	r.Get("/assistants", b.listAssistants)
	r.Delete("/{chatID}", b.deleteChat)
	r.Get("/{chatID}/state", b.state)
	r.Get("/{chatID}/events", b.events)
	r.Post("/{chatID}/message", b.postMessage)
	r.Delete("/{chatID}/message/{messageID}", b.deleteMessage)
	r.Put("/{chatID}/assistant", b.setAssistant)
	b.router = r

	return b
}

// Handler returns the HTTP handler of the backend.
func (b *Backend) Handler() http.Handler {
	return b.router
}

// Start serves the backend on a local test server.
func (b *Backend) Start(tb interface {
	Helper()
	Cleanup(func())
}) *httptest.Server {
	tb.Helper()
	srv := httptest.NewServer(b.router)
	tb.Cleanup(func() {
		b.ReleaseSends()
		b.DropStreams("")
		srv.Close()
	})
	return srv
}

// AddChat stores a chat.
func (b *Backend) AddChat(id string, chat Chat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := chat
	c.Messages = append([]conversation.Message(nil), chat.Messages...)
	if c.LastUpdated.IsZero() {
		c.LastUpdated = time.Now()
	}
	b.chats[id] = &c
}

// Chat returns a copy of a stored chat.
func (b *Backend) Chat(id string) (Chat, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[id]
	if !ok {
		return Chat{}, false
	}
	out := *c
	out.Messages = append([]conversation.Message(nil), c.Messages...)
	return out, true
}

// Fail makes every call to op answer with status. Zero clears it.
func (b *Backend) Fail(op Op, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, op)
		return
	}
	b.failures[op] = status
}

// HoldSends makes message posts wait until ReleaseSends or until the client
// gives up.
func (b *Backend) HoldSends() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendGate == nil {
		b.sendGate = make(chan struct{})
	}
}

// ReleaseSends lets held posts complete.
func (b *Backend) ReleaseSends() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendGate != nil {
		close(b.sendGate)
		b.sendGate = nil
	}
}

// Held returns the number of posts currently waiting on HoldSends.
func (b *Backend) Held() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held
}

// Posts returns the completed message posts.
func (b *Backend) Posts() []Post {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Post(nil), b.posts...)
}

// Cancelled returns ids of posts abandoned by the client while held.
func (b *Backend) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

// Deleted returns "chat/message" keys of deleted messages.
func (b *Backend) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

// AssistantBodies returns the raw bodies received by the assistant route.
func (b *Backend) AssistantBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.putBodies...)
}

// Subscribers returns the number of open event streams of a chat.
func (b *Backend) Subscribers(chatID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[chatID])
}

// StreamsOpened returns how many event streams were ever opened for a chat.
func (b *Backend) StreamsOpened(chatID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamsSeen[chatID]
}

// Emit sends an event to every open stream of a chat.
func (b *Backend) Emit(chatID string, ev conversation.Event) {
	data, err := conversation.EncodeEvent(ev)
	if err != nil {
		panic(fmt.Sprintf("backendtest: encode event: %v", err))
	}
	b.EmitRaw(chatID, "data: "+string(data)+"\n\n")
}

// EmitRaw writes a raw event-stream fragment to every open stream of a chat.
func (b *Backend) EmitRaw(chatID, frame string) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs[chatID]))
	for s := range b.subs[chatID] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.frames <- []byte(frame):
		case <-s.done:
		}
	}
}

// DropStreams ends the open event streams of a chat, or of all chats when
// chatID is empty, the way a lost connection would.
func (b *Backend) DropStreams(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, set := range b.subs {
		if chatID != "" && id != chatID {
			continue
		}
		for s := range set {
			select {
			case <-s.kick:
			default:
				close(s.kick)
			}
		}
	}
}

func (b *Backend) failure(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[op]
}

func (b *Backend) fail(w http.ResponseWriter, op Op) bool {
	if status := b.failure(op); status != 0 {
		http.Error(w, fmt.Sprintf("injected %s failure", op), status)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("[backendtest] write response")
	}
}

func (b *Backend) listChats(w http.ResponseWriter, r *http.Request) {
	if b.fail(w, OpChats) {
		return
	}

	type summary struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		LastUpdated string `json:"last_updated"`
	}

	b.mu.Lock()
	out := make([]summary, 0, len(b.chats))
	for id, c := range b.chats {
		out = append(out, summary{ID: id, Title: c.Title, LastUpdated: c.LastUpdated.UTC().Format(time.RFC3339)})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated > out[j].LastUpdated })
	writeJSON(w, out)
}

func (b *Backend) listAssistants(w http.ResponseWriter, r *http.Request) {
	if b.fail(w, OpAssistants) {
		return
	}

	type assistant struct {
		Name string `json:"name"`
	}

	b.mu.Lock()
	out := make([]assistant, 0, len(b.assistants))
	for _, name := range b.assistants {
		out = append(out, assistant{Name: name})
	}
	b.mu.Unlock()

	writeJSON(w, out)
}

func (b *Backend) deleteChat(w http.ResponseWriter, r *http.Request) {
	if b.fail(w, OpDeleteChat) {
		return
	}
	chatID := chi.URLParam(r, "chatID")

	b.mu.Lock()
	_, ok := b.chats[chatID]
	delete(b.chats, chatID)
	b.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) state(w http.ResponseWriter, r *http.Request) {
	if b.fail(w, OpState) {
		return
	}
	chatID := chi.URLParam(r, "chatID")

	type state struct {
		Assistant string                 `json:"assistant"`
		Title     string                 `json:"title"`
		Messages  []conversation.Message `json:"messages"`
	}

	b.mu.Lock()
	out := state{Title: "New chat", Messages: []conversation.Message{}}
	if len(b.assistants) > 0 {
		out.Assistant = b.assistants[0]
	}
	if c, ok := b.chats[chatID]; ok {
		out.Title = c.Title
		out.Assistant = c.Assistant
		out.Messages = append(out.Messages, c.Messages...)
	}
	b.mu.Unlock()

	writeJSON(w, out)
}

func (b *Backend) events(w http.ResponseWriter, r *http.Request) {
	if b.fail(w, OpEvents) {
		return
	}
	chatID := chi.URLParam(r, "chatID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s := &subscriber{
		frames: make(chan []byte, 256),
		done:   make(chan struct{}),
		kick:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[chatID] == nil {
		b.subs[chatID] = make(map[*subscriber]struct{})
	}
	b.subs[chatID][s] = struct{}{}
	b.streamsSeen[chatID]++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs[chatID], s)
		b.mu.Unlock()
		close(s.done)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case frame := <-s.frames:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-s.kick:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (b *Backend) postMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var p Post
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.ChatID = chatID

	b.mu.Lock()
	gate := b.sendGate
	b.mu.Unlock()

	if gate != nil {
		b.mu.Lock()
		b.held++
		b.mu.Unlock()

		select {
		case <-gate:
			b.mu.Lock()
			b.held--
			b.mu.Unlock()
		case <-r.Context().Done():
			b.mu.Lock()
			b.held--
			b.cancelled = append(b.cancelled, p.ID)
			b.mu.Unlock()
			return
		}
	}

	if b.fail(w, OpSend) {
		return
	}

	b.mu.Lock()
	c, ok := b.chats[chatID]
	if !ok {
		c = &Chat{Title: truncateTitle(p.Content), Assistant: p.Assistant}
		b.chats[chatID] = c
	}
	c.Messages = append(c.Messages, conversation.Message{ID: p.ID, Role: conversation.RoleUser, Name: "You", Content: p.Content})
	c.LastUpdated = time.Now()
	b.posts = append(b.posts, p)
	echo := b.Echo
	b.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)

	if echo {
		go b.echo(chatID, p)
	}
}

func (b *Backend) echo(chatID string, p Post) {
	id := "echo-" + p.ID
	name := p.Assistant
	if name == "" {
		name = "echo"
	}
	b.Emit(chatID, conversation.BeginMessage{ID: id, Role: conversation.RoleAssistant, Name: name})
	for _, word := range strings.SplitAfter(p.Content, " ") {
		b.Emit(chatID, conversation.AddChunk{Chunk: word})
	}
	b.Emit(chatID, conversation.EndMessage{})

	b.mu.Lock()
	if c, ok := b.chats[chatID]; ok {
		c.Messages = append(c.Messages, conversation.Message{ID: id, Role: conversation.RoleAssistant, Name: name, Content: p.Content})
	}
	b.mu.Unlock()
}

func (b *Backend) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if b.fail(w, OpDeleteMessage) {
		return
	}
	chatID := chi.URLParam(r, "chatID")
	messageID := chi.URLParam(r, "messageID")

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.chats[chatID]; ok {
		kept := c.Messages[:0]
		for _, m := range c.Messages {
			if m.ID != messageID {
				kept = append(kept, m)
			}
		}
		c.Messages = kept
	}
	b.deleted = append(b.deleted, chatID+"/"+messageID)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) setAssistant(w http.ResponseWriter, r *http.Request) {
	if b.fail(w, OpSetAssistant) {
		return
	}
	chatID := chi.URLParam(r, "chatID")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.putBodies = append(b.putBodies, string(data))
	if c, ok := b.chats[chatID]; ok {
		c.Assistant = string(data)
	}
	w.WriteHeader(http.StatusNoContent)
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 40 {
		return s[:40]
	}
	return s
}

// WaitFor polls cond until it holds or ctx ends.
func WaitFor(ctx context.Context, cond func() bool) bool {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
