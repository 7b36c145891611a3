// Package chatsync keeps an open chat's messages in step with the backend:
// the persisted state, the live event stream and the user's own submissions
// and deletions.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crowdchat/crowd/internal/api"
	"github.com/crowdchat/crowd/internal/conversation"
	"github.com/crowdchat/crowd/internal/stream"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotOpen         = errors.New("no chat is open")
	ErrNotLoaded       = errors.New("chat is not loaded")
)

// LoadError is returned by Open when the chat state could not be loaded.
type LoadError struct {
	ChatID string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load chat %s: %v", e.ChatID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Backend is the part of the chat API a Sync needs. *api.Client implements it.
type Backend interface {
	stream.Opener
	State(ctx context.Context, chatID string) (*api.State, error)
	Assistants(ctx context.Context) ([]api.Assistant, error)
	SendMessage(ctx context.Context, chatID string, req api.SendRequest) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	SetAssistant(ctx context.Context, chatID, assistant string) error
}

// Options configures a Sync.
type Options struct {
	// UserName is the display name of locally submitted messages.
	UserName string
	// DefaultAssistant is used when the chat has no assistant selected.
	DefaultAssistant string
	// CancelSuperseded cancels the previous post when a new one replaces it.
	CancelSuperseded bool
	Stream           stream.Options
	// NewID generates message ids. Defaults to random UUIDs.
	NewID func() string
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	ChatID     string
	Title      string
	View       conversation.View
	Assistant  string
	Assistants []api.Assistant
	// Pending is set while a tracked post is in flight.
	Pending   bool
	Streaming bool
	StreamErr error
}

// Sync is the controller of one open chat at a time.
type Sync struct {
	backend Backend
	opts    Options

	// opMu serialises Open and Close.
	opMu sync.Mutex
	wg   sync.WaitGroup

	mu         sync.Mutex
	chatID     string
	// gen changes on every Open, so late results of an earlier open of the
	// same chat can be told apart.
	gen        uint64
	ready      bool
	opening    *opening
	title      string
	view       conversation.View
	assistant  string
	assistants []api.Assistant
	pending    *Pending
	sub        *stream.Subscription
	subCancel  context.CancelFunc
	streamErr  error

	updates chan struct{}
}

// opening is an Open in progress.
type opening struct {
	cancel context.CancelFunc
}

// New creates a controller with no chat open.
func New(backend Backend, opts Options) *Sync {
	if opts.UserName == "" {
		opts.UserName = "You"
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Sync{
		backend: backend,
		opts:    opts,
		updates: make(chan struct{}, 1),
	}
}

// Updates signals that the state changed. Signals are coalesced; read the
// current state with Snapshot.
func (s *Sync) Updates() <-chan struct{} {
	return s.updates
}

func (s *Sync) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Open loads chatID and attaches its event stream. Any previously open chat
// is closed first, so its events can no longer reach the view. A load failure
// returns *LoadError and leaves the stream detached.
//
// Open gives up when ctx ends, and a later Open or Close aborts an Open that
// is still waiting on the network.
func (s *Sync) Open(ctx context.Context, chatID string) error {
	ctx, cancel := context.WithCancel(ctx)
	op := &opening{cancel: cancel}
	s.mu.Lock()
	if s.opening != nil {
		s.opening.cancel()
	}
	s.opening = op
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if s.opening == op {
			s.opening = nil
		}
		s.mu.Unlock()
	}()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.detach()

	s.mu.Lock()
	s.gen++
	s.ready = false
	s.chatID = chatID
	s.title = ""
	s.view = conversation.View{}
	s.assistant = ""
	s.pending = nil
	s.streamErr = nil
	s.mu.Unlock()
	s.notify()

	st, err := s.backend.State(ctx, chatID)
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("[chatsync] failed to load chat")
		return &LoadError{ChatID: chatID, Err: err}
	}

	assistants, err := s.backend.Assistants(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[chatsync] failed to fetch assistants")
	}

	assistant := st.Assistant
	if assistant == "" {
		assistant = s.opts.DefaultAssistant
	}
	if assistant == "" && len(assistants) > 0 {
		assistant = assistants[0].Name
	}

	s.mu.Lock()
	s.title = st.Title
	s.view = conversation.NewView(st.Messages)
	s.assistant = assistant
	if err == nil {
		s.assistants = assistants
	}
	s.ready = true
	s.mu.Unlock()

	log.Info().Str("chat", chatID).Int("messages", len(st.Messages)).Msg("[chatsync] chat loaded")

	// The subscription outlives this call, so it gets its own context. ctx
	// only bounds the first connect.
	subCtx, subCancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, subCancel)
	sub, err := stream.Subscribe(subCtx, s.backend, chatID, s.opts.Stream)
	aborted := !stop()
	if aborted && err == nil {
		_ = sub.Close()
		err = ctx.Err()
	}
	if err != nil {
		subCancel()
		log.Warn().Err(err).Str("chat", chatID).Msg("[chatsync] failed to attach event stream")
		s.mu.Lock()
		s.streamErr = err
		s.mu.Unlock()
		s.notify()
		if aborted {
			return fmt.Errorf("attach event stream for chat %s: %w", chatID, ctx.Err())
		}
		return nil
	}

	s.mu.Lock()
	s.sub = sub
	s.subCancel = subCancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pump(sub)

	s.notify()
	return nil
}

// Close detaches the event stream. The view stays readable. A tracked post
// keeps running.
func (s *Sync) Close() error {
	s.mu.Lock()
	if s.opening != nil {
		s.opening.cancel()
	}
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.detach()
	s.notify()
	return nil
}

// detach closes the current subscription and waits for its pump to exit.
func (s *Sync) detach() {
	s.mu.Lock()
	sub, subCancel := s.sub, s.subCancel
	s.sub, s.subCancel = nil, nil
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	if subCancel != nil {
		subCancel()
	}
	s.wg.Wait()
}

func (s *Sync) pump(sub *stream.Subscription) {
	defer s.wg.Done()

	for ev := range sub.Events() {
		s.mu.Lock()
		if s.sub != sub {
			s.mu.Unlock()
			continue
		}
		next, err := s.view.Apply(ev)
		s.view = next
		s.mu.Unlock()

		logApplyError(sub.ChatID(), ev, err)
		s.notify()
	}

	s.mu.Lock()
	if s.sub == sub {
		s.sub = nil
		s.streamErr = sub.Err()
	}
	s.mu.Unlock()
	s.notify()
}

func logApplyError(chatID string, ev conversation.Event, err error) {
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrNoAppendTarget):
		log.Debug().Str("chat", chatID).Msg("[chatsync] chunk without open message dropped")
	case errors.Is(err, conversation.ErrUnknownEvent):
		log.Warn().Str("chat", chatID).Str("type", string(ev.Kind())).Msg("[chatsync] unknown event ignored")
	default:
		log.Warn().Err(err).Str("chat", chatID).Msg("[chatsync] event not applied")
	}
}

// ApplyEvent applies one event to the view.
func (s *Sync) ApplyEvent(ev conversation.Event) error {
	s.mu.Lock()
	next, err := s.view.Apply(ev)
	s.view = next
	s.mu.Unlock()

	s.notify()
	return err
}

// Submit appends a user message to the view and posts it in the background.
// The message stays even if the post fails or is cancelled. The returned
// Pending becomes the tracked request, replacing any earlier one.
func (s *Sync) Submit(text string) (*Pending, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if err := s.checkReady(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	id := s.opts.NewID()
	for s.view.Has(id) {
		id = s.opts.NewID()
	}
	s.view = s.view.AppendUser(id, s.opts.UserName, text)

	ctx, cancel := context.WithCancel(context.Background())
	p := newPending(id, cancel)
	prev := s.pending
	s.pending = p

	chatID := s.chatID
	req := api.SendRequest{ID: id, Content: text, Assistant: s.assistant}
	s.mu.Unlock()

	if prev != nil && s.opts.CancelSuperseded {
		log.Debug().Str("message", prev.MessageID).Msg("[chatsync] cancelling superseded post")
		prev.Cancel()
	}
	s.notify()

	go s.send(ctx, chatID, req, p)
	return p, nil
}

func (s *Sync) send(ctx context.Context, chatID string, req api.SendRequest, p *Pending) {
	err := s.backend.SendMessage(ctx, chatID, req)
	p.cancel()
	p.finish(err)

	switch {
	case err == nil:
		log.Debug().Str("chat", chatID).Str("message", req.ID).Msg("[chatsync] message posted")
	case errors.Is(err, context.Canceled):
		log.Info().Str("chat", chatID).Str("message", req.ID).Msg("[chatsync] post cancelled")
	default:
		log.Warn().Err(err).Str("chat", chatID).Str("message", req.ID).Msg("[chatsync] post failed")
	}

	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
	s.notify()
}

// CancelPending cancels the tracked post. It reports whether there was one.
func (s *Sync) CancelPending() bool {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p == nil {
		return false
	}
	p.Cancel()
	s.notify()
	return true
}

// Delete removes a message locally and then on the backend. If the backend
// call fails the view is put back exactly as it was before the delete, unless
// the chat was opened again in the meantime.
func (s *Sync) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if err := s.checkReady(); err != nil {
		s.mu.Unlock()
		return err
	}
	before := s.view
	next, ok := s.view.Remove(messageID)
	if !ok {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	s.view = next
	chatID, gen := s.chatID, s.gen
	s.mu.Unlock()
	s.notify()

	if err := s.backend.DeleteMessage(ctx, chatID, messageID); err != nil {
		log.Warn().Err(err).Str("chat", chatID).Str("message", messageID).Msg("[chatsync] delete failed, restoring")
		s.mu.Lock()
		if s.gen == gen {
			s.view = before
		}
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// SetAssistant selects the assistant used for the next posts.
func (s *Sync) SetAssistant(ctx context.Context, name string) error {
	s.mu.Lock()
	if err := s.checkReady(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.assistant = name
	chatID := s.chatID
	s.mu.Unlock()
	s.notify()

	if err := s.backend.SetAssistant(ctx, chatID, name); err != nil {
		return fmt.Errorf("set assistant: %w", err)
	}
	return nil
}

// checkReady reports whether user operations may run. Callers hold s.mu.
func (s *Sync) checkReady() error {
	switch {
	case s.chatID == "":
		return ErrNotOpen
	case !s.ready:
		return ErrNotLoaded
	}
	return nil
}

// ChatID returns the open chat, or "" if none.
func (s *Sync) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// Snapshot returns a copy of the current state.
func (s *Sync) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ChatID:     s.chatID,
		Title:      s.title,
		View:       s.view.Clone(),
		Assistant:  s.assistant,
		Assistants: append([]api.Assistant(nil), s.assistants...),
		Pending:    s.pending != nil,
		Streaming:  s.sub != nil,
		StreamErr:  s.streamErr,
	}
}
