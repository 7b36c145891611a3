package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowdchat/crowd/internal/conversation"
)

// ErrStreamEnded is recorded when the server closes the stream.
var ErrStreamEnded = errors.New("event stream ended")

// Opener opens the raw event stream of a chat.
type Opener interface {
	OpenEvents(ctx context.Context, chatID string) (io.ReadCloser, error)
}

// Options tunes a subscription. The zero value never reconnects.
type Options struct {
	// ReconnectAttempts is the number of consecutive reconnects tried after
	// the stream drops. Zero leaves a dropped stream closed.
	ReconnectAttempts int
	// ReconnectDelay is the wait before each reconnect. A retry field sent by
	// the server takes precedence.
	ReconnectDelay time.Duration
	// Buffer is the capacity of the events channel.
	Buffer int
}

// Subscription is a live event stream for exactly one chat.
type Subscription struct {
	chatID string
	opener Opener
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	events chan conversation.Event
	done   chan struct{}

	closeOnce sync.Once

	mu   sync.Mutex
	body io.ReadCloser
	err  error
}

// Subscribe opens the event stream of chatID. The first connection is made
// before returning so that an unreachable stream is reported to the caller.
func Subscribe(ctx context.Context, opener Opener, chatID string, opts Options) (*Subscription, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	body, err := opener.OpenEvents(ctx, chatID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream for chat %s: %w", chatID, err)
	}

	s := &Subscription{
		chatID: chatID,
		opener: opener,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan conversation.Event, opts.Buffer),
		done:   make(chan struct{}),
		body:   body,
	}

	log.Debug().Str("chat", chatID).Msg("[stream] subscribed")
	go s.run()
	return s, nil
}

// ChatID returns the chat this subscription belongs to.
func (s *Subscription) ChatID() string {
	return s.chatID
}

// Events delivers decoded events in arrival order. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan conversation.Event {
	return s.events
}

// Err returns why the stream stopped. It is nil while running and after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription and waits for it to wind down. Calling it
// more than once is safe; the connection is closed only once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeBody()
		log.Debug().Str("chat", s.chatID).Msg("[stream] closed")
	})
	<-s.done
	return nil
}

func (s *Subscription) run() {
	defer close(s.done)
	defer close(s.events)

	delay := s.opts.ReconnectDelay
	failures := 0
	var openErr error

	for {
		var (
			err       error
			delivered bool
		)

		s.mu.Lock()
		body := s.body
		s.mu.Unlock()

		if body != nil {
			var retry time.Duration
			retry, delivered, err = s.pump(body)
			if retry > 0 {
				delay = retry
			}
			s.closeBody()
		} else {
			err = openErr
		}

		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) || err == nil {
			err = ErrStreamEnded
		}
		if delivered {
			failures = 0
		}

		if failures >= s.opts.ReconnectAttempts {
			log.Warn().Err(err).Str("chat", s.chatID).Msg("[stream] event stream stopped")
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		failures++

		log.Info().Err(err).Str("chat", s.chatID).
			Int("attempt", failures).Dur("delay", delay).
			Msg("[stream] reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := s.opener.OpenEvents(s.ctx, s.chatID)
		openErr = err
		if err != nil {
			log.Warn().Err(err).Str("chat", s.chatID).Msg("[stream] reconnect failed")
			continue
		}

		s.mu.Lock()
		s.body = next
		s.mu.Unlock()
		// Close may have raced with the reconnect.
		if s.ctx.Err() != nil {
			s.closeBody()
			return
		}
	}
}

// pump decodes frames from body until it fails or the subscription closes.
func (s *Subscription) pump(body io.Reader) (retry time.Duration, delivered bool, err error) {
	dec := NewDecoder(body)
	for {
		frame, err := dec.Next()
		if err != nil {
			return dec.Retry(), delivered, err
		}

		// Only unnamed events carry chat updates.
		if frame.Event != "" && frame.Event != "message" {
			log.Debug().Str("chat", s.chatID).Str("event", frame.Event).Msg("[stream] ignoring named event")
			continue
		}

		ev, err := conversation.DecodeEvent([]byte(frame.Data))
		if err != nil {
			log.Warn().Err(err).Str("chat", s.chatID).Msg("[stream] skipping malformed event")
			continue
		}

		select {
		case s.events <- ev:
			delivered = true
		case <-s.ctx.Done():
			return dec.Retry(), delivered, s.ctx.Err()
		}
	}
}

func (s *Subscription) closeBody() {
	s.mu.Lock()
	body := s.body
	s.body = nil
	s.mu.Unlock()

	if body != nil {
		_ = body.Close()
	}
}
