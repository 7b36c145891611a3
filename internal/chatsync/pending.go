package chatsync

import (
	"context"
	"sync"
)

// Pending is an in-flight message post. Its cancel func is the only way to
// abort the request.
type Pending struct {
	MessageID string

	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	err  error
}

func newPending(id string, cancel context.CancelFunc) *Pending {
	return &Pending{
		MessageID: id,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Cancel aborts the post if it is still running.
func (p *Pending) Cancel() {
	p.cancel()
}

// Done is closed when the post has finished, failed or been cancelled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the outcome of the post. It is only meaningful after Done.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Pending) finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}
