// Package conversation holds the message model of an open chat and the
// reducer that folds stream events into it.
package conversation

import (
	"errors"
	"slices"
)

// Well-known roles. The backend may send others.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNoAppendTarget is reported when a chunk arrives and no message is open.
	ErrNoAppendTarget = errors.New("no open message to append to")

	// ErrUnknownEvent is reported for event types the reducer does not handle.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Message is a single chat message.
type Message struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

// View is the ordered message list of one chat plus its append target.
//
// A View is a value. Apply, AppendUser and Remove return a new View and never
// write through to the receiver's backing array, so a View can be kept as a
// snapshot and restored later.
type View struct {
	Messages []Message
	// OpenID is the id of the message receiving chunks, or "" if none.
	OpenID string
	// Clears counts clear events applied since the view was loaded.
	Clears int
}

// NewView builds a view from a loaded message list. Loaded messages are closed.
func NewView(messages []Message) View {
	return View{Messages: slices.Clone(messages)}
}

// Len returns the number of messages.
func (v View) Len() int {
	return len(v.Messages)
}

// Index returns the position of the message with the given id, or -1.
func (v View) Index(id string) int {
	return slices.IndexFunc(v.Messages, func(m Message) bool { return m.ID == id })
}

// Has reports whether a message with the given id exists.
func (v View) Has(id string) bool {
	return v.Index(id) >= 0
}

// Open returns the current append target.
func (v View) Open() (Message, bool) {
	if v.OpenID == "" {
		return Message{}, false
	}
	i := v.Index(v.OpenID)
	if i < 0 {
		return Message{}, false
	}
	return v.Messages[i], true
}

// Clone returns a deep copy of the view.
func (v View) Clone() View {
	return View{Messages: slices.Clone(v.Messages), OpenID: v.OpenID, Clears: v.Clears}
}

// Apply folds one event into the view.
//
// On error the returned view equals the receiver. Errors are informational:
// ErrNoAppendTarget for a chunk without an open message and ErrUnknownEvent
// for unrecognised tags. Callers log them and carry on.
func (v View) Apply(ev Event) (View, error) {
	switch e := ev.(type) {
	case BeginMessage:
		msgs := make([]Message, len(v.Messages), len(v.Messages)+1)
		copy(msgs, v.Messages)
		msgs = append(msgs, Message{
			ID:       e.ID,
			Role:     e.Role,
			Name:     e.Name,
			Category: e.Category,
		})
		return View{Messages: msgs, OpenID: e.ID, Clears: v.Clears}, nil

	case AddChunk:
		i := -1
		if v.OpenID != "" {
			i = v.Index(v.OpenID)
		}
		if i < 0 {
			return v, ErrNoAppendTarget
		}
		msgs := slices.Clone(v.Messages)
		msgs[i].Content += e.Chunk
		return View{Messages: msgs, OpenID: v.OpenID, Clears: v.Clears}, nil

	case Clear:
		return View{Clears: v.Clears + 1}, nil

	case EndMessage:
		return View{Messages: v.Messages, Clears: v.Clears}, nil

	case Unknown:
		return v, ErrUnknownEvent

	default:
		return v, ErrUnknownEvent
	}
}

// AppendUser appends a locally authored user message. The append target is
// left alone so an assistant reply that is still streaming keeps its chunks.
func (v View) AppendUser(id, name, content string) View {
	msgs := make([]Message, len(v.Messages), len(v.Messages)+1)
	copy(msgs, v.Messages)
	msgs = append(msgs, Message{
		ID:      id,
		Role:    RoleUser,
		Name:    name,
		Content: content,
	})
	return View{Messages: msgs, OpenID: v.OpenID, Clears: v.Clears}
}

// Remove drops the message with the given id. Removing the open message
// closes the append target.
func (v View) Remove(id string) (View, bool) {
	i := v.Index(id)
	if i < 0 {
		return v, false
	}
	msgs := make([]Message, 0, len(v.Messages)-1)
	msgs = append(msgs, v.Messages[:i]...)
	msgs = append(msgs, v.Messages[i+1:]...)

	open := v.OpenID
	if open == id {
		open = ""
	}
	return View{Messages: msgs, OpenID: open, Clears: v.Clears}, true
}
