package conversation

import (
	"encoding/json"
	"fmt"
)

// Kind is the wire tag of a stream event.
type Kind string

const (
	KindBeginMessage Kind = "begin_message"
	KindAddChunk     Kind = "add_chunk"
	KindClear        Kind = "clear"
	KindEndMessage   Kind = "end_message"
)

// Event is one item of a chat's event stream. The set of implementations is
// closed: BeginMessage, AddChunk, Clear, EndMessage and Unknown.
type Event interface {
	Kind() Kind
	isEvent()
}

// BeginMessage starts a new, empty message that becomes the append target.
type BeginMessage struct {
	ID       string
	Role     string
	Name     string
	Category string
}

// AddChunk appends text to the append target.
type AddChunk struct {
	Chunk string
}

// Clear empties the view.
type Clear struct{}

// EndMessage closes the append target.
type EndMessage struct{}

// Unknown carries an event whose tag is not recognised.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (BeginMessage) Kind() Kind { return KindBeginMessage }
func (AddChunk) Kind() Kind     { return KindAddChunk }
func (Clear) Kind() Kind        { return KindClear }
func (EndMessage) Kind() Kind   { return KindEndMessage }
func (u Unknown) Kind() Kind    { return Kind(u.Type) }

func (BeginMessage) isEvent() {}
func (AddChunk) isEvent()     {}
func (Clear) isEvent()        {}
func (EndMessage) isEvent()   {}
func (Unknown) isEvent()      {}

// wireEvent is the JSON shape of every event on the stream.
type wireEvent struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Chunk    string `json:"chunk,omitempty"`
}

// DecodeEvent parses one JSON event object. Unrecognised tags decode to
// Unknown rather than failing; only malformed JSON is an error.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch Kind(w.Type) {
	case KindBeginMessage:
		return BeginMessage{ID: w.ID, Role: w.Role, Name: w.Name, Category: w.Category}, nil
	case KindAddChunk:
		return AddChunk{Chunk: w.Chunk}, nil
	case KindClear:
		return Clear{}, nil
	case KindEndMessage:
		return EndMessage{}, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: w.Type, Raw: raw}, nil
	}
}

// EncodeEvent renders an event in its wire form.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case BeginMessage:
		return json.Marshal(wireEvent{Type: string(KindBeginMessage), ID: e.ID, Role: e.Role, Name: e.Name, Category: e.Category})
	case AddChunk:
		return json.Marshal(wireEvent{Type: string(KindAddChunk), Chunk: e.Chunk})
	case Clear:
		return json.Marshal(wireEvent{Type: string(KindClear)})
	case EndMessage:
		return json.Marshal(wireEvent{Type: string(KindEndMessage)})
	case Unknown:
		if len(e.Raw) > 0 {
			return e.Raw, nil
		}
		return json.Marshal(wireEvent{Type: e.Type})
	default:
		return nil, fmt.Errorf("encode event: %w", ErrUnknownEvent)
	}
}
