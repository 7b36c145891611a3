package transcript

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdchat/crowd/internal/conversation"
)

func apply(t *testing.T, v conversation.View, evs ...conversation.Event) conversation.View {
	t.Helper()
	var err error
	for _, ev := range evs {
		v, err = v.Apply(ev)
		require.NoError(t, err)
	}
	return v
}

func TestPrinterHistory(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	v := conversation.NewView([]conversation.Message{
		{ID: "1", Role: conversation.RoleUser, Name: "You", Content: "hi"},
		{ID: "2", Role: conversation.RoleAssistant, Name: "Helper", Content: "hello", Category: "answer"},
	})
	require.NoError(t, p.Update(v))

	assert.Equal(t, "You: hi\nHelper [answer]: hello\n", buf.String())

	// Nothing new, nothing written.
	require.NoError(t, p.Update(v))
	assert.Equal(t, "You: hi\nHelper [answer]: hello\n", buf.String())
}

func TestPrinterStreaming(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	v := conversation.NewView(nil)
	v = apply(t, v, conversation.BeginMessage{ID: "a", Role: conversation.RoleAssistant, Name: "Bot"})
	require.NoError(t, p.Update(v))
	assert.Equal(t, "Bot: ", buf.String())

	v = apply(t, v, conversation.AddChunk{Chunk: "Hel"})
	require.NoError(t, p.Update(v))
	v = apply(t, v, conversation.AddChunk{Chunk: "lo"})
	require.NoError(t, p.Update(v))
	assert.Equal(t, "Bot: Hello", buf.String())

	v = apply(t, v, conversation.EndMessage{})
	require.NoError(t, p.Update(v))
	assert.Equal(t, "Bot: Hello\n", buf.String())
}

func TestPrinterInterleaved(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	v := apply(t, conversation.NewView(nil),
		conversation.BeginMessage{ID: "a", Role: conversation.RoleAssistant, Name: "Bot"},
		conversation.AddChunk{Chunk: "one"},
	)
	require.NoError(t, p.Update(v))

	v = v.AppendUser("u", "You", "stop")
	require.NoError(t, p.Update(v))

	v = apply(t, v, conversation.AddChunk{Chunk: " two"}, conversation.EndMessage{})
	require.NoError(t, p.Update(v))

	assert.Equal(t, "Bot: one\nYou: stop\nBot:  two\n", buf.String())
}

func TestPrinterClear(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	v := conversation.NewView([]conversation.Message{{ID: "1", Role: conversation.RoleUser, Name: "You", Content: "x"}})
	require.NoError(t, p.Update(v))

	v = apply(t, v, conversation.Clear{})
	require.NoError(t, p.Update(v))

	v = v.AppendUser("1", "You", "again")
	require.NoError(t, p.Update(v))

	assert.Equal(t, "You: x\n--- chat cleared ---\nYou: again\n", buf.String())
}

func TestPrinterFlush(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	v := apply(t, conversation.NewView(nil),
		conversation.BeginMessage{ID: "a", Role: conversation.RoleAssistant},
		conversation.AddChunk{Chunk: "partial"},
	)
	require.NoError(t, p.Update(v))
	p.Flush()
	p.Flush()

	assert.Equal(t, "assistant: partial\n", buf.String())
}

func TestPrinterSkip(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	v := conversation.NewView([]conversation.Message{{ID: "old", Role: conversation.RoleUser, Name: "You", Content: "earlier"}})
	p.Skip(v)

	v = v.AppendUser("new", "You", "now")
	require.NoError(t, p.Update(v))

	assert.Equal(t, "You: now\n", buf.String())
}

func TestPrinterClearCoalescedWithNewMessage(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	v := apply(t, conversation.NewView(nil),
		conversation.BeginMessage{ID: "a", Role: conversation.RoleAssistant, Name: "Bot"},
		conversation.AddChunk{Chunk: "first answer"},
		conversation.EndMessage{},
	)
	require.NoError(t, p.Update(v))

	// Clear and a new message with a reused id land in one update.
	v = apply(t, v,
		conversation.Clear{},
		conversation.BeginMessage{ID: "a", Role: conversation.RoleAssistant, Name: "Bot"},
		conversation.AddChunk{Chunk: "again"},
		conversation.EndMessage{},
	)
	require.NoError(t, p.Update(v))

	assert.Equal(t, "Bot: first answer\n--- chat cleared ---\nBot: again\n", buf.String())
}
