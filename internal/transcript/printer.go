// Package transcript prints a chat as plain text, streaming new content as
// the view grows.
package transcript

import (
	"fmt"
	"io"
	"strings"

	"github.com/crowdchat/crowd/internal/conversation"
)

// Printer writes the part of a view it has not written yet.
type Printer struct {
	w       io.Writer
	printed map[string]int
	last    string
	midLine bool
	started bool
	clears  int
}

// NewPrinter returns a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, printed: make(map[string]int)}
}

// Skip marks everything in v as already written.
func (p *Printer) Skip(v conversation.View) {
	p.started = true
	p.clears = v.Clears
	for _, m := range v.Messages {
		p.printed[m.ID] = len(m.Content)
	}
}

// Update writes new messages and appended content of v.
func (p *Printer) Update(v conversation.View) error {
	if !p.started {
		p.started = true
		p.clears = v.Clears
	}
	if v.Clears != p.clears {
		// Anything printed before the clear is gone, even if new messages
		// already arrived in the same update.
		p.clears = v.Clears
		p.endLine()
		if _, err := fmt.Fprintln(p.w, "--- chat cleared ---"); err != nil {
			return err
		}
		p.printed = make(map[string]int)
		p.last = ""
	}

	for _, m := range v.Messages {
		n, seen := p.printed[m.ID]
		if seen && len(m.Content) <= n {
			continue
		}

		if m.ID != p.last {
			p.endLine()
			if _, err := fmt.Fprintf(p.w, "%s: ", sender(m)); err != nil {
				return err
			}
			p.last = m.ID
			p.midLine = true
		}

		chunk := m.Content[n:]
		if _, err := io.WriteString(p.w, chunk); err != nil {
			return err
		}
		p.printed[m.ID] = len(m.Content)
		p.midLine = !strings.HasSuffix(chunk, "\n")
	}

	// A closed message ends its line.
	if open, ok := v.Open(); p.last != "" && (!ok || open.ID != p.last) {
		p.endLine()
	}
	return nil
}

// Flush terminates a partially written line.
func (p *Printer) Flush() {
	p.endLine()
}

func (p *Printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

func sender(m conversation.Message) string {
	name := m.Name
	if name == "" {
		name = m.Role
	}
	if m.Category != "" {
		name += " [" + m.Category + "]"
	}
	return name
}
