// Package stream reads a chat's server-sent event stream.
package stream

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxLineSize = 1024 * 1024

// Frame is one dispatched server-sent event.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// Decoder splits an SSE byte stream into frames.
type Decoder struct {
	scanner *bufio.Scanner
	retry   time.Duration
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLines)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame with data. It returns io.EOF when the stream
// ends cleanly; a partially received frame at EOF is discarded.
func (d *Decoder) Next() (Frame, error) {
	var (
		frame   Frame
		data    strings.Builder
		hasData bool
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()

		// Blank line dispatches the frame.
		if line == "" {
			if !hasData {
				frame = Frame{}
				continue
			}
			frame.Data = data.String()
			return frame, nil
		}

		// Comment (used for keep-alives).
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			frame.Event = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				frame.ID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				d.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// Retry returns the last reconnection delay sent by the server, zero if none.
func (d *Decoder) Retry() time.Duration {
	return d.retry
}

// scanLines is bufio.ScanLines extended to accept a lone CR as a line ending,
// which the event-stream format allows.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// CR: swallow a following LF if we can see it.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// Need more data to decide between CR and CRLF.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
