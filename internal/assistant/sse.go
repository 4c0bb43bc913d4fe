// ABOUTME: Server-sent event decoder for upstream run streams
// ABOUTME: Splits an event-stream body into (event, data) pairs per the text/event-stream framing

package assistant

import (
	"bufio"
	"io"
	"strings"
)

// maxEventLine bounds a single SSE line; message deltas can carry large JSON payloads.
const maxEventLine = 1 << 20

// sseReader decodes a text/event-stream body
type sseReader struct {
	scanner *bufio.Scanner
	body    io.Closer
}

func newSSEReader(body io.ReadCloser) *sseReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return &sseReader{scanner: scanner, body: body}
}

// Recv returns the next dispatched event. Comment lines and events with no
// data are skipped. Returns io.EOF when the body ends.
func (r *sseReader) Recv() (StreamEvent, error) {
	var event string
	var data []string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if len(data) == 0 {
				event = ""
				continue
			}
			if event == "" {
				event = "message"
			}
			return StreamEvent{Event: event, Data: strings.Join(data, "\n")}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return StreamEvent{}, err
	}

	// Dispatch a final event that was not followed by a blank line
	if len(data) > 0 {
		if event == "" {
			event = "message"
		}
		return StreamEvent{Event: event, Data: strings.Join(data, "\n")}, nil
	}
	return StreamEvent{}, io.EOF
}

// Close releases the underlying body
func (r *sseReader) Close() error {
	return r.body.Close()
}
