package responses

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/provider"
)

// maxEventSize bounds a single SSE data line. Completed responses echo
// the whole output, so the scanner default of 64 KiB is too small.
const maxEventSize = 4 << 20

// parseSSEStream reads Responses API SSE frames from r and forwards each as
// a RawEvent. The channel is closed when the stream ends, the backend sends
// [DONE], or ctx is cancelled. A read error, or a stream that ends before
// any terminal event, is forwarded as a final event with Err set.
func parseSSEStream(ctx context.Context, r io.Reader, ch chan<- provider.RawEvent) {
	defer close(ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var (
		eventType string
		data      strings.Builder
		terminal  bool
	)

	// dispatch emits the buffered frame. It returns false when the
	// consumer is gone.
	dispatch := func() bool {
		defer func() {
			eventType = ""
			data.Reset()
		}()
		if data.Len() == 0 {
			return true
		}
		payload := data.String()
		typ := eventType
		if typ == "" {
			typ = typeFromData(payload)
		}
		debug.Trace("providers", "sse event", "event", typ, "data", debug.Truncate(payload, 512))
		terminal = terminal || provider.Terminal(typ)
		return provider.Send(ctx, ch, provider.RawEvent{Type: typ, Data: json.RawMessage(payload)})
	}

scan:
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line terminates a frame.
			if !dispatch() {
				return
			}

		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.

		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if value == "[DONE]" {
				break scan
			}
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}

	if err := scanner.Err(); err != nil {
		provider.Send(ctx, ch, provider.RawEvent{Err: fmt.Errorf("SSE stream read: %w", err)})
		return
	}
	// Frame not terminated by a blank line before EOF.
	if !dispatch() {
		return
	}
	if !terminal {
		// The connection dropped mid-response; what arrived is partial.
		provider.Send(ctx, ch, provider.RawEvent{Err: errors.New("SSE stream ended before the response completed")})
	}
}

// typeFromData recovers the event type from the "type" field that the
// Responses API repeats inside every data payload.
func typeFromData(payload string) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return ""
	}
	return envelope.Type
}
