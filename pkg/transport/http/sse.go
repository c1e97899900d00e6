package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/engine"
)

// Terminal SSE frame types. Every stream ends with exactly one of them.
const (
	EventTurnCompleted = "turn.completed"
	EventError         = "error"
)

// writerState tracks the state of an SSE writer.
type writerState int

const (
	writerIdle      writerState = iota // no frame written yet
	writerStreaming                    // at least one event frame written
	writerCompleted                    // terminal frame written
)

// sseWriter is the engine.EventSink of a streaming turn. Each event is
// written and flushed as its own frame:
//
//	event: {type}\n
//	data: {json}\n
//	\n
//
// Headers are sent with the first frame, so a turn that fails before
// emitting anything can still be answered with a plain JSON error.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

var _ engine.EventSink = (*sseWriter)(nil)

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// Emit writes one stream event.
func (s *sseWriter) Emit(_ context.Context, ev api.StreamEvent) error {
	return s.write(string(ev.Type), ev, false)
}

// Complete writes the terminal turn.completed frame carrying the result.
func (s *sseWriter) Complete(res *engine.TurnResult) error {
	return s.write(EventTurnCompleted, res, true)
}

// Fail writes the terminal error frame.
func (s *sseWriter) Fail(apiErr *api.APIError) error {
	return s.write(EventError, api.ErrorResponse{Error: apiErr}, true)
}

func (s *sseWriter) write(eventType string, v any, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: stream is completed")
	}

	if s.state == writerIdle {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.state = writerStreaming
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if terminal {
		s.state = writerCompleted
	}
	return nil
}

// started reports whether any frame has been written.
func (s *sseWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != writerIdle
}
