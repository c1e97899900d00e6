package engine

import (
	"context"
	"strings"

	"github.com/rhuss/verlauf/pkg/api"
)

// EventSink receives the live events of a turn in order: text deltas as
// they arrive, completed items, and handoffs. An error aborts the turn and
// nothing is appended.
type EventSink interface {
	Emit(ctx context.Context, ev api.StreamEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev api.StreamEvent) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev api.StreamEvent) error {
	return f(ctx, ev)
}

// Discard is a sink that drops every event.
var Discard EventSink = SinkFunc(func(context.Context, api.StreamEvent) error { return nil })

// Collector records events, for callers that want the full stream after
// the turn.
type Collector struct {
	Events []api.StreamEvent
}

// Emit appends ev.
func (c *Collector) Emit(_ context.Context, ev api.StreamEvent) error {
	c.Events = append(c.Events, ev)
	return nil
}

// Text concatenates the text deltas seen so far.
func (c *Collector) Text() string {
	var b strings.Builder
	for _, ev := range c.Events {
		if ev.Type == api.EventTextDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}
