package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/verlauf/pkg/engine"
)

type requestIDKey struct{}

// ContextWithRequestID attaches a request ID to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID attached to ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID makes sure every turn carries a request ID. An ID already on
// the context, such as one taken from an X-Request-ID header, wins.
func RequestID() Middleware {
	return func(next TurnHandler) TurnHandler {
		return TurnHandlerFunc(func(ctx context.Context, req *TurnRequest, sink engine.EventSink) (*engine.TurnResult, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.HandleTurn(ctx, req, sink)
		})
	}
}
