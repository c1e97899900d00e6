package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/engine"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to internal errors. Nothing is appended for a turn that
// panicked.
func Recovery() Middleware {
	return func(next TurnHandler) TurnHandler {
		return TurnHandlerFunc(func(ctx context.Context, req *TurnRequest, sink engine.EventSink) (res *engine.TurnResult, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("turn panicked",
						"session_id", req.SessionID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					res = nil
					retErr = api.NewInternalError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.HandleTurn(ctx, req, sink)
		})
	}
}
