package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/verlauf/pkg/engine"
)

// Logging returns middleware that emits one structured log entry per turn
// with the session, request ID, duration and outcome.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next TurnHandler) TurnHandler {
		return TurnHandlerFunc(func(ctx context.Context, req *TurnRequest, sink engine.EventSink) (*engine.TurnResult, error) {
			start := time.Now()

			res, err := next.HandleTurn(ctx, req, sink)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("session_id", req.SessionID),
				slog.Bool("replace", len(req.Items) > 0),
				slog.Duration("duration", time.Since(start)),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "turn failed", attrs...)
				return res, err
			}
			attrs = append(attrs,
				slog.String("status", string(res.Status)),
				slog.Int("round_trips", res.RoundTrips),
				slog.Int("appended", len(res.Appended)),
			)
			logger.LogAttrs(ctx, slog.LevelInfo, "turn completed", attrs...)
			return res, nil
		})
	}
}
