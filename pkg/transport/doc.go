// Package transport defines the turn handler contract and middleware chain
// for the verlauf HTTP/SSE surface.
//
// The transport layer bridges external clients and the turn engine. It
// decodes turn requests into engine input, dispatches them through a
// middleware chain, and leaves framing (JSON or SSE) to the adapter in
// pkg/transport/http.
//
// # Handler Interfaces
//
//   - TurnHandler runs one turn for a session, streaming events to an
//     engine.EventSink while it runs.
//   - Sessions is the engine surface the HTTP adapter serves: turns plus
//     history, clear, close and health.
//
// # Middleware
//
// The middleware chain wraps TurnHandler with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured logging via log/slog.
//
// # In-flight turns
//
// InFlightRegistry tracks the turn running on each session, so a second
// turn on the same session is refused and closing a session cancels the
// turn still running on it.
package transport
