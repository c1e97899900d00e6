package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/engine"
	"github.com/rhuss/verlauf/pkg/observability"
	"github.com/rhuss/verlauf/pkg/transport"
)

// Adapter serves sessions and turns over HTTP.
// It routes requests to the engine and serializes results as JSON or SSE.
type Adapter struct {
	sessions transport.Sessions
	turns    transport.TurnHandler
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
	// MetricsPath serves the Prometheus registry when non-empty.
	MetricsPath string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
		MetricsPath: "/metrics",
	}
}

// NewAdapter creates an HTTP adapter for sessions. Middleware wraps the
// turn handler in the given order.
func NewAdapter(sessions transport.Sessions, cfg Config, middlewares ...transport.Middleware) *Adapter {
	turns := transport.RunTurns(sessions)
	if len(middlewares) > 0 {
		turns = transport.Chain(middlewares...)(turns)
	}

	a := &Adapter{
		sessions: sessions,
		turns:    turns,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	a.mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSession)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleCloseSession)
	a.mux.HandleFunc("POST /v1/sessions/{id}/turns", a.handleRunTurn)
	a.mux.HandleFunc("GET /v1/sessions/{id}/items", a.handleListItems)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}/items", a.handleClearItems)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	return a
}

// Handler returns the http.Handler for this adapter, wrapped with request
// ID propagation and request metrics.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(observability.MetricsMiddleware(a.mux))
}

// CancelTurns cancels every running turn and returns how many there were.
func (a *Adapter) CancelTurns() int {
	return a.inflight.CancelAll()
}

// httpRequestIDMiddleware propagates the X-Request-ID header into the
// context and echoes the context's request ID on the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(transport.ContextWithRequestID(r.Context(), id)))
	})
}

type createSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// handleCreateSession handles POST /v1/sessions. The body is optional; a
// session ID is minted when none is given.
func (a *Adapter) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !a.decodeBody(w, r, &req, true) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sess, err := a.sessions.Session(r.Context(), req.ID)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

// handleGetSession handles GET /v1/sessions/{id}.
func (a *Adapter) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleCloseSession handles DELETE /v1/sessions/{id}. A turn still
// running on the session is cancelled first.
func (a *Adapter) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a.inflight.Cancel(id)
	if err := a.sessions.CloseSession(r.Context(), id); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListItems handles GET /v1/sessions/{id}/items.
func (a *Adapter) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.sessions.History(r.Context(), r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transport.NewItemList(items))
}

// handleClearItems handles DELETE /v1/sessions/{id}/items.
func (a *Adapter) handleClearItems(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Clear(r.Context(), r.PathValue("id")); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunTurn handles POST /v1/sessions/{id}/turns. The result is a
// JSON TurnResult, or an SSE stream when the client accepts
// text/event-stream.
func (a *Adapter) handleRunTurn(w http.ResponseWriter, r *http.Request) {
	var req transport.TurnRequest
	if !a.decodeBody(w, r, &req, false) {
		return
	}
	req.SessionID = r.PathValue("id")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done, ok := a.inflight.Begin(req.SessionID, cancel)
	if !ok {
		transport.WriteErrorResponse(w, &api.APIError{
			Type:    api.ErrorTypeInvalidInput,
			Code:    "turn_in_progress",
			Param:   "session_id",
			Message: fmt.Sprintf("a turn is already running on session %q", req.SessionID),
		}, http.StatusConflict)
		return
	}
	defer done()

	if !acceptsEventStream(r) {
		res, err := a.turns.HandleTurn(ctx, &req, engine.Discard)
		if err != nil {
			transport.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	sse := newSSEWriter(w)
	res, err := a.turns.HandleTurn(ctx, &req, sse)
	if err != nil {
		if sse.started() {
			sse.Fail(transport.AsAPIError(err))
			return
		}
		transport.WriteError(w, err)
		return
	}
	sse.Complete(res)
}

// handleHealth handles GET /healthz.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody validates the content type and decodes a size-limited JSON
// body into v. It writes the error response and returns false on failure.
func (a *Adapter) decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidInputError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidInputError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidInputError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return false
	}
	return true
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
