// Package http provides HTTP handlers and router configuration.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
	"github.com/emanuelef/yt-dl-relay/internal/infra/sqlite"
	"github.com/emanuelef/yt-dl-relay/internal/service/relay"
	"github.com/emanuelef/yt-dl-relay/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	historyTimeout   = 5 * time.Second
)

// Runner relays one download to a sink.
type Runner interface {
	Run(ctx context.Context, req *domain.DownloadRequest, sink relay.Sink) (*relay.Result, error)
}

// SessionStore records relay sessions.
type SessionStore interface {
	Create(ctx context.Context, s *domain.RelaySession) error
	Update(ctx context.Context, s *domain.RelaySession) error
	GetByID(ctx context.Context, id string) (*domain.RelaySession, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.RelaySession, error)
	Count(ctx context.Context) (int, error)
}

// VersionSource reports the downloader version.
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

// invalidator is implemented by version sources that cache their answer.
type invalidator interface {
	Invalidate()
}

// Options configures Handlers. Sessions and Versions are optional.
type Options struct {
	Relay          Runner
	Validator      *middleware.URLValidator
	Sessions       SessionStore
	Versions       VersionSource
	AllowedOrigins []string
	MaxMessageSize int64
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	relay          Runner
	validator      *middleware.URLValidator
	sessions       SessionStore
	versions       VersionSource
	upgrader       websocket.Upgrader
	maxMessageSize int64
	active         atomic.Int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(opts *Options) *Handlers {
	validator := opts.Validator
	if validator == nil {
		validator = middleware.NewURLValidator(nil)
	}

	return &Handlers{
		relay:          opts.Relay,
		validator:      validator,
		sessions:       opts.Sessions,
		versions:       opts.Versions,
		maxMessageSize: opts.MaxMessageSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

// ActiveRelays returns the number of connections currently being served.
func (h *Handlers) ActiveRelays() int64 {
	return h.active.Load()
}

// HealthHandler handles GET /api/health requests.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	response := &domain.HealthResponse{
		Status:       "ok",
		ActiveRelays: h.active.Load(),
	}

	if h.versions != nil {
		version, err := h.versions.Version(r.Context())
		if err != nil {
			slog.Warn("Failed to get yt-dlp version", "error", err)
			response.Status = "degraded"
		}
		response.YtDlpVersion = version
	}

	writeJSON(w, http.StatusOK, response)
}

// ListRelaysHandler handles GET /api/relays requests.
func (h *Handlers) ListRelaysHandler(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusNotFound, "relay history is disabled", "HISTORY_DISABLED")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		limit = min(n, maxListLimit)
	}

	sessions, err := h.sessions.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list relays", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list relays", "DB_ERROR")
		return
	}

	total, err := h.sessions.Count(r.Context())
	if err != nil {
		slog.Error("Failed to count relays", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list relays", "DB_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, &domain.RelayListResponse{
		Relays: sessions,
		Total:  total,
	})
}

// GetRelayHandler handles GET /api/relays/{relay_id} requests.
func (h *Handlers) GetRelayHandler(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusNotFound, "relay history is disabled", "HISTORY_DISABLED")
		return
	}

	relayID := chi.URLParam(r, "relay_id")
	if relayID == "" {
		writeError(w, http.StatusBadRequest, "relay_id is required", "MISSING_RELAY_ID")
		return
	}

	// Validate UUID format
	if _, err := uuid.Parse(relayID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid relay_id format", "INVALID_RELAY_ID")
		return
	}

	session, err := h.sessions.GetByID(r.Context(), relayID)
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, "relay not found", "RELAY_NOT_FOUND")
		return
	}
	if err != nil {
		slog.Error("Failed to get relay",
			"error", err,
			"relay_id", relayID,
		)
		writeError(w, http.StatusInternalServerError, "failed to get relay", "DB_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// originChecker allows requests without an Origin header, requests from a
// listed origin, and everything when the list contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// recordSession runs fn against the history store, detached from the
// request so that a closed connection still gets its final record.
func (h *Handlers) recordSession(r *http.Request, fn func(ctx context.Context, store SessionStore) error) {
	if h.sessions == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), historyTimeout)
	defer cancel()

	if err := fn(ctx, h.sessions); err != nil {
		slog.Warn("Failed to record relay session", "error", err)
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, &domain.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
