package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	VideosDir      string
}

// NewRouter creates a new chi router with all routes and middleware configured.
func NewRouter(cfg *RouterConfig, handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	// Basic middleware (applied to all routes)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// WebSocket relay; no timeout or compression, the connection is hijacked
	// and lives as long as the download
	r.Get("/download", handlers.RelayHandler)

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Range"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Length", "Content-Range"},
		AllowCredentials: false,
		MaxAge:           300, // 5 minutes
	})

	// Downloaded media, read-only
	if cfg.VideosDir != "" {
		files := http.StripPrefix("/videos", http.FileServer(http.Dir(cfg.VideosDir)))
		r.Group(func(r chi.Router) {
			r.Use(corsHandler)
			r.Get("/videos", http.RedirectHandler("/videos/", http.StatusMovedPermanently).ServeHTTP)
			r.Get("/videos/*", files.ServeHTTP)
			r.Head("/videos/*", files.ServeHTTP)
		})
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(corsHandler)
		r.Use(chimiddleware.Timeout(30 * time.Second))
		r.Use(chimiddleware.Compress(5))

		r.Get("/health", handlers.HealthHandler)
		r.Get("/relays", handlers.ListRelaysHandler)
		r.Get("/relays/{relay_id}", handlers.GetRelayHandler)
	})

	// Catch-all for undefined routes
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	return r
}

// NewServer creates a new HTTP server. Requests inherit baseCtx, so
// canceling it stops every running relay. There is no write timeout since
// relays and file downloads may run for a long time.
func NewServer(addr string, handler http.Handler, baseCtx context.Context) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}
}
