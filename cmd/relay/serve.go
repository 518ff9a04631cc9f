package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/emanuelef/yt-dl-relay/internal/config"
	"github.com/emanuelef/yt-dl-relay/internal/domain"
	"github.com/emanuelef/yt-dl-relay/internal/infra/cache"
	"github.com/emanuelef/yt-dl-relay/internal/infra/fs"
	"github.com/emanuelef/yt-dl-relay/internal/infra/r2"
	"github.com/emanuelef/yt-dl-relay/internal/infra/sqlite"
	"github.com/emanuelef/yt-dl-relay/internal/service/downloader"
	"github.com/emanuelef/yt-dl-relay/internal/service/relay"
	transport "github.com/emanuelef/yt-dl-relay/internal/transport/http"
	"github.com/emanuelef/yt-dl-relay/internal/transport/http/middleware"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

const lockFileName = "relay.lock"

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dl, err := ctx.downloader()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, dl)
		},
	}
}

// runServer serves until ctx is canceled or the listener fails.
func runServer(ctx context.Context, cfg *config.Config, dl *downloader.Downloader) error {
	slog.Info("Starting yt-dlp relay",
		"version", version,
		"port", cfg.Port,
		"env", cfg.Env,
		"videos_dir", cfg.VideosDir,
	)

	versions := cache.NewVersionCache(dl.Version, cfg.VersionCacheTTL)
	if v, err := versions.Version(ctx); err != nil {
		slog.Warn("yt-dlp not available", "path", cfg.YtDlpPath, "error", err)
	} else {
		slog.Info("Found yt-dlp", "version", v)
	}

	opts := &transport.Options{
		Relay:          relay.New(processStarter(dl)),
		Validator:      middleware.NewURLValidator(cfg.AllowedDomains),
		Versions:       versions,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
	}

	if !cfg.IsDevelopment() && slices.Contains(cfg.AllowedOrigins, "*") {
		slog.Warn("ALLOWED_ORIGINS accepts any origin")
	}

	cleanerCfg := &fs.CleanerConfig{
		LocalDir:      dl.OutputDir(),
		LocalMaxAge:   cfg.LocalMaxFileAge,
		LocalInterval: cfg.LocalCleanupInterval,
	}

	// Relay history
	if cfg.HistoryEnabled() {
		lock, err := lockDataDir(cfg.DataDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				slog.Warn("Failed to release data dir lock", "error", err)
			}
		}()

		repo, err := sqlite.NewRepository(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer repo.Close()
		slog.Info("Relay history enabled", "data_dir", cfg.DataDir)

		opts.Sessions = repo
		cleanerCfg.History = repo
		cleanerCfg.HistoryMaxAge = cfg.HistoryMaxAge
	}

	// R2 mirror
	if cfg.R2Enabled() {
		r2Client, err := r2.NewClient(ctx, &r2.Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			slog.Warn("R2 mirror disabled", "error", err)
		} else {
			slog.Info("R2 mirror enabled", "bucket", cfg.R2BucketName)
			cleanerCfg.Mirror = r2Client
			cleanerCfg.MirrorInterval = cfg.R2MirrorInterval
			cleanerCfg.MirrorMaxAge = cfg.R2MaxFileAge
		}
	}

	cleaner := fs.NewCleaner(cleanerCfg)
	cleaner.PruneHistoryNow(ctx)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	handlers := transport.NewHandlers(opts)
	router := transport.NewRouter(&transport.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		VideosDir:      dl.OutputDir(),
	}, handlers)

	// Requests inherit serveCtx, canceling it kills every running download.
	serveCtx, cancelRelays := context.WithCancel(ctx)
	defer cancelRelays()
	server := transport.NewServer(":"+cfg.Port, router, serveCtx)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case runErr = <-serverErr:
		slog.Error("Server error", "error", runErr)
	}
	cancelRelays()

	// Give relay handlers time to reap their processes and send close frames.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.KillGrace+10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Shutdown does not track hijacked WebSocket connections
	for handlers.ActiveRelays() > 0 && shutdownCtx.Err() == nil {
		time.Sleep(100 * time.Millisecond)
	}

	slog.Info("Server stopped", "active_relays", handlers.ActiveRelays())
	return runErr
}

// processStarter adapts the downloader to the relay. The explicit nil keeps
// a failed start from becoming a non-nil interface holding a nil pointer.
func processStarter(dl *downloader.Downloader) relay.StarterFunc {
	return func(ctx context.Context, req *domain.DownloadRequest) (relay.Process, error) {
		proc, err := dl.Start(ctx, req)
		if err != nil {
			return nil, err
		}
		return proc, nil
	}
}

// lockDataDir makes sure only one server writes to the history database.
func lockDataDir(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another relay server is already using %s", dataDir)
	}
	return lock, nil
}
