// Package fs provides periodic maintenance of the output directory: expiry
// of old downloads, mirroring to object storage and history pruning.
package fs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Mirror is the object store finished files are copied to.
type Mirror interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, filePath, key string) error
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// History is the relay log pruned by the cleaner.
type History interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// CleanerConfig holds configuration for the cleaner.
type CleanerConfig struct {
	LocalDir      string
	LocalMaxAge   time.Duration
	LocalInterval time.Duration

	// Files younger than SettleAge may still be written by a running
	// download and are neither mirrored nor expired.
	SettleAge time.Duration

	Mirror         Mirror
	MirrorInterval time.Duration
	MirrorMaxAge   time.Duration

	History       History
	HistoryMaxAge time.Duration
}

// Cleaner handles automated cleanup of files.
type Cleaner struct {
	cfg    CleanerConfig
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewCleaner creates a new Cleaner.
func NewCleaner(cfg *CleanerConfig) *Cleaner {
	c := &Cleaner{
		cfg:    *cfg,
		stopCh: make(chan struct{}),
	}
	if c.cfg.SettleAge <= 0 {
		c.cfg.SettleAge = time.Minute
	}
	return c
}

// Start starts the cleanup goroutines. Loops with a zero interval are not
// started.
func (c *Cleaner) Start(ctx context.Context) {
	if c.cfg.LocalDir != "" && c.cfg.LocalInterval > 0 {
		slog.Info("Starting local cleanup",
			"dir", c.cfg.LocalDir,
			"max_age", c.cfg.LocalMaxAge,
			"interval", c.cfg.LocalInterval,
		)
		c.loop(ctx, c.cfg.LocalInterval, func(ctx context.Context) {
			c.CleanupLocalNow()
			c.PruneHistoryNow(ctx)
		})
	}

	if c.cfg.Mirror != nil && c.cfg.MirrorInterval > 0 {
		slog.Info("Starting R2 mirror",
			"max_age", c.cfg.MirrorMaxAge,
			"interval", c.cfg.MirrorInterval,
		)
		c.loop(ctx, c.cfg.MirrorInterval, func(ctx context.Context) {
			c.MirrorNow(ctx)
			c.ExpireMirrorNow(ctx)
		})
	}
}

// Stop stops the cleanup goroutines and waits for a running pass to finish.
func (c *Cleaner) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// loop runs fn immediately and then on every tick.
func (c *Cleaner) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fn(ctx)
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// settledFiles returns the regular files in the local directory that have not
// been modified for at least the settle age.
func (c *Cleaner) settledFiles() ([]string, []os.FileInfo, error) {
	threshold := time.Now().Add(-c.cfg.SettleAge)
	var paths []string
	var infos []os.FileInfo

	err := filepath.Walk(c.cfg.LocalDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == c.cfg.LocalDir {
				return filepath.SkipDir
			}
			return err
		}
		if !info.Mode().IsRegular() || info.ModTime().After(threshold) {
			return nil
		}
		paths = append(paths, path)
		infos = append(infos, info)
		return nil
	})

	return paths, infos, err
}

// CleanupLocalNow removes downloads older than the local max age.
func (c *Cleaner) CleanupLocalNow() int {
	if c.cfg.LocalMaxAge <= 0 {
		return 0
	}

	paths, infos, err := c.settledFiles()
	if err != nil {
		slog.Error("Local cleanup error",
			"dir", c.cfg.LocalDir,
			"error", err,
		)
	}

	threshold := time.Now().Add(-c.cfg.LocalMaxAge)
	deleted := 0

	for i, path := range paths {
		if !infos[i].ModTime().Before(threshold) {
			continue
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to delete local file",
				"path", path,
				"error", err,
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		slog.Info("Local cleanup completed",
			"deleted", deleted,
			"max_age", c.cfg.LocalMaxAge,
		)
	}

	return deleted
}

// MirrorNow uploads settled files that are not yet in the mirror. Objects are
// keyed by their path relative to the local directory.
func (c *Cleaner) MirrorNow(ctx context.Context) int {
	if c.cfg.Mirror == nil {
		return 0
	}

	paths, _, err := c.settledFiles()
	if err != nil {
		slog.Error("Mirror scan error",
			"dir", c.cfg.LocalDir,
			"error", err,
		)
	}

	uploaded := 0
	for _, path := range paths {
		rel, err := filepath.Rel(c.cfg.LocalDir, path)
		if err != nil {
			continue
		}
		key := filepath.ToSlash(rel)

		exists, err := c.cfg.Mirror.Exists(ctx, key)
		if err != nil {
			slog.Warn("Failed to check mirrored file", "key", key, "error", err)
			continue
		}
		if exists {
			continue
		}

		if err := c.cfg.Mirror.Upload(ctx, path, key); err != nil {
			slog.Warn("Failed to mirror file", "path", path, "error", err)
			continue
		}
		uploaded++
	}

	if uploaded > 0 {
		slog.Info("Mirror pass completed", "uploaded", uploaded)
	}

	return uploaded
}

// ExpireMirrorNow removes mirrored objects older than the mirror max age.
func (c *Cleaner) ExpireMirrorNow(ctx context.Context) {
	if c.cfg.Mirror == nil || c.cfg.MirrorMaxAge <= 0 {
		return
	}

	deleted, err := c.cfg.Mirror.DeleteOlderThan(ctx, c.cfg.MirrorMaxAge)
	if err != nil {
		slog.Error("R2 cleanup error", "error", err)
		return
	}

	if deleted > 0 {
		slog.Info("R2 cleanup completed",
			"deleted", deleted,
			"max_age", c.cfg.MirrorMaxAge,
		)
	}
}

// PruneHistoryNow deletes relay sessions older than the history max age.
func (c *Cleaner) PruneHistoryNow(ctx context.Context) {
	if c.cfg.History == nil || c.cfg.HistoryMaxAge <= 0 {
		return
	}

	deleted, err := c.cfg.History.DeleteOlderThan(ctx, c.cfg.HistoryMaxAge)
	if err != nil {
		slog.Error("History cleanup error", "error", err)
		return
	}

	if deleted > 0 {
		slog.Info("History cleanup completed",
			"deleted", deleted,
			"max_age", c.cfg.HistoryMaxAge,
		)
	}
}
