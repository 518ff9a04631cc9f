package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVersionCacheCachesLookups(t *testing.T) {
	calls := 0
	c := NewVersionCache(func(ctx context.Context) (string, error) {
		calls++
		return "2024.12.23", nil
	}, time.Minute)

	for i := 0; i < 3; i++ {
		v, err := c.Version(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != "2024.12.23" {
			t.Errorf("unexpected version %q", v)
		}
	}

	if calls != 1 {
		t.Errorf("expected one lookup, got %d", calls)
	}

	c.Invalidate()
	if _, err := c.Version(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a fresh lookup after Invalidate, got %d calls", calls)
	}
}

func TestVersionCacheDoesNotCacheErrors(t *testing.T) {
	calls := 0
	lookupErr := errors.New("yt-dlp not found")
	c := NewVersionCache(func(ctx context.Context) (string, error) {
		calls++
		return "", lookupErr
	}, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := c.Version(context.Background()); !errors.Is(err, lookupErr) {
			t.Fatalf("expected lookup error, got %v", err)
		}
	}

	if calls != 2 {
		t.Errorf("expected every call to retry the lookup, got %d", calls)
	}
}
