package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeMirror struct {
	mu      sync.Mutex
	objects map[string]string
	expired int
	maxAge  time.Duration
}

func newFakeMirror(keys ...string) *fakeMirror {
	m := &fakeMirror{objects: make(map[string]string)}
	for _, k := range keys {
		m.objects[k] = ""
	}
	return m
}

func (m *fakeMirror) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *fakeMirror) Upload(ctx context.Context, filePath, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = filePath
	return nil
}

func (m *fakeMirror) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAge = age
	return m.expired, nil
}

type fakeHistory struct {
	age time.Duration
}

func (h *fakeHistory) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	h.age = age
	return 3, nil
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestCleanupLocalNow(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "old.mp4")
	newFile := filepath.Join(dir, "new.mp4")
	writeAged(t, oldFile, 3*time.Hour)
	writeAged(t, newFile, 10*time.Minute)

	c := NewCleaner(&CleanerConfig{LocalDir: dir, LocalMaxAge: time.Hour})
	if deleted := c.CleanupLocalNow(); deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("old file should be removed")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("new file should be kept")
	}
}

func TestCleanupLocalMissingDir(t *testing.T) {
	c := NewCleaner(&CleanerConfig{LocalDir: filepath.Join(t.TempDir(), "missing"), LocalMaxAge: time.Hour})
	if deleted := c.CleanupLocalNow(); deleted != 0 {
		t.Errorf("expected nothing deleted, got %d", deleted)
	}
}

func TestMirrorNow(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, filepath.Join(dir, "abc.mp4"), time.Hour)
	writeAged(t, filepath.Join(dir, "abc.webp"), time.Hour)
	writeAged(t, filepath.Join(dir, "sub", "def.mp4"), time.Hour)
	writeAged(t, filepath.Join(dir, "writing.mp4"), 0)

	mirror := newFakeMirror("abc.webp")
	c := NewCleaner(&CleanerConfig{LocalDir: dir, SettleAge: time.Minute, Mirror: mirror})

	if uploaded := c.MirrorNow(context.Background()); uploaded != 2 {
		t.Errorf("expected 2 uploads, got %d", uploaded)
	}

	var keys []string
	for k := range mirror.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"abc.mp4", "abc.webp", "sub/def.mp4"}
	if len(keys) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("expected keys %v, got %v", want, keys)
			break
		}
	}

	if uploaded := c.MirrorNow(context.Background()); uploaded != 0 {
		t.Errorf("second pass should upload nothing, got %d", uploaded)
	}
}

func TestExpireAndPrune(t *testing.T) {
	mirror := newFakeMirror()
	history := &fakeHistory{}
	c := NewCleaner(&CleanerConfig{
		Mirror:        mirror,
		MirrorMaxAge:  2 * time.Hour,
		History:       history,
		HistoryMaxAge: 48 * time.Hour,
	})

	c.ExpireMirrorNow(context.Background())
	c.PruneHistoryNow(context.Background())

	if mirror.maxAge != 2*time.Hour {
		t.Errorf("mirror expiry not called with max age, got %v", mirror.maxAge)
	}
	if history.age != 48*time.Hour {
		t.Errorf("history prune not called with max age, got %v", history.age)
	}
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, filepath.Join(dir, "old.mp4"), 3*time.Hour)

	c := NewCleaner(&CleanerConfig{LocalDir: dir, LocalMaxAge: time.Hour, LocalInterval: time.Hour})
	c.Start(context.Background())
	c.Stop()
	c.Stop()

	if _, err := os.Stat(filepath.Join(dir, "old.mp4")); !os.IsNotExist(err) {
		t.Error("the first pass should run immediately on start")
	}
}
