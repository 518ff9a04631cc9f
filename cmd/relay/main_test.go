package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
	"github.com/emanuelef/yt-dl-relay/internal/infra/sqlite"
)

func setTestEnv(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("YTDLP_PATH", "yt-dlp")
	t.Setenv("VIDEOS_DIR", t.TempDir())
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("ALLOWED_DOMAINS", "")
	t.Setenv("LOG_LEVEL", "error")
	return dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestArgsCommand(t *testing.T) {
	setTestEnv(t)

	out, err := execute(t, "args", "https://youtu.be/abc", "--start", "1", "--end", "3")
	if err != nil {
		t.Fatalf("args failed: %v", err)
	}

	for _, want := range []string{"yt-dlp --playlist-items 1:3 https://youtu.be/abc", "--no-simulate", "'%(id)s.%(ext)s'"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestArgsCommandRejectsURL(t *testing.T) {
	setTestEnv(t)

	_, err := execute(t, "args", "file:///etc/passwd")
	if err == nil || !strings.Contains(err.Error(), "would be rejected") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	dataDir := setTestEnv(t)

	repo, err := sqlite.NewRepository(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	session := domain.NewRelaySession("0b9c3a52-8d4e-4f61-9a0e-2f4b7c1d5e6f", "192.0.2.1")
	session.Attach(&domain.DownloadRequest{URL: "https://youtu.be/abc", Start: 2, End: 5})
	session.MarkCompleted(7, 0)
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	repo.Close()

	out, err := execute(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	for _, want := range []string{"0b9c3a52", "completed", "2:5", "https://youtu.be/abc"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected table to contain %q, got:\n%s", want, out)
		}
	}
}

func TestHistoryCommandDisabled(t *testing.T) {
	setTestEnv(t)
	t.Setenv("DATA_DIR", "")

	if _, err := execute(t, "history"); err == nil {
		t.Fatal("expected an error when history is disabled")
	}
}

func TestRenderSessions(t *testing.T) {
	session := domain.NewRelaySession("5f1e2d3c-0000-4000-8000-000000000000", "192.0.2.9")
	session.MarkRejected("URL cannot be empty")

	out := renderSessions([]*domain.RelaySession{session})
	for _, want := range []string{"5f1e2d3c", "rejected", "URL cannot be empty"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected table to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "5f1e2d3c-0000") {
		t.Errorf("expected a shortened ID, got:\n%s", out)
	}
}

func TestShellJoin(t *testing.T) {
	got := shellJoin([]string{"yt-dlp", "https://x/?a=1&b=2", "it's", "plain"})
	want := `yt-dlp 'https://x/?a=1&b=2' 'it'\''s' plain`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("unexpected %q", got)
	}
	if got := truncate("short", 8); got != "short" {
		t.Errorf("unexpected %q", got)
	}
}
