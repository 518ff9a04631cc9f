// Package downloader starts yt-dlp for a download request and exposes its
// standard output as a live stream.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
)

// Output templates shared by media files and thumbnails.
const (
	mediaTemplate     = "%(id)s.%(ext)s"
	thumbnailTemplate = "thumbnail:%(id)s.%(ext)s"

	downloadingPrint = "before_dl:[downloading]:%(id)s.%(ext)s"
	downloadedPrint  = "after_move:[downloaded]:%(id)s.%(ext)s"

	stderrTailSize = 4 * 1024
)

// ErrStart is returned when the yt-dlp process could not be launched.
var ErrStart = errors.New("failed to start yt-dlp")

// Downloader configuration options.
type Config struct {
	YtDlpPath    string        // Path to yt-dlp binary
	FFmpegPath   string        // Path to ffmpeg binary (optional)
	OutputDir    string        // Absolute directory for finished files
	FormatSort   string        // Value for -S
	RecodeFormat string        // Container passed to --recode-video
	KillGrace    time.Duration // Time allowed for output to drain after a kill
}

// DefaultConfig returns the default downloader configuration.
func DefaultConfig() *Config {
	return &Config{
		YtDlpPath:    "yt-dlp",
		OutputDir:    "videos",
		FormatSort:   "res,ext:mp4:m4a",
		RecodeFormat: "mp4",
		KillGrace:    5 * time.Second,
	}
}

// Downloader launches yt-dlp processes.
type Downloader struct {
	config *Config
}

// New creates a new Downloader with the given configuration.
func New(config *Config) *Downloader {
	if config == nil {
		config = DefaultConfig()
	}
	return &Downloader{config: config}
}

// Args returns the argument vector used for req.
func (d *Downloader) Args(req *domain.DownloadRequest) []string {
	return BuildArgs(d.config, req)
}

// BuildArgs constructs the yt-dlp arguments for a request. It has no side
// effects: the same config and request always yield the same vector.
func BuildArgs(cfg *Config, req *domain.DownloadRequest) []string {
	var args []string

	if req.HasRange() {
		args = append(args, "--playlist-items", req.PlaylistItems())
	}

	args = append(args,
		req.URL,
		"--no-simulate",
		"--no-part",
		"--quiet",
		"--write-thumbnail",
		"-S", cfg.FormatSort,
		"--recode-video", cfg.RecodeFormat,
		"--paths", cfg.OutputDir,
		"--print", downloadedPrint,
		"--print", downloadingPrint,
		"--output", mediaTemplate,
		"--output", thumbnailTemplate,
	)

	if cfg.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", cfg.FFmpegPath)
	}

	return args
}

// Process is a running yt-dlp invocation.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	ctx    context.Context
}

// Start launches yt-dlp for req. Canceling ctx kills the process together
// with any helpers it spawned (ffmpeg).
func (d *Downloader) Start(ctx context.Context, req *domain.DownloadRequest) (*Process, error) {
	if err := os.MkdirAll(d.config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, d.Args(req)...)
	cmd.WaitDelay = d.config.KillGrace
	configureProcessGroup(cmd)

	stderr := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %w", ErrStart, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	return &Process{cmd: cmd, stdout: stdout, stderr: stderr, ctx: ctx}, nil
}

// Output returns the process's standard output. It reaches EOF once the
// process and everything holding the pipe have exited.
func (p *Process) Output() io.Reader {
	return p.stdout
}

// Wait blocks until the process exits and returns its exit code. A non-zero
// exit is not an error; err is only set when the status could not be
// collected. A killed process reports -1.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return p.cmd.ProcessState.ExitCode(), nil
	}
	if p.ctx.Err() != nil {
		return -1, nil
	}

	return -1, fmt.Errorf("failed to wait for yt-dlp: %w", err)
}

// Stderr returns the tail of what the process wrote to stderr.
func (p *Process) Stderr() string {
	return strings.TrimSpace(p.stderr.String())
}

// Version returns the output of `yt-dlp --version`.
func (d *Downloader) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, d.config.YtDlpPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp not found or not executable: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// OutputDir returns the directory finished files are written to.
func (d *Downloader) OutputDir() string {
	return d.config.OutputDir
}
