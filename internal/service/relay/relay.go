// Package relay forwards the standard output of a download process to a
// client, one trimmed line per message.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
)

const readBufferSize = 4 * 1024

var (
	// ErrStart is returned when the download process could not be launched.
	ErrStart = errors.New("failed to start download")
	// ErrRead is returned when the process output could not be read.
	ErrRead = errors.New("failed to read download output")
	// ErrSend is returned when a line could not be delivered to the client.
	ErrSend = errors.New("failed to send line")
)

// Process is a running download whose output is relayed.
type Process interface {
	Output() io.Reader
	Wait() (exitCode int, err error)
}

// Starter launches a download process for a request.
type Starter interface {
	Start(ctx context.Context, req *domain.DownloadRequest) (Process, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, req *domain.DownloadRequest) (Process, error)

// Start calls f(ctx, req).
func (f StarterFunc) Start(ctx context.Context, req *domain.DownloadRequest) (Process, error) {
	return f(ctx, req)
}

// Sink receives relayed lines.
type Sink interface {
	Send(line string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(line string) error

// Send calls f(line).
func (f SinkFunc) Send(line string) error {
	return f(line)
}

// stderrer is implemented by processes that keep their diagnostic output.
type stderrer interface {
	Stderr() string
}

// Result summarizes a finished relay.
type Result struct {
	Lines    int
	ExitCode int
	Stderr   string
}

// Relay runs one download per call and streams its output.
type Relay struct {
	starter Starter
}

// New creates a Relay that launches processes through starter.
func New(starter Starter) *Relay {
	return &Relay{starter: starter}
}

// Run starts the download for req and pumps its output into sink until the
// output ends. The process is killed if ctx is canceled or the pump stops
// early, and is always waited for before Run returns.
//
// A nil Result means the process never started.
func (r *Relay) Run(ctx context.Context, req *domain.DownloadRequest, sink Sink) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	proc, err := r.starter.Start(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	lines, pumpErr := Pump(proc.Output(), sink)
	if pumpErr != nil {
		cancel()
	}

	code, waitErr := proc.Wait()
	result := &Result{Lines: lines, ExitCode: code}
	if s, ok := proc.(stderrer); ok {
		result.Stderr = s.Stderr()
	}

	if pumpErr != nil {
		return result, pumpErr
	}
	return result, waitErr
}

// Pump reads r line by line and sends every line, trimmed, to sink. It stops
// at end of input, on the first read error, or on the first failed send, and
// returns the number of lines sent. A line holding only whitespace is sent as
// an empty string; a final line without a newline is still sent unless the
// read that produced it failed.
func Pump(r io.Reader, sink Sink) (int, error) {
	reader := bufio.NewReaderSize(r, readBufferSize)
	sent := 0

	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			// The partial line is dropped.
			return sent, fmt.Errorf("%w: %w", ErrRead, err)
		}

		if len(line) > 0 {
			if sendErr := sink.Send(strings.TrimSpace(line)); sendErr != nil {
				return sent, fmt.Errorf("%w: %w", ErrSend, sendErr)
			}
			sent++
		}

		if err != nil {
			return sent, nil
		}
	}
}
