package relay

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	fail  error
}

func (s *recordingSink) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.lines = append(s.lines, line)
	return nil
}

type fakeProcess struct {
	out      io.Reader
	code     int
	waitErr  error
	waited   bool
	ctx      context.Context
	canceled bool
}

func (p *fakeProcess) Output() io.Reader { return p.out }

func (p *fakeProcess) Wait() (int, error) {
	p.waited = true
	if p.ctx != nil {
		p.canceled = p.ctx.Err() != nil
	}
	return p.code, p.waitErr
}

// failingReader returns its data and then a non-EOF error.
type failingReader struct {
	data string
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, r.err
	}
	r.done = true
	return copy(p, r.data), nil
}

func TestPump(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantLines []string
	}{
		{
			name:      "two progress lines",
			input:     "[downloading]:abc.mp4\n[downloaded]:abc.mp4\n",
			wantLines: []string{"[downloading]:abc.mp4", "[downloaded]:abc.mp4"},
		},
		{
			name:      "no output",
			input:     "",
			wantLines: nil,
		},
		{
			name:      "surrounding whitespace is trimmed",
			input:     "  [downloading]:abc.mp4 \r\n",
			wantLines: []string{"[downloading]:abc.mp4"},
		},
		{
			name:      "whitespace-only line is forwarded empty",
			input:     "first\n   \nlast\n",
			wantLines: []string{"first", "", "last"},
		},
		{
			name:      "final line without newline",
			input:     "first\nlast",
			wantLines: []string{"first", "last"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			n, err := Pump(strings.NewReader(tt.input), sink)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != len(tt.wantLines) {
				t.Errorf("expected %d lines sent, got %d", len(tt.wantLines), n)
			}
			if !reflect.DeepEqual(sink.lines, tt.wantLines) {
				t.Errorf("expected %q, got %q", tt.wantLines, sink.lines)
			}
		})
	}
}

func TestPumpLongLine(t *testing.T) {
	long := strings.Repeat("x", 3*readBufferSize)
	sink := &recordingSink{}

	if _, err := Pump(strings.NewReader(long+"\n"), sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.lines) != 1 || sink.lines[0] != long {
		t.Errorf("long line was split or altered: %d lines", len(sink.lines))
	}
}

func TestPumpReadError(t *testing.T) {
	readErr := errors.New("broken pipe")
	sink := &recordingSink{}

	n, err := Pump(&failingReader{data: "complete\npartial", err: readErr}, sink)
	if !errors.Is(err, ErrRead) || !errors.Is(err, readErr) {
		t.Fatalf("expected ErrRead wrapping the read error, got %v", err)
	}
	if n != 1 || !reflect.DeepEqual(sink.lines, []string{"complete"}) {
		t.Errorf("expected only the complete line, got %q", sink.lines)
	}
}

func TestPumpSendError(t *testing.T) {
	sendErr := errors.New("client gone")
	sink := &recordingSink{fail: sendErr}

	n, err := Pump(strings.NewReader("a\nb\n"), sink)
	if !errors.Is(err, ErrSend) || !errors.Is(err, sendErr) {
		t.Fatalf("expected ErrSend, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected no lines counted, got %d", n)
	}
}

func TestRunForwardsAndWaits(t *testing.T) {
	proc := &fakeProcess{out: strings.NewReader("[downloading]:abc.mp4\n[downloaded]:abc.mp4\n"), code: 0}
	var gotReq *domain.DownloadRequest

	r := New(StarterFunc(func(ctx context.Context, req *domain.DownloadRequest) (Process, error) {
		gotReq = req
		return proc, nil
	}))

	req := &domain.DownloadRequest{URL: "https://youtu.be/abc", Start: -1, End: -1}
	sink := &recordingSink{}
	res, err := r.Run(context.Background(), req, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotReq != req {
		t.Error("starter did not receive the request")
	}
	if !proc.waited {
		t.Error("process was not waited for")
	}
	if res.Lines != 2 || res.ExitCode != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	want := []string{"[downloading]:abc.mp4", "[downloaded]:abc.mp4"}
	if !reflect.DeepEqual(sink.lines, want) {
		t.Errorf("expected %q, got %q", want, sink.lines)
	}
}

func TestRunStartFailure(t *testing.T) {
	spawnErr := errors.New("exec: not found")
	r := New(StarterFunc(func(ctx context.Context, req *domain.DownloadRequest) (Process, error) {
		return nil, spawnErr
	}))

	sink := &recordingSink{}
	res, err := r.Run(context.Background(), &domain.DownloadRequest{URL: "https://youtu.be/abc"}, sink)
	if !errors.Is(err, ErrStart) || !errors.Is(err, spawnErr) {
		t.Fatalf("expected ErrStart, got %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
	if len(sink.lines) != 0 {
		t.Errorf("expected no lines, got %q", sink.lines)
	}
}

func TestRunSendFailureCancelsProcess(t *testing.T) {
	proc := &fakeProcess{out: strings.NewReader("a\nb\n"), code: -1}

	r := New(StarterFunc(func(ctx context.Context, req *domain.DownloadRequest) (Process, error) {
		proc.ctx = ctx
		return proc, nil
	}))

	sink := &recordingSink{fail: errors.New("client gone")}
	res, err := r.Run(context.Background(), &domain.DownloadRequest{URL: "https://youtu.be/abc"}, sink)
	if !errors.Is(err, ErrSend) {
		t.Fatalf("expected ErrSend, got %v", err)
	}
	if !proc.canceled {
		t.Error("process should be canceled before it is waited for")
	}
	if !proc.waited {
		t.Error("process was not waited for")
	}
	if res == nil || res.ExitCode != -1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	proc := &fakeProcess{out: strings.NewReader(""), code: 1}
	r := New(StarterFunc(func(ctx context.Context, req *domain.DownloadRequest) (Process, error) {
		return proc, nil
	}))

	res, err := r.Run(context.Background(), &domain.DownloadRequest{URL: "https://youtu.be/abc"}, &recordingSink{})
	if err != nil {
		t.Fatalf("a non-zero exit is not an error: %v", err)
	}
	if res.Lines != 0 || res.ExitCode != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

type stderrProcess struct {
	fakeProcess
	stderr string
}

func (p *stderrProcess) Stderr() string { return p.stderr }

func TestRunCollectsStderr(t *testing.T) {
	proc := &stderrProcess{
		fakeProcess: fakeProcess{out: strings.NewReader("line\n"), code: 1},
		stderr:      "ERROR: Unsupported URL",
	}
	r := New(StarterFunc(func(ctx context.Context, req *domain.DownloadRequest) (Process, error) {
		return proc, nil
	}))

	res, err := r.Run(context.Background(), &domain.DownloadRequest{URL: "https://youtu.be/abc"}, &recordingSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stderr != "ERROR: Unsupported URL" {
		t.Errorf("expected stderr to be collected, got %q", res.Stderr)
	}
}
