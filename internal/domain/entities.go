// Package domain contains the core business entities and types.
package domain

import (
	"time"
)

// RelayStatus represents the current state of a relay session.
type RelayStatus string

const (
	RelayStatusStreaming RelayStatus = "streaming"
	RelayStatusCompleted RelayStatus = "completed"
	RelayStatusRejected  RelayStatus = "rejected"
	RelayStatusFailed    RelayStatus = "failed"
)

// RelaySession records one WebSocket interaction for local diagnostics.
// It is never resumed or replayed.
type RelaySession struct {
	ID         string      `json:"id"`
	URL        string      `json:"url,omitempty"`
	Start      int         `json:"start"`
	End        int         `json:"end"`
	ClientIP   string      `json:"client_ip,omitempty"`
	Status     RelayStatus `json:"status"`
	Lines      int         `json:"lines"`
	ExitCode   *int        `json:"exit_code,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// NewRelaySession creates a session for a freshly accepted connection.
func NewRelaySession(id, clientIP string) *RelaySession {
	return &RelaySession{
		ID:        id,
		ClientIP:  clientIP,
		Start:     NoRange,
		End:       NoRange,
		Status:    RelayStatusStreaming,
		CreatedAt: time.Now().UTC(),
	}
}

// Attach copies the decoded request onto the session.
func (s *RelaySession) Attach(req *DownloadRequest) {
	s.URL = req.URL
	s.Start = req.Start
	s.End = req.End
}

// MarkRejected ends a session whose request never reached the downloader.
func (s *RelaySession) MarkRejected(reason string) {
	s.Status = RelayStatusRejected
	s.Error = reason
	s.finish()
}

// MarkCompleted ends a session whose output was fully relayed.
func (s *RelaySession) MarkCompleted(lines, exitCode int) {
	s.Status = RelayStatusCompleted
	s.Lines = lines
	s.ExitCode = &exitCode
	s.finish()
}

// MarkFailed ends a session that broke off while spawning or streaming.
func (s *RelaySession) MarkFailed(lines int, exitCode *int, reason string) {
	s.Status = RelayStatusFailed
	s.Lines = lines
	s.ExitCode = exitCode
	s.Error = reason
	s.finish()
}

func (s *RelaySession) finish() {
	now := time.Now().UTC()
	s.FinishedAt = &now
}

// HealthResponse represents the response for a health check.
type HealthResponse struct {
	Status       string `json:"status"`
	YtDlpVersion string `json:"ytdlp_version,omitempty"`
	ActiveRelays int64  `json:"active_relays"`
}

// RelayListResponse wraps the recent relay sessions.
type RelayListResponse struct {
	Relays []*RelaySession `json:"relays"`
	Total  int             `json:"total"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
