package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// NoRange marks an absent playlist range bound.
const NoRange = -1

// Request decoding errors.
var (
	ErrNotText     = errors.New("request must be a text message")
	ErrInvalidUTF8 = errors.New("request is not valid UTF-8")
	ErrInvalidJSON = errors.New("request is not a valid JSON object")
	ErrMissingURL  = errors.New("request has no url")
)

// DownloadRequest is the single message a client sends after the upgrade.
type DownloadRequest struct {
	URL   string `json:"url"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// HasRange reports whether a playlist range was requested.
func (r *DownloadRequest) HasRange() bool {
	return r.Start >= 0
}

// PlaylistItems returns the yt-dlp item range "start:end". The upper bound is
// clamped so it is never below the lower one.
func (r *DownloadRequest) PlaylistItems() string {
	return fmt.Sprintf("%d:%d", r.Start, max(r.Start, r.End))
}

// ParseDownloadRequest decodes the payload of a text frame. A payload that is
// not a JSON object is taken as a bare URL with no range.
func ParseDownloadRequest(payload []byte) (*DownloadRequest, error) {
	if !utf8.Valid(payload) {
		return nil, ErrInvalidUTF8
	}

	req := &DownloadRequest{Start: NoRange, End: NoRange}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, req); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
	} else {
		req.URL = string(trimmed)
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return nil, ErrMissingURL
	}

	return req, nil
}
