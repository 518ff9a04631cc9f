package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
	"github.com/emanuelef/yt-dl-relay/internal/service/relay"
	"github.com/emanuelef/yt-dl-relay/internal/transport/http/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	requestTimeout = 30 * time.Second
	writeTimeout   = 30 * time.Second
	closeTimeout   = 5 * time.Second
	// maxCloseReason is the control frame payload limit minus the status code.
	maxCloseReason = 123
)

// RelayHandler handles GET /download. It upgrades the connection, reads one
// download request and streams yt-dlp's output back, one line per text
// message. The outcome is reported through the close frame.
func (h *Handlers) RelayHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		slog.Warn("WebSocket upgrade failed",
			"error", err,
			"ip", middleware.GetClientIP(r),
		)
		return
	}
	defer conn.Close()

	if h.maxMessageSize > 0 {
		conn.SetReadLimit(h.maxMessageSize)
	}

	h.active.Add(1)
	defer h.active.Add(-1)

	session := domain.NewRelaySession(uuid.New().String(), middleware.GetClientIP(r))
	log := slog.With("relay_id", session.ID, "ip", session.ClientIP)

	req, code, err := h.readRequest(conn)
	if req != nil {
		session.Attach(req)
	}
	if err != nil {
		if code == 0 {
			log.Debug("Connection closed before a request arrived", "error", err)
			return
		}

		log.Warn("Relay request rejected", "error", err, "close_code", code)
		session.MarkRejected(err.Error())
		h.recordSession(r, func(ctx context.Context, store SessionStore) error {
			return store.Create(ctx, session)
		})
		closeConn(conn, code, err.Error())
		return
	}

	log = log.With("url", req.URL)
	log.Info("Relay started", "start", req.Start, "end", req.End)
	h.recordSession(r, func(ctx context.Context, store SessionStore) error {
		return store.Create(ctx, session)
	})

	// The limit only guards the request; later frames are discarded unread
	conn.SetReadLimit(0)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainInbound(conn, cancel)

	sink := relay.SinkFunc(func(line string) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	})

	result, err := h.relay.Run(ctx, req, sink)
	h.finish(log, conn, session, result, err, ctx.Err())

	h.recordSession(r, func(ctx context.Context, store SessionStore) error {
		return store.Update(ctx, session)
	})
}

// readRequest reads the single inbound message and turns it into a validated
// request. A zero close code means the connection failed before a message
// arrived and nothing more should be written.
func (h *Handlers) readRequest(conn *websocket.Conn) (*domain.DownloadRequest, int, error) {
	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, 0, err
	}
	conn.SetReadDeadline(time.Time{})

	if msgType != websocket.TextMessage {
		return nil, websocket.CloseUnsupportedData, domain.ErrNotText
	}

	req, err := domain.ParseDownloadRequest(payload)
	if err != nil {
		return nil, websocket.CloseInvalidFramePayloadData, err
	}

	if err := h.validator.Validate(req.URL); err != nil {
		return req, websocket.ClosePolicyViolation, err
	}

	return req, 0, nil
}

// finish logs the relay outcome, marks the session and sends the matching
// close frame.
func (h *Handlers) finish(log *slog.Logger, conn *websocket.Conn, session *domain.RelaySession, result *relay.Result, err, ctxErr error) {
	if result != nil && result.Stderr != "" {
		log.Debug("yt-dlp stderr", "stderr", result.Stderr)
	}

	switch {
	case errors.Is(err, relay.ErrStart):
		log.Error("Failed to start yt-dlp", "error", err)
		// The binary may have moved; don't keep reporting its old version
		if inv, ok := h.versions.(invalidator); ok {
			inv.Invalidate()
		}
		session.MarkFailed(0, nil, "failed to start downloader")
		closeConn(conn, websocket.CloseInternalServerErr, "failed to start downloader")

	case errors.Is(err, relay.ErrSend) || ctxErr != nil:
		log.Info("Relay canceled",
			"error", err,
			"lines", result.Lines,
			"exit_code", result.ExitCode,
		)
		session.MarkFailed(result.Lines, &result.ExitCode, "relay canceled")
		// The peer is usually gone already
		closeConn(conn, websocket.CloseGoingAway, "relay canceled")

	case err != nil:
		log.Error("Relay failed",
			"error", err,
			"lines", result.Lines,
			"exit_code", result.ExitCode,
		)
		session.MarkFailed(result.Lines, &result.ExitCode, err.Error())
		closeConn(conn, websocket.CloseInternalServerErr, "download output interrupted")

	default:
		log.Info("Relay finished",
			"lines", result.Lines,
			"exit_code", result.ExitCode,
		)
		session.MarkCompleted(result.Lines, result.ExitCode)
		closeConn(conn, websocket.CloseNormalClosure, "")
	}
}

// drainInbound discards everything the client sends after its request and
// cancels the relay once the connection fails or the client closes it.
func drainInbound(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, truncateReason(reason))
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); err != nil {
		slog.Debug("Failed to send close frame", "error", err)
	}
}

// truncateReason cuts reason to fit a close frame without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
