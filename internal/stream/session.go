package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homelink-core/internal/device"
)

// Phase is a session lifecycle phase.
type Phase int32

// Session phases.
const (
	PhaseAccepted Phase = iota
	PhaseStreaming
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepted:
		return "ACCEPTED"
	case PhaseStreaming:
		return "STREAMING"
	case PhaseClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Format selects how changes are framed.
type Format int

// Frame formats.
const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat maps the format query parameter to a Format. The empty
// string selects FormatText.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Session is one observer connection.
type Session struct {
	id       string
	deviceID string
	format   Format
	conn     *websocket.Conn
	phase    atomic.Int32

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// DeviceID returns the observed device.
func (s *Session) DeviceID() string { return s.deviceID }

// Phase returns the session's current phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Session) setPhase(p Phase) { s.phase.Store(int32(p)) }

// run streams changes until ctx is cancelled, the peer goes away or a
// write fails. It always leaves the session CLOSED with the connection
// closed and the subscription released.
func (s *Session) run(ctx context.Context, watcher Watcher, logger Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := watcher.Watch(ctx, s.deviceID)
	s.setPhase(PhaseStreaming)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		s.readLoop(logger)
	}()

	reason := s.writeLoop(ctx, sub)

	// Release the subscription before touching the connection again.
	sub.Close()
	s.setPhase(PhaseClosed)

	//nolint:errcheck // Best-effort close frame
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	s.conn.Close()
	<-readerDone

	logger.Debug("stream session closed",
		"session_id", s.id,
		"device_id", s.deviceID,
		"reason", reason,
		"dropped", sub.Dropped(),
	)
}

// readLoop consumes inbound frames so control frames (pong, close) are
// processed. Data frames are ignored.
func (s *Session) readLoop(logger Logger) {
	wait := s.pingInterval + s.pongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("stream read error", "session_id", s.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Any inbound frame proves the peer is alive
		s.conn.SetReadDeadline(time.Now().Add(wait))
	}
}

// writeLoop writes changes and keepalive pings. It returns a short reason
// for closing.
func (s *Session) writeLoop(ctx context.Context, sub *device.Subscription) string {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "closing"
		case change, ok := <-sub.C():
			if !ok {
				return "subscription ended"
			}
			frame, err := s.encode(change)
			if err != nil {
				return "encode failed"
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(s.pongTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return "write failed"
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pongTimeout)); err != nil {
				return "ping failed"
			}
		}
	}
}

func (s *Session) encode(c device.Change) ([]byte, error) {
	if s.format == FormatJSON {
		return json.Marshal(c)
	}
	return []byte(c.State), nil
}
