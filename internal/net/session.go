package net

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openrealm/server/internal/config"
)

// SessionState is the protocol phase of a connection.
type SessionState int32

const (
	StateConnected SessionState = iota // upgraded, awaiting cmd_authenticate
	StateInWorld                       // authenticated and playing
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateInWorld:
		return "InWorld"
	case StateClosing:
		return "Closing"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Session is one client connection. The read pump decodes envelopes and
// hands them to the dispatcher; the write pump drains the outbox. Game state
// is never touched from here.
type Session struct {
	ID   uint64
	IP   string
	conn *websocket.Conn

	state    atomic.Int32
	playerID atomic.Int64
	username atomic.Value // string, set once at authentication

	out       chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
	cfg     config.NetworkConfig
	log     *zap.Logger
}

func NewSession(conn *websocket.Conn, id uint64, cfg config.NetworkConfig, log *zap.Logger) *Session {
	s := &Session{
		ID:      id,
		IP:      conn.RemoteAddr().String(),
		conn:    conn,
		out:     make(chan []byte, cfg.OutQueueSize),
		closeCh: make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), cfg.CommandBurst),
		cfg:     cfg,
		log:     log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(StateConnected))
	return s
}

func (s *Session) State() SessionState     { return SessionState(s.state.Load()) }
func (s *Session) SetState(v SessionState) { s.state.Store(int32(v)) }

// PlayerID is 0 until the session authenticates.
func (s *Session) PlayerID() int64 { return s.playerID.Load() }

func (s *Session) Username() string {
	if v := s.username.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// BindPlayer records the authenticated identity.
func (s *Session) BindPlayer(playerID int64, username string) {
	s.playerID.Store(playerID)
	s.username.Store(username)
}

// Send queues a frame without blocking. A full outbox means the client has
// stopped reading; the session is closed rather than stalling the caller.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.closeCh:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.log.Warn("outbox overflow, dropping session",
			zap.Int64("player_id", s.PlayerID()),
			zap.Int("queue", cap(s.out)))
		s.Close()
		return false
	}
}

// SendEnvelope encodes and queues one envelope. Encoding failures are
// programming errors and only logged.
func (s *Session) SendEnvelope(id uint64, typ string, payload any) {
	frame, err := EncodeEnvelope(id, typ, payload)
	if err != nil {
		s.log.Error("encode envelope", zap.String("type", typ), zap.Error(err))
		return
	}
	s.Send(frame)
}

// Close signals shutdown. The write pump drains queued frames, sends the
// close frame and tears the connection down; the read pump exits when the
// connection dies.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.SetState(StateClosing)
		close(s.closeCh)
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// readPump decodes inbound frames until the connection dies. dispatch is
// called on this goroutine; onClose fires exactly once afterwards.
func (s *Session) readPump(dispatch func(*Session, *Envelope), onClose func(*Session)) {
	defer func() {
		s.Close()
		onClose(s)
	}()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			s.log.Warn("malformed envelope", zap.Error(err))
			s.SendEnvelope(0, "resp_error", map[string]any{
				"code":    "bad_request",
				"message": "malformed envelope",
			})
			continue
		}

		if !s.limiter.Allow() {
			s.SendEnvelope(env.ID, "resp_error", map[string]any{
				"code":    "rate_limited",
				"message": "too many commands",
			})
			continue
		}

		dispatch(s, env)
	}
}

// writePump drains the outbox and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closeCh:
			// Flush whatever is already queued, then say goodbye. The
			// close frame is best effort; the client may already be gone.
			for {
				select {
				case frame := <-s.out:
					_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
				default:
					_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					_ = s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
