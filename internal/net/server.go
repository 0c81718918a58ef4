// Package net is the WebSocket transport: connection upgrade, per-session
// read/write pumps, the msgpack envelope codec and the session registry.
// Envelope dispatch is delegated to a handler installed by the caller.
package net

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openrealm/server/internal/config"
)

// Dispatcher receives every decoded command envelope on the session's read
// goroutine.
type Dispatcher func(s *Session, env *Envelope)

// Server upgrades HTTP connections to WebSocket sessions.
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	registry   *Registry
	cfg        config.NetworkConfig

	dispatch     Dispatcher
	onDisconnect func(*Session)

	nextID atomic.Uint64
	log    *zap.Logger
}

func NewServer(bindAddr string, cfg config.NetworkConfig, registry *Registry, log *zap.Logger) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Game clients are not browsers; origin enforcement is left to
			// whatever fronts this server.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		registry: registry,
		cfg:      cfg,
		log:      log.Named("net"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.httpServer = &http.Server{
		Addr:              bindAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetDispatcher installs the envelope handler. Must be called before Run.
func (s *Server) SetDispatcher(d Dispatcher) { s.dispatch = d }

// SetOnDisconnect installs the hook that runs when a session's read pump
// exits, after the session left the registry.
func (s *Server) SetOnDisconnect(fn func(*Session)) { s.onDisconnect = fn }

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		if frame, err := EncodeEnvelope(NextEventID(), "event_server_shutdown", map[string]any{
			"message": "server shutting down",
		}); err == nil {
			s.registry.Broadcast(frame)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		s.registry.CloseAll()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	id := s.nextID.Add(1)
	sess := NewSession(conn, id, s.cfg, s.log)
	s.registry.Add(sess)
	s.log.Info("client connected", zap.Uint64("session", id), zap.String("ip", sess.IP))

	go sess.writePump()
	go sess.readPump(s.dispatch, func(sess *Session) {
		s.registry.Remove(sess.ID)
		if s.onDisconnect != nil {
			s.onDisconnect(sess)
		}
		s.log.Info("client disconnected",
			zap.Uint64("session", sess.ID),
			zap.Int64("player_id", sess.PlayerID()))
	})
}
