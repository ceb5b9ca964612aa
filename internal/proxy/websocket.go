package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Resolver maps a login session id to its browser's CDP endpoint.
// Implemented by session.Manager.
type Resolver interface {
	ControlURL(sessionID string) (string, error)
}

// Server relays CDP traffic between a remote operator and the browser of a
// login session waiting for a human.
type Server struct {
	sessions    Resolver
	dialTimeout time.Duration
	logger      *log.Logger
}

func NewServer(sessions Resolver, logger *log.Logger) *Server {
	return &Server{
		sessions:    sessions,
		dialTimeout: 10 * time.Second,
		logger:      logger,
	}
}

func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	chromeURL, err := s.sessions.ControlURL(sessionID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"session not found"}`)
		return
	}

	// Dial first so a dead browser is reported before the upgrade
	ctx, cancel := context.WithTimeout(r.Context(), s.dialTimeout)
	defer cancel()

	chromeConn, _, err := websocket.DefaultDialer.DialContext(ctx, chromeURL, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("❌ failed to connect to browser")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":"browser unavailable"}`)
		return
	}
	defer chromeConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer clientConn.Close()

	s.logger.Info().Str("session_id", sessionID).Msg("✅ operator connected to login browser")

	// Bidirectional proxy
	errChan := make(chan error, 2)

	// Client → Chrome
	go func() {
		errChan <- s.proxyMessages(clientConn, chromeConn, "client→chrome")
	}()

	// Chrome → Client
	go func() {
		errChan <- s.proxyMessages(chromeConn, clientConn, "chrome→client")
	}()

	// Wait for either direction to close
	err = <-errChan
	if err != nil && !errors.Is(err, io.EOF) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("proxy error")
	}

	s.logger.Info().Str("session_id", sessionID).Msg("operator disconnected from login browser")
}

func (s *Server) proxyMessages(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug().Err(err).Str("direction", direction).Msg("websocket closed")
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			s.logger.Debug().Err(err).Str("direction", direction).Msg("failed to write message")
			return err
		}
	}
}
