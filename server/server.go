package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relay/blob"
	"relay/chat"
	"relay/friends"
	"relay/protocol"
	"relay/session"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	config   *ServerConfig
	log      *logrus.Logger
	registry *session.Registry
	friends  *friends.Store
	router   *chat.Router
	blobs    *blob.Store
	hub      *Hub
	metrics  *metrics
	origins  *originPolicy
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	MaxMessageSize int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
}

func New(blobs *blob.Store, config *ServerConfig, logger *logrus.Logger) *Server {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 64 << 10
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		config:   config,
		log:      logger,
		registry: session.NewRegistry(),
		friends:  friends.NewStore(),
		blobs:    blobs,
		metrics:  newMetrics(),
		origins:  newOriginPolicy(config.AllowedOrigins),
	}
	s.hub = newHub(logger)
	s.router = chat.NewRouter(s.registry, chat.NewThreads(), s.hub)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpSrv = &http.Server{
		Addr:              ":" + strconv.Itoa(config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	s.log.Infof("Relay server started on %s", listener.Addr())
	err := s.httpSrv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes every websocket connection with
// reason and waits for their pumps to exit.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.log.WithField("reason", reason).Info("Shutting down")

	err := s.httpSrv.Shutdown(ctx)
	closed := s.hub.closeAll(reason, s.config.WriteTimeout)
	s.log.Infof("Closed %d connections", closed)

	if werr := s.hub.wait(ctx); werr != nil && err == nil {
		err = werr
	}
	return err
}

// GetStats returns a one line summary for the control socket.
func (s *Server) GetStats() string {
	uploads := 0
	if s.blobs != nil {
		n, err := s.blobs.Count()
		if err != nil {
			s.log.Errorf("Count uploads error: %v", err)
		}
		uploads = n
	}
	return fmt.Sprintf("connections=%d,users=%s,uploads=%d",
		s.hub.Count(),
		strings.Join(s.registry.OnlineUsernames(), ";"),
		uploads,
	)
}

func (s *Server) clientLog(c *Client) *logrus.Entry {
	fields := logrus.Fields{"conn": c.id, "addr": c.addr}
	if username, ok := s.registry.Username(c.id); ok {
		fields["user"] = username
	}
	return s.log.WithFields(fields)
}

// reply sends an event to a single connection.
func (s *Server) reply(c *Client, eventType string, data any) {
	payload, ok := s.encode(eventType, data)
	if !ok {
		return
	}
	s.hub.Deliver([]string{c.id}, payload)
}

// sendToUser sends an event to every connection of username and returns how
// many accepted it.
func (s *Server) sendToUser(username, eventType string, data any) int {
	conns := s.registry.ConnectionsFor(username)
	if len(conns) == 0 {
		return 0
	}
	payload, ok := s.encode(eventType, data)
	if !ok {
		return 0
	}
	return s.hub.Deliver(conns, payload)
}

func (s *Server) broadcast(eventType string, data any) {
	payload, ok := s.encode(eventType, data)
	if !ok {
		return
	}
	s.hub.Broadcast(payload)
}

func (s *Server) sendError(c *Client, event, description string) {
	s.reply(c, protocol.TypeError, protocol.ErrorPayload{Event: event, Error: description})
}

func (s *Server) encode(eventType string, data any) ([]byte, bool) {
	payload, err := protocol.Encode(eventType, data)
	if err != nil {
		s.log.Errorf("Encode error: %v", err)
		return nil, false
	}
	return payload, true
}
