package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one websocket connection. Inbound frames are dispatched by the
// read pump one at a time, so events of a connection are handled in arrival
// order.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	addr   string
	closed bool // guarded by hub.mu
}

func newClient(conn *websocket.Conn, s *Server, addr string) *Client {
	conn.SetReadLimit(s.config.MaxMessageSize)
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, s.config.SendBuffer),
		server: s,
		addr:   addr,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.disconnect(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.server.clientLog(c).Debugf("Close error: %v", err)
		}
	}()

	readWait := c.server.config.ReadTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			c.server.sendError(c, "", "Text frames only")
			continue
		}
		c.server.dispatch(c, raw)
	}
}

func (c *Client) logReadError(err error) {
	log := c.server.clientLog(c)
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warnf("Frame exceeded %d bytes", c.server.config.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug("Client closed connection")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), isExpectedCloseError(err):
		log.Debugf("Connection closed: %v", err)
	default:
		log.Infof("Read error: %v", err)
	}
}

func (c *Client) writePump() {
	writeWait := c.server.config.WriteTimeout
	ticker := time.NewTicker(c.server.config.ReadTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one event per frame, clients parse each frame as a single document
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.server.clientLog(c).Debugf("Write error: %v", err)
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
