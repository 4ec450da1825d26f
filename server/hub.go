package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// Hub tracks live websocket clients by connection id and fans encoded
// events out to their send buffers. It never blocks on a slow client: a
// full buffer gets the client dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	pumps   conc.WaitGroup
	log     *logrus.Logger
}

func newHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     logger,
	}
}

// add registers c and starts its pumps.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.pumps.Go(c.writePump)
	h.pumps.Go(c.readPump)
}

// remove forgets c and closes its send buffer, which makes the write pump
// send a close frame. It reports whether c was still registered.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	delete(h.clients, c.id)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return true
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every client and returns how many accepted it.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	return h.sendAll(targets, payload)
}

// Deliver queues payload for the given connections. Unknown ids are skipped.
func (h *Hub) Deliver(connIDs []string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.sendAll(targets, payload)
}

func (h *Hub) sendAll(targets []*Client, payload []byte) int {
	delivered := 0
	for _, c := range targets {
		if h.safeSend(c, payload) {
			delivered++
			continue
		}
		if h.remove(c) {
			h.log.WithFields(logrus.Fields{"conn": c.id, "addr": c.addr}).
				Warn("Send buffer full, dropping client")
		}
	}
	return delivered
}

func (h *Hub) safeSend(c *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c.id]; !ok || c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeAll sends a going-away close frame carrying reason to every client
// and closes the underlying connections. The read pumps then run the usual
// disconnect path.
func (h *Hub) closeAll(reason string, writeWait time.Duration) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	for _, c := range targets {
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
			h.log.WithField("conn", c.id).Debugf("Close frame error: %v", err)
		}
		_ = c.conn.Close()
	}
	return len(targets)
}

// wait blocks until every pump has returned or ctx is done.
func (h *Hub) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
