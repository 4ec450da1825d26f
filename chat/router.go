package chat

import (
	"errors"
	"time"

	"relay/models"
	"relay/protocol"
)

var ErrNotJoined = errors.New("connection has not joined")

// Directory resolves usernames and their live connections.
type Directory interface {
	Username(connID string) (string, bool)
	ConnectionsFor(username string) []string
}

// Deliverer pushes encoded events to connections and reports how many
// connections accepted the payload.
type Deliverer interface {
	Broadcast(payload []byte) int
	Deliver(connIDs []string, payload []byte) int
}

// Delivery reports the outcome of a private message.
type Delivery struct {
	Message   models.Message
	Delivered int
}

type Router struct {
	dir     Directory
	threads *Threads
	out     Deliverer
	now     func() time.Time
}

func NewRouter(dir Directory, threads *Threads, out Deliverer) *Router {
	return &Router{
		dir:     dir,
		threads: threads,
		out:     out,
		now:     time.Now,
	}
}

// BroadcastPublic sends a public chat message from the connection's user to
// every live connection, joined or not.
func (r *Router) BroadcastPublic(senderConnID, content, msgType string) (models.ChatMessage, error) {
	username, ok := r.dir.Username(senderConnID)
	if !ok {
		return models.ChatMessage{}, ErrNotJoined
	}

	msg := models.ChatMessage{
		Username:  username,
		Message:   content,
		Type:      msgType,
		Timestamp: r.now().UTC(),
	}
	payload, err := protocol.Encode(protocol.TypeMessage, msg)
	if err != nil {
		return msg, err
	}
	r.out.Broadcast(payload)
	return msg, nil
}

// SendPrivate stores the message in the thread of {from, to} and delivers it
// to every connection of to. The sender gets no echo. An offline recipient
// is not an error; the message stays in the thread.
func (r *Router) SendPrivate(from, to, content, msgType string) (Delivery, error) {
	msg := models.Message{
		From:      from,
		To:        to,
		Content:   content,
		Type:      msgType,
		Timestamp: r.now().UTC(),
	}
	r.threads.Append(msg)

	d := Delivery{Message: msg}
	conns := r.dir.ConnectionsFor(to)
	if len(conns) == 0 {
		return d, nil
	}
	payload, err := protocol.Encode(protocol.TypePrivateMessage, msg)
	if err != nil {
		return d, err
	}
	d.Delivered = r.out.Deliver(conns, payload)
	return d, nil
}

// History returns the thread between a and b. The result does not depend on
// argument order.
func (r *Router) History(a, b string) []models.Message {
	return r.threads.History(a, b)
}

// ThreadCount returns how many private threads hold at least one message.
func (r *Router) ThreadCount() int {
	return r.threads.Count()
}
