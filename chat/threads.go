// Package chat routes public and private messages and keeps the private
// message threads between pairs of users.
package chat

import (
	"sync"

	"relay/models"
)

// ThreadKey identifies the thread of an unordered pair of usernames. A is
// always the lexicographically smaller name.
type ThreadKey struct {
	A, B string
}

// KeyFor returns the canonical key of the pair {a, b}.
func KeyFor(a, b string) ThreadKey {
	if b < a {
		a, b = b, a
	}
	return ThreadKey{A: a, B: b}
}

// Threads is an append-only store of private messages per user pair.
type Threads struct {
	mu      sync.RWMutex
	threads map[ThreadKey][]models.Message
}

func NewThreads() *Threads {
	return &Threads{threads: make(map[ThreadKey][]models.Message)}
}

// Append adds msg to the end of the thread between its sender and recipient.
func (t *Threads) Append(msg models.Message) {
	key := KeyFor(msg.From, msg.To)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.threads[key] = append(t.threads[key], msg)
}

// History returns a copy of the thread between a and b in insertion order.
func (t *Threads) History(a, b string) []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	thread := t.threads[KeyFor(a, b)]
	out := make([]models.Message, len(thread))
	copy(out, thread)
	return out
}

// Count returns the number of stored threads.
func (t *Threads) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.threads)
}
