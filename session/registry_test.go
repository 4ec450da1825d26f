package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFirstConnectionJoins(t *testing.T) {
	r := NewRegistry()

	change := r.Register("c1", "alice")
	assert.True(t, change.Joined)
	assert.Empty(t, change.Departed)
	assert.True(t, r.IsOnline("alice"))

	change = r.Register("c2", "alice")
	assert.False(t, change.Joined, "second connection must be silent")
	assert.Equal(t, []string{"c1", "c2"}, r.ConnectionsFor("alice"))
	assert.Equal(t, []string{"alice"}, r.OnlineUsernames())
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", "alice")
	change := r.Register("c1", "alice")

	assert.False(t, change.Joined)
	assert.Equal(t, []string{"c1"}, r.ConnectionsFor("alice"))
	assert.Equal(t, 1, r.ConnectionCount())
}

func TestRegisterMovesConnection(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", "alice")
	change := r.Register("c1", "bob")

	assert.True(t, change.Joined)
	assert.Equal(t, "alice", change.Departed)
	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("bob"))

	username, ok := r.Username("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", username)
}

func TestRegisterMoveKeepsOtherSessions(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", "alice")
	r.Register("c2", "alice")
	change := r.Register("c1", "bob")

	assert.Empty(t, change.Departed)
	assert.Equal(t, []string{"c2"}, r.ConnectionsFor("alice"))
}

func TestUnregisterLastConnectionLeaves(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "alice")
	r.Register("c2", "alice")

	username, left, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", username)
	assert.False(t, left)
	assert.True(t, r.IsOnline("alice"))

	username, left, ok = r.Unregister("c2")
	require.True(t, ok)
	assert.Equal(t, "alice", username)
	assert.True(t, left)
	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.OnlineUsernames())
	assert.Empty(t, r.ConnectionsFor("alice"))
}

func TestUnregisterUnknownConnection(t *testing.T) {
	r := NewRegistry()

	username, left, ok := r.Unregister("ghost")
	assert.False(t, ok)
	assert.False(t, left)
	assert.Empty(t, username)
}

func TestConnectionsForUnknownUser(t *testing.T) {
	r := NewRegistry()
	conns := r.ConnectionsFor("nobody")
	assert.NotNil(t, conns)
	assert.Empty(t, conns)
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(id, "alice")
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.ConnectionsFor("alice"), 25)
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, 25, r.ConnectionCount())
}
