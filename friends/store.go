// Package friends keeps the undirected friend graph and the per-recipient
// queues of pending friend requests.
package friends

import (
	"errors"
	"sort"
	"sync"
	"time"

	"relay/models"

	"github.com/google/uuid"
)

var (
	ErrAlreadyFriends   = errors.New("already friends")
	ErrDuplicateRequest = errors.New("friend request already sent")
	ErrSelfRequest      = errors.New("cannot send a friend request to yourself")
)

// State is the relationship of an ordered (from, to) pair.
type State string

const (
	StateNone    State = "none"
	StatePending State = "pending"
	StateFriends State = "friends"
)

// Presence reports whether a username is online.
type Presence interface {
	IsOnline(username string) bool
}

// Accepted carries the friend lists of both parties after an accept.
type Accepted struct {
	// Request is the consumed request. Zero when it was already gone.
	Request     models.FriendRequest
	FromFriends []string
	ToFriends   []string
}

type Store struct {
	mu       sync.RWMutex
	edges    map[string]map[string]time.Time
	requests map[string][]models.FriendRequest
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		edges:    make(map[string]map[string]time.Time),
		requests: make(map[string][]models.FriendRequest),
		now:      time.Now,
	}
}

// CheckFriendship reports whether a and b are friends.
func (s *Store) CheckFriendship(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.friends(a, b)
}

func (s *Store) friends(a, b string) bool {
	_, ok := s.edges[a][b]
	return ok
}

// SendRequest queues a request from -> to.
func (s *Store) SendRequest(from, to string) (models.FriendRequest, error) {
	if from == to {
		return models.FriendRequest{}, ErrSelfRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.friends(from, to) {
		return models.FriendRequest{}, ErrAlreadyFriends
	}
	if s.pendingIndex(to, func(r models.FriendRequest) bool { return r.From == from }) >= 0 {
		return models.FriendRequest{}, ErrDuplicateRequest
	}

	req := models.FriendRequest{
		ID:        newRequestID(),
		From:      from,
		To:        to,
		CreatedAt: s.now(),
	}
	s.requests[to] = append(s.requests[to], req)
	return req, nil
}

// RequestsFor returns the pending requests addressed to username in the
// order they were sent.
func (s *Store) RequestsFor(username string) []models.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queue := s.requests[username]
	out := make([]models.FriendRequest, len(queue))
	copy(out, queue)
	return out
}

// Reject drops the request from to's queue. Missing requests are ignored.
func (s *Store) Reject(requestID, to string) (models.FriendRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.take(to, func(r models.FriendRequest) bool { return r.ID == requestID })
}

// Accept consumes the request and makes from and to friends. A request that
// is already gone is not an error: the current friend lists are returned
// and no edge is created.
func (s *Store) Accept(requestID, from, to string) Accepted {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.take(to, func(r models.FriendRequest) bool {
		return r.ID == requestID && r.From == from
	})
	if ok {
		s.link(req.From, req.To)
		// a crossing request in the other direction is now moot
		s.take(req.From, func(r models.FriendRequest) bool { return r.From == req.To })
	}

	return Accepted{
		Request:     req,
		FromFriends: s.friendsOf(from),
		ToFriends:   s.friendsOf(to),
	}
}

// State returns the relationship of the ordered pair (from, to).
func (s *Store) State(from, to string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.friends(from, to) {
		return StateFriends
	}
	if s.pendingIndex(to, func(r models.FriendRequest) bool { return r.From == from }) >= 0 {
		return StatePending
	}
	return StateNone
}

// FriendsOf returns the sorted friend usernames of username.
func (s *Store) FriendsOf(username string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.friendsOf(username)
}

// FriendList returns username's friends annotated with their current
// presence, read at call time.
func (s *Store) FriendList(username string, presence Presence) []models.Friend {
	s.mu.RLock()
	list := make([]models.Friend, 0, len(s.edges[username]))
	for friend, since := range s.edges[username] {
		list = append(list, models.Friend{Username: friend, JoinTime: since})
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	for i := range list {
		list[i].Status = models.StatusOffline
		if presence != nil && presence.IsOnline(list[i].Username) {
			list[i].Status = models.StatusOnline
		}
	}
	return list
}

func (s *Store) friendsOf(username string) []string {
	out := make([]string, 0, len(s.edges[username]))
	for friend := range s.edges[username] {
		out = append(out, friend)
	}
	sort.Strings(out)
	return out
}

// link writes both directions of the edge. Existing edges keep their time.
func (s *Store) link(a, b string) {
	if s.friends(a, b) {
		return
	}
	since := s.now()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		adj := s.edges[pair[0]]
		if adj == nil {
			adj = make(map[string]time.Time)
			s.edges[pair[0]] = adj
		}
		adj[pair[1]] = since
	}
}

func (s *Store) pendingIndex(to string, match func(models.FriendRequest) bool) int {
	for i, r := range s.requests[to] {
		if match(r) {
			return i
		}
	}
	return -1
}

// take removes and returns the first request in to's queue matching match.
func (s *Store) take(to string, match func(models.FriendRequest) bool) (models.FriendRequest, bool) {
	i := s.pendingIndex(to, match)
	if i < 0 {
		return models.FriendRequest{}, false
	}
	queue := s.requests[to]
	req := queue[i]
	queue = append(queue[:i:i], queue[i+1:]...)
	if len(queue) == 0 {
		delete(s.requests, to)
	} else {
		s.requests[to] = queue
	}
	return req, true
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
