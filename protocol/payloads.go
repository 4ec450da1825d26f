package protocol

import "relay/models"

// UsernamePayload carries a single username. Login also accepts a bare JSON
// string, see LoginName.
type UsernamePayload struct {
	Username string `json:"username"`
}

type ChatPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type FriendRequestPayload struct {
	RequestID string `json:"requestId,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type UserPairPayload struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
}

type PrivateMessagePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type UserListPayload struct {
	Users []string `json:"users"`
}

type PresencePayload struct {
	Username string   `json:"username"`
	Users    []string `json:"users"`
}

type FriendRequestEnvelope struct {
	Request models.FriendRequest `json:"request"`
}

type FriendRequestsPayload struct {
	Username string                 `json:"username"`
	Requests []models.FriendRequest `json:"requests"`
}

type FriendRequestErrorPayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type FriendListPayload struct {
	Username string          `json:"username"`
	Friends  []models.Friend `json:"friends"`
}

type FriendStatusPayload struct {
	User1      string `json:"user1"`
	User2      string `json:"user2"`
	AreFriends bool   `json:"areFriends"`
	State      string `json:"state"`
}

type PrivateHistoryPayload struct {
	User1    string           `json:"user1"`
	User2    string           `json:"user2"`
	Messages []models.Message `json:"messages"`
}

type ErrorPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}
