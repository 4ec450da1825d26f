package models

import "time"

// Friend presence values reported in friend lists.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type FriendRequest struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"createdAt"`
}

// Friend is one entry of a user's friend list. JoinTime is the moment the
// friendship was created.
type Friend struct {
	Username string    `json:"username"`
	Status   string    `json:"status"`
	JoinTime time.Time `json:"joinTime"`
}

// Message is a private message stored in a chat thread.
type Message struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is a public message broadcast to every connection.
type ChatMessage struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type Upload struct {
	ID           int64     `json:"-"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Mimetype     string    `json:"mimetype"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"createdAt"`
}
