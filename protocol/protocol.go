package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent = errors.New("invalid event format")
)

// Client -> server events.
const (
	TypeLogin               = "login"
	TypeJoin                = "join"
	TypeMessage             = "message"
	TypeSendFriendRequest   = "sendFriendRequest"
	TypeAcceptFriendRequest = "acceptFriendRequest"
	TypeRejectFriendRequest = "rejectFriendRequest"
	TypeGetFriendRequests   = "getFriendRequests"
	TypeGetFriendList       = "getFriendList"
	TypeGetOnlineUsers      = "getOnlineUsers"
	TypeCheckFriendStatus   = "checkFriendStatus"
	TypePrivateMessage      = "privateMessage"
	TypeGetPrivateHistory   = "getPrivateHistory"
)

// Server -> client events. TypeMessage and TypePrivateMessage are used in
// both directions.
const (
	TypeUserList              = "userList"
	TypeUserJoined            = "userJoined"
	TypeUserLeft              = "userLeft"
	TypeFriendRequest         = "friendRequest"
	TypeFriendRequests        = "friendRequests"
	TypeFriendRequestSent     = "friendRequestSent"
	TypeFriendRequestError    = "friendRequestError"
	TypeFriendRequestAccepted = "friendRequestAccepted"
	TypeFriendRequestRejected = "friendRequestRejected"
	TypeFriendListUpdate      = "friendListUpdate"
	TypeFriendStatus          = "friendStatus"
	TypePrivateHistory        = "privateHistory"
	TypeError                 = "error"
)

// Event is the envelope of every frame exchanged over a connection.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseEvent decodes a single frame.
func ParseEvent(raw []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return &evt, nil
}

// Decode unmarshals the event payload into v. An absent payload leaves v
// untouched.
func (e *Event) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidEvent, e.Type, err)
	}
	return nil
}

// Encode builds a frame for eventType carrying data.
func Encode(eventType string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", eventType, err)
		}
		raw = b
	}
	return json.Marshal(Event{Type: eventType, Data: raw})
}

// LoginName extracts the username of a login event. Both a bare JSON string
// and {"username": "..."} are accepted.
func (e *Event) LoginName() (string, error) {
	var name string
	if err := json.Unmarshal(e.Data, &name); err == nil {
		return name, nil
	}
	var p UsernamePayload
	if err := e.Decode(&p); err != nil {
		return "", err
	}
	return p.Username, nil
}
