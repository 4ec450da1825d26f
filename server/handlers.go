package server

import (
	"errors"

	"relay/chat"
	"relay/friends"
	"relay/protocol"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

// dispatch handles one inbound frame. A panicking handler is logged and the
// connection keeps running.
func (s *Server) dispatch(c *Client, raw []byte) {
	var pc panics.Catcher
	pc.Try(func() { s.handleFrame(c, raw) })
	if r := pc.Recovered(); r != nil {
		s.clientLog(c).WithField("panic", r.Value).Errorf("Event handler panic\n%s", r.Stack)
		s.sendError(c, "", "Internal error")
	}
}

func (s *Server) handleFrame(c *Client, raw []byte) {
	evt, err := protocol.ParseEvent(raw)
	if err != nil {
		s.metrics.events.WithLabelValues("invalid").Inc()
		s.clientLog(c).Debugf("Parse error: %v", err)
		s.sendError(c, "", "Invalid event format")
		return
	}
	s.handleEvent(c, evt)
}

func (s *Server) handleEvent(c *Client, evt *protocol.Event) {
	s.metrics.events.WithLabelValues(eventLabel(evt.Type)).Inc()

	switch evt.Type {
	case protocol.TypeLogin, protocol.TypeJoin:
		s.handleLogin(c, evt)
	case protocol.TypeMessage:
		s.handlePublicMessage(c, evt)
	case protocol.TypeSendFriendRequest:
		s.handleSendFriendRequest(c, evt)
	case protocol.TypeAcceptFriendRequest:
		s.handleAcceptFriendRequest(c, evt)
	case protocol.TypeRejectFriendRequest:
		s.handleRejectFriendRequest(c, evt)
	case protocol.TypeGetFriendRequests:
		s.handleGetFriendRequests(c, evt)
	case protocol.TypeGetFriendList:
		s.handleGetFriendList(c, evt)
	case protocol.TypeGetOnlineUsers:
		s.reply(c, protocol.TypeUserList, protocol.UserListPayload{Users: s.registry.OnlineUsernames()})
	case protocol.TypeCheckFriendStatus:
		s.handleCheckFriendStatus(c, evt)
	case protocol.TypePrivateMessage:
		s.handlePrivateMessage(c, evt)
	case protocol.TypeGetPrivateHistory:
		s.handleGetPrivateHistory(c, evt)
	default:
		s.sendError(c, evt.Type, "Unknown event type")
	}
}

var knownEvents = map[string]bool{
	protocol.TypeLogin:               true,
	protocol.TypeJoin:                true,
	protocol.TypeMessage:             true,
	protocol.TypeSendFriendRequest:   true,
	protocol.TypeAcceptFriendRequest: true,
	protocol.TypeRejectFriendRequest: true,
	protocol.TypeGetFriendRequests:   true,
	protocol.TypeGetFriendList:       true,
	protocol.TypeGetOnlineUsers:      true,
	protocol.TypeCheckFriendStatus:   true,
	protocol.TypePrivateMessage:      true,
	protocol.TypeGetPrivateHistory:   true,
}

// eventLabel keeps the metric label set bounded.
func eventLabel(eventType string) string {
	if knownEvents[eventType] {
		return eventType
	}
	return "unknown"
}

func (s *Server) handleLogin(c *Client, evt *protocol.Event) {
	username, err := evt.LoginName()
	if err != nil || username == "" {
		s.sendError(c, evt.Type, "Username required")
		return
	}

	change := s.registry.Register(c.id, username)
	s.updatePresenceGauges()
	s.clientLog(c).Infof("Joined as %s", username)

	if change.Departed != "" {
		s.announceDeparture(change.Departed)
	}
	if change.Joined {
		s.broadcast(protocol.TypeUserJoined, protocol.PresencePayload{
			Username: username,
			Users:    s.registry.OnlineUsernames(),
		})
		s.notifyFriends(username)
	}
	s.broadcastUserList()
	s.replyFriendRequests(c, username)
}

// disconnect runs once per connection when its read pump exits.
func (s *Server) disconnect(c *Client) {
	s.hub.remove(c)
	s.metrics.connections.Set(float64(s.hub.Count()))

	username, left, ok := s.registry.Unregister(c.id)
	if !ok {
		s.log.WithFields(logrus.Fields{"conn": c.id, "addr": c.addr}).Info("Client disconnected")
		return
	}
	s.updatePresenceGauges()
	s.log.WithFields(logrus.Fields{"conn": c.id, "addr": c.addr, "user": username}).Info("Client disconnected")

	if left {
		s.announceDeparture(username)
	}
	s.broadcastUserList()
}

func (s *Server) announceDeparture(username string) {
	s.broadcast(protocol.TypeUserLeft, protocol.PresencePayload{
		Username: username,
		Users:    s.registry.OnlineUsernames(),
	})
	s.notifyFriends(username)
}

func (s *Server) handlePublicMessage(c *Client, evt *protocol.Event) {
	var p protocol.ChatPayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}

	if _, err := s.router.BroadcastPublic(c.id, p.Message, p.Type); err != nil {
		if errors.Is(err, chat.ErrNotJoined) {
			s.sendError(c, evt.Type, "Not joined")
			return
		}
		s.clientLog(c).Errorf("Broadcast error: %v", err)
		s.sendError(c, evt.Type, "Internal error")
		return
	}
	s.metrics.messages.WithLabelValues("public").Inc()
}

func (s *Server) handleSendFriendRequest(c *Client, evt *protocol.Event) {
	var p protocol.FriendRequestPayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	from := s.actingUser(c, p.From)
	if from == "" || p.To == "" {
		s.sendError(c, evt.Type, "Sender and recipient required")
		return
	}

	req, err := s.friends.SendRequest(from, p.To)
	if err != nil {
		code := friendRequestErrorCode(err)
		s.metrics.friendRequests.WithLabelValues(code).Inc()
		s.reply(c, protocol.TypeFriendRequestError, protocol.FriendRequestErrorPayload{
			From:  from,
			To:    p.To,
			Code:  code,
			Error: err.Error(),
		})
		return
	}

	s.metrics.friendRequests.WithLabelValues("sent").Inc()
	s.clientLog(c).Infof("Friend request %s -> %s", from, p.To)
	s.reply(c, protocol.TypeFriendRequestSent, protocol.FriendRequestEnvelope{Request: req})
	s.sendToUser(p.To, protocol.TypeFriendRequest, protocol.FriendRequestEnvelope{Request: req})
}

func (s *Server) handleAcceptFriendRequest(c *Client, evt *protocol.Event) {
	var p protocol.FriendRequestPayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	p.To = s.actingUser(c, p.To)
	if p.RequestID == "" || p.From == "" || p.To == "" {
		s.sendError(c, evt.Type, "Request id, sender and recipient required")
		return
	}

	res := s.friends.Accept(p.RequestID, p.From, p.To)
	if res.Request.ID != "" {
		s.metrics.friendRequests.WithLabelValues("accepted").Inc()
		s.clientLog(c).Infof("%s and %s are now friends", p.From, p.To)
	}

	// Nothing consumed and no friendship: the request was rejected or never
	// existed. Only the caller hears back, with its current state.
	if res.Request.ID == "" && !s.friends.CheckFriendship(p.From, p.To) {
		s.clientLog(c).Debugf("Accept of unknown request %s from %s", p.RequestID, p.From)
		s.reply(c, protocol.TypeFriendListUpdate, s.friendList(p.To))
		s.replyFriendRequests(c, p.To)
		return
	}

	s.reply(c, protocol.TypeFriendRequestAccepted, p)
	s.sendToUser(p.From, protocol.TypeFriendRequestAccepted, p)
	s.pushFriendList(p.From)
	s.pushFriendList(p.To)
	s.replyFriendRequests(c, p.To)
}

func (s *Server) handleRejectFriendRequest(c *Client, evt *protocol.Event) {
	var p protocol.FriendRequestPayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	p.To = s.actingUser(c, p.To)
	if p.RequestID == "" || p.To == "" {
		s.sendError(c, evt.Type, "Request id and recipient required")
		return
	}

	if req, removed := s.friends.Reject(p.RequestID, p.To); removed {
		s.metrics.friendRequests.WithLabelValues("rejected").Inc()
		p.From = req.From
		s.sendToUser(req.From, protocol.TypeFriendRequestRejected, p)
	}
	s.reply(c, protocol.TypeFriendRequestRejected, p)
	s.replyFriendRequests(c, p.To)
}

func (s *Server) handleGetFriendRequests(c *Client, evt *protocol.Event) {
	var p protocol.UsernamePayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	username := s.actingUser(c, p.Username)
	if username == "" {
		s.sendError(c, evt.Type, "Username required")
		return
	}
	s.replyFriendRequests(c, username)
}

func (s *Server) handleGetFriendList(c *Client, evt *protocol.Event) {
	var p protocol.UsernamePayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	username := s.actingUser(c, p.Username)
	if username == "" {
		s.sendError(c, evt.Type, "Username required")
		return
	}
	s.reply(c, protocol.TypeFriendListUpdate, s.friendList(username))
}

func (s *Server) handleCheckFriendStatus(c *Client, evt *protocol.Event) {
	var p protocol.UserPairPayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	p.User1 = s.actingUser(c, p.User1)
	if p.User1 == "" || p.User2 == "" {
		s.sendError(c, evt.Type, "Two usernames required")
		return
	}

	state := s.friends.State(p.User1, p.User2)
	s.reply(c, protocol.TypeFriendStatus, protocol.FriendStatusPayload{
		User1:      p.User1,
		User2:      p.User2,
		AreFriends: state == friends.StateFriends,
		State:      string(state),
	})
}

func (s *Server) handlePrivateMessage(c *Client, evt *protocol.Event) {
	var p protocol.PrivateMessagePayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	from := s.actingUser(c, p.From)
	if from == "" {
		s.sendError(c, evt.Type, "Not joined")
		return
	}
	if p.To == "" {
		s.sendError(c, evt.Type, "Recipient required")
		return
	}
	if p.Content == "" {
		s.sendError(c, evt.Type, "Message text required")
		return
	}

	d, err := s.router.SendPrivate(from, p.To, p.Content, p.Type)
	if err != nil {
		s.clientLog(c).Errorf("Private message error: %v", err)
		s.sendError(c, evt.Type, "Internal error")
		return
	}
	s.metrics.messages.WithLabelValues("private").Inc()
	s.metrics.threads.Set(float64(s.router.ThreadCount()))
	s.clientLog(c).Debugf("Private message %s -> %s delivered to %d connections", from, p.To, d.Delivered)
}

func (s *Server) handleGetPrivateHistory(c *Client, evt *protocol.Event) {
	var p protocol.UserPairPayload
	if err := evt.Decode(&p); err != nil {
		s.sendError(c, evt.Type, "Invalid payload")
		return
	}
	p.User1 = s.actingUser(c, p.User1)
	if p.User1 == "" || p.User2 == "" {
		s.sendError(c, evt.Type, "Two usernames required")
		return
	}

	s.reply(c, protocol.TypePrivateHistory, protocol.PrivateHistoryPayload{
		User1:    p.User1,
		User2:    p.User2,
		Messages: s.router.History(p.User1, p.User2),
	})
}

// actingUser returns claimed when set, otherwise the username the
// connection joined with.
func (s *Server) actingUser(c *Client, claimed string) string {
	if claimed != "" {
		return claimed
	}
	username, _ := s.registry.Username(c.id)
	return username
}

func (s *Server) friendList(username string) protocol.FriendListPayload {
	return protocol.FriendListPayload{
		Username: username,
		Friends:  s.friends.FriendList(username, s.registry),
	}
}

// pushFriendList sends username's current friend list to all of its
// connections.
func (s *Server) pushFriendList(username string) {
	s.sendToUser(username, protocol.TypeFriendListUpdate, s.friendList(username))
}

// notifyFriends refreshes the friend lists of username's online friends
// after username came online or went offline.
func (s *Server) notifyFriends(username string) {
	for _, friend := range s.friends.FriendsOf(username) {
		if s.registry.IsOnline(friend) {
			s.pushFriendList(friend)
		}
	}
}

func (s *Server) replyFriendRequests(c *Client, username string) {
	s.reply(c, protocol.TypeFriendRequests, protocol.FriendRequestsPayload{
		Username: username,
		Requests: s.friends.RequestsFor(username),
	})
}

func (s *Server) broadcastUserList() {
	s.broadcast(protocol.TypeUserList, protocol.UserListPayload{Users: s.registry.OnlineUsernames()})
}

func (s *Server) updatePresenceGauges() {
	s.metrics.onlineUsers.Set(float64(len(s.registry.OnlineUsernames())))
	s.metrics.joinedConns.Set(float64(s.registry.ConnectionCount()))
}

func friendRequestErrorCode(err error) string {
	switch {
	case errors.Is(err, friends.ErrAlreadyFriends):
		return "already_friends"
	case errors.Is(err, friends.ErrDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, friends.ErrSelfRequest):
		return "self_request"
	default:
		return "error"
	}
}
