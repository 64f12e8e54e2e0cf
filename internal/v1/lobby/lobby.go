// Package lobby implements the singleton lobby actor: presence, the room
// directory, lobby chat, and the relay between room hosts and users who are
// still browsing (invites and join requests).
package lobby

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dicehall/dicehall/internal/v1/chat"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/ratelimit"
	"github.com/dicehall/dicehall/internal/v1/room"
	"github.com/dicehall/dicehall/internal/v1/store"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// ChatRate is how many lobby chat messages one user may send per minute.
const ChatRate = "30-M"

// Persistent storage keys in the lobby namespace.
const (
	keyDirectory   = "rooms"
	keyChatHistory = "chat_history"
)

// RoomResolver lets the lobby forward user actions to room actors without
// importing the hub. The hub wires its room registry in after construction.
type RoomResolver interface {
	// HandleJoinRequest returns the request id, or an error code.
	HandleJoinRequest(code, requesterID, requesterName, avatarSeed string) (string, string)
	CancelJoinRequest(code, requestID, requesterID string) bool
	// HandleInviteResponse returns "accepted", "declined", "expired", or
	// "room_full".
	HandleInviteResponse(code, inviteID, userID string, accept bool) string
}

// OnlineUser is one entry in the presence list.
type OnlineUser struct {
	UserID          string `json:"userId"`
	DisplayName     string `json:"displayName"`
	AvatarSeed      string `json:"avatarSeed"`
	CurrentRoomCode string `json:"currentRoomCode,omitempty"`
}

// Lobby is the singleton actor. Like a Room it serializes on one mutex and
// treats its KV namespace as the source of truth for the room directory.
type Lobby struct {
	mu    sync.Mutex
	kv    *store.KV
	reg   *transport.Registry
	rooms RoomResolver

	dirLoaded bool
	directory map[string]room.RoomStatusUpdate

	chat       *chat.Manager
	chatLoaded bool
	chatLimit  *ratelimit.Limiter

	removals map[string]*time.Timer
	now      func() time.Time
	closed   bool
}

// New constructs the lobby over its KV namespace.
func New(kv *store.KV, chatLimit *ratelimit.Limiter) *Lobby {
	return &Lobby{
		kv:        kv,
		reg:       transport.NewRegistry(),
		directory: make(map[string]room.RoomStatusUpdate),
		chat:      chat.NewManager(),
		chatLimit: chatLimit,
		removals:  make(map[string]*time.Timer),
		now:       time.Now,
	}
}

// SetResolver wires the room registry in. Must be called before serving.
func (l *Lobby) SetResolver(r RoomResolver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms = r
}

func (l *Lobby) ctx() context.Context {
	return logging.WithRoom(context.Background(), "lobby")
}

// Registry exposes the connection registry to the hub's debug surface.
func (l *Lobby) Registry() *transport.Registry { return l.reg }

// OnConnect greets a new lobby socket with presence, directory, and chat.
func (l *Lobby) OnConnect(c *transport.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		c.CloseWithCode(protocol.CloseNormal, "server shutting down")
		return
	}

	att := c.Attachment()
	firstTab := l.reg.CountByTag(transport.UserTag(att.UserID)) == 0
	l.reg.Add(c)

	c.SendEvent(protocol.NewEvent(protocol.EventPresenceInit, map[string]any{
		"users": l.onlineUsers(),
	}))
	c.SendEvent(protocol.NewEvent(protocol.EventLobbyRoomsList, map[string]any{
		"rooms": l.sortedRooms(),
	}))
	c.SendEvent(protocol.NewEvent(protocol.EventLobbyChatHistory, map[string]any{
		"messages": l.loadChat().GetHistory(),
	}))

	// Only the user's first tab announces them.
	if firstTab {
		l.broadcast(protocol.NewEvent(protocol.EventPresenceJoin, OnlineUser{
			UserID:      att.UserID,
			DisplayName: att.DisplayName,
			AvatarSeed:  att.AvatarSeed,
		}))
		l.broadcastOnlineUsers()
	}
	l.updatePresenceMetric()
}

// OnClose runs when a lobby socket's read side ends.
func (l *Lobby) OnClose(c *transport.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.reg.Remove(c)
	att := c.Attachment()
	if l.reg.CountByTag(transport.UserTag(att.UserID)) == 0 {
		l.broadcast(protocol.NewEvent(protocol.EventPresenceLeave, map[string]any{
			"userId": att.UserID,
		}))
		l.broadcastOnlineUsers()
	}
	l.updatePresenceMetric()
}

// HandleMessage parses one inbound frame and dispatches it.
func (l *Lobby) HandleMessage(c *transport.Conn, data []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
		l.sendError(c, "", protocol.ErrInvalidMessage, "malformed command envelope")
		return
	}

	start := time.Now()
	status := l.dispatch(c, cmd)
	metrics.Commands.WithLabelValues(cmd.Type, status).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Type).Observe(time.Since(start).Seconds())
}

// dispatch routes one command. Handlers that touch lobby state lock l.mu
// themselves; the relay handlers (join requests, invite responses) must NOT
// hold it while calling into a room actor, since rooms also call back into
// the lobby under their own lock.
func (l *Lobby) dispatch(c *transport.Conn, cmd protocol.Command) string {
	switch cmd.Type {
	case protocol.CmdPing:
		c.SendEvent(protocol.NewEvent(protocol.EventPong, map[string]any{}).WithCorrelation(cmd.CorrelationID))
		return "ok"
	case protocol.CmdLobbyChat:
		return l.handleChat(c, cmd)
	case protocol.CmdGetRooms:
		l.mu.Lock()
		rooms := l.sortedRooms()
		l.mu.Unlock()
		c.SendEvent(protocol.NewEvent(protocol.EventLobbyRoomsList, map[string]any{
			"rooms": rooms,
		}).WithCorrelation(cmd.CorrelationID))
		return "ok"
	case protocol.CmdGetOnlineUsers:
		l.mu.Lock()
		users := l.onlineUsers()
		l.mu.Unlock()
		c.SendEvent(protocol.NewEvent(protocol.EventLobbyOnlineUsers, map[string]any{
			"users": users,
		}).WithCorrelation(cmd.CorrelationID))
		return "ok"
	case protocol.CmdRequestJoin:
		return l.handleRequestJoin(c, cmd)
	case protocol.CmdCancelJoinRequest:
		return l.handleCancelJoinRequest(c, cmd)
	case protocol.CmdInviteResponse:
		return l.handleInviteResponse(c, cmd)
	case protocol.CmdRoomCreated, protocol.CmdRoomUpdated, protocol.CmdRoomClosed:
		// Legacy client chatter; rooms publish their own status now.
		return "ok"
	default:
		l.sendError(c, cmd.CorrelationID, protocol.ErrUnknownCommand, "unknown command: "+cmd.Type)
		return "error"
	}
}

func (l *Lobby) handleChat(c *transport.Conn, cmd protocol.Command) string {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		l.sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "malformed chat payload")
		return "error"
	}

	att := c.Attachment()
	if !l.chatLimit.Allow(l.ctx(), att.UserID) {
		l.sendError(c, cmd.CorrelationID, protocol.ErrRateLimited, "slow down")
		return "error"
	}

	l.mu.Lock()
	msg, ok := l.loadChat().HandleTextMessage(att.UserID, att.DisplayName, payload.Content)
	if ok {
		l.saveChat()
	}
	l.mu.Unlock()
	if !ok {
		l.sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "empty or oversized message")
		return "error"
	}
	l.broadcast(protocol.NewEvent(protocol.EventLobbyChatMessage, msg).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

func (l *Lobby) handleRequestJoin(c *transport.Conn, cmd protocol.Command) string {
	var payload struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.RoomCode == "" {
		l.sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "roomCode is required")
		return "error"
	}
	if l.rooms == nil {
		l.sendError(c, cmd.CorrelationID, protocol.ErrInternal, "room resolver not available")
		return "error"
	}

	att := c.Attachment()
	requestID, errCode := l.rooms.HandleJoinRequest(payload.RoomCode, att.UserID, att.DisplayName, att.AvatarSeed)
	if errCode != "" {
		c.SendEvent(protocol.NewEvent(protocol.EventJoinRequestError, map[string]any{
			"roomCode": payload.RoomCode,
			"code":     errCode,
		}).WithCorrelation(cmd.CorrelationID))
		return "error"
	}
	c.SendEvent(protocol.NewEvent(protocol.EventJoinRequestSent, map[string]any{
		"requestId": requestID,
		"roomCode":  payload.RoomCode,
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

func (l *Lobby) handleCancelJoinRequest(c *transport.Conn, cmd protocol.Command) string {
	var payload struct {
		RoomCode  string `json:"roomCode"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.RoomCode == "" || payload.RequestID == "" {
		l.sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "roomCode and requestId are required")
		return "error"
	}
	if l.rooms == nil || !l.rooms.CancelJoinRequest(payload.RoomCode, payload.RequestID, c.Attachment().UserID) {
		l.sendError(c, cmd.CorrelationID, protocol.ErrRequestNotFound, "no such join request")
		return "error"
	}
	c.SendEvent(protocol.NewEvent(protocol.EventJoinRequestCancelled, map[string]any{
		"requestId": payload.RequestID,
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

func (l *Lobby) handleInviteResponse(c *transport.Conn, cmd protocol.Command) string {
	var payload struct {
		RoomCode string `json:"roomCode"`
		InviteID string `json:"inviteId"`
		Accept   bool   `json:"accept"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.RoomCode == "" || payload.InviteID == "" {
		l.sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "roomCode and inviteId are required")
		return "error"
	}
	if l.rooms == nil {
		l.sendError(c, cmd.CorrelationID, protocol.ErrInternal, "room resolver not available")
		return "error"
	}

	status := l.rooms.HandleInviteResponse(payload.RoomCode, payload.InviteID, c.Attachment().UserID, payload.Accept)
	switch status {
	case "accepted":
		c.SendEvent(protocol.NewEvent(protocol.EventJoinApproved, map[string]any{
			"roomCode": payload.RoomCode,
		}).WithCorrelation(cmd.CorrelationID))
		return "ok"
	case "declined":
		c.SendEvent(protocol.NewEvent(protocol.EventJoinDeclined, map[string]any{
			"roomCode": payload.RoomCode,
		}).WithCorrelation(cmd.CorrelationID))
		return "ok"
	case "room_full":
		l.sendError(c, cmd.CorrelationID, protocol.ErrRoomFull, "room filled up before you answered")
		return "error"
	default:
		l.sendError(c, cmd.CorrelationID, protocol.ErrInviteNotFound, "invite expired or withdrawn")
		return "error"
	}
}

// Close tears the lobby down.
func (l *Lobby) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for _, t := range l.removals {
		t.Stop()
	}
	for _, c := range l.reg.All() {
		c.CloseWithCode(protocol.CloseNormal, "server shutting down")
		l.reg.Remove(c)
	}
}

func (l *Lobby) broadcast(ev protocol.Event) {
	l.reg.BroadcastAll(ev)
}

func (l *Lobby) sendError(c *transport.Conn, corr, code, message string) {
	c.SendEvent(protocol.NewEvent(protocol.EventLobbyError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	}).WithCorrelation(corr))
}

// broadcastOnlineUsers fans the full presence list out to every tab. Runs on
// every presence transition. Callers hold l.mu.
func (l *Lobby) broadcastOnlineUsers() {
	l.broadcast(protocol.NewEvent(protocol.EventLobbyOnlineUsers, map[string]any{
		"users": l.onlineUsers(),
	}))
}

// onlineUsers lists unique connected users. Callers hold l.mu.
func (l *Lobby) onlineUsers() []OnlineUser {
	seen := map[string]bool{}
	out := []OnlineUser{}
	for _, c := range l.reg.All() {
		att := c.Attachment()
		if seen[att.UserID] {
			continue
		}
		seen[att.UserID] = true
		out = append(out, OnlineUser{
			UserID:          att.UserID,
			DisplayName:     att.DisplayName,
			AvatarSeed:      att.AvatarSeed,
			CurrentRoomCode: att.CurrentRoomCode,
		})
	}
	return out
}

func (l *Lobby) updatePresenceMetric() {
	seen := map[string]bool{}
	for _, c := range l.reg.All() {
		seen[c.Attachment().UserID] = true
	}
	metrics.LobbyOnlineUsers.Set(float64(len(seen)))
}

func (l *Lobby) loadChat() *chat.Manager {
	if l.chatLoaded {
		return l.chat
	}
	var history []chat.Message
	found, err := l.kv.GetJSON(l.ctx(), keyChatHistory, &history)
	if err != nil {
		logging.Error(l.ctx(), "Failed to load lobby chat history", zap.Error(err))
	}
	if found {
		l.chat.RestoreHistory(history)
	}
	l.chatLoaded = true
	return l.chat
}

func (l *Lobby) saveChat() {
	if err := l.kv.PutJSON(l.ctx(), keyChatHistory, l.chat.GetHistory()); err != nil {
		logging.Error(l.ctx(), "Failed to persist lobby chat history", zap.Error(err))
	}
}
