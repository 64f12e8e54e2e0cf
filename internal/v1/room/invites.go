package room

import (
	"encoding/json"
	"time"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PendingInvite is a host invitation awaiting the target's response. Invites
// live in memory only; a hibernated room simply forgets them and the lobby
// side expires on its own clock.
type PendingInvite struct {
	ID           string `json:"id"`
	TargetUserID string `json:"targetUserId"`
	TargetName   string `json:"targetName"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`

	timer *time.Timer
}

// JoinRequest is a lobby user asking the host for entry to a private room.
type JoinRequest struct {
	ID            string `json:"id"`
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
	AvatarSeed    string `json:"avatarSeed"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// --- Invites (host side) ---

func (r *Room) handleSendInvite(c *transport.Conn, cmd protocol.Command) string {
	st, ok := r.requireHost(c, cmd.CorrelationID)
	if !ok {
		return "error"
	}
	if st.Status != StatusWaiting {
		sendError(c, cmd.CorrelationID, protocol.ErrGameInProgress, "room is not accepting invites")
		return "error"
	}
	var payload struct {
		TargetUserID string `json:"targetUserId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.TargetUserID == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "targetUserId is required")
		return "error"
	}
	if r.rosterSize() >= st.Settings.MaxPlayers {
		sendError(c, cmd.CorrelationID, protocol.ErrRoomFull, "room is full")
		return "error"
	}
	if r.loadSeats()[payload.TargetUserID] != nil {
		sendError(c, cmd.CorrelationID, protocol.ErrAlreadyInRoom, "user already has a seat")
		return "error"
	}
	for _, inv := range r.invites {
		if inv.TargetUserID == payload.TargetUserID {
			sendError(c, cmd.CorrelationID, protocol.ErrAlreadyInvited, "user already invited")
			return "error"
		}
	}
	if !r.lobby.IsUserOnline(payload.TargetUserID) {
		sendError(c, cmd.CorrelationID, protocol.ErrUserOffline, "user is not online")
		return "error"
	}
	targetName, _, _ := r.lobby.GetOnlineUserInfo(payload.TargetUserID)

	nowMs := r.now().UnixMilli()
	inv := &PendingInvite{
		ID:           uuid.NewString(),
		TargetUserID: payload.TargetUserID,
		TargetName:   targetName,
		CreatedAt:    nowMs,
		ExpiresAt:    nowMs + InviteTTL.Milliseconds(),
	}

	hostName := st.HostUserID
	if seat := r.seats[st.HostUserID]; seat != nil {
		hostName = seat.DisplayName
	}
	delivered := r.lobby.DeliverInvite(InviteDelivery{
		InviteID:     inv.ID,
		RoomCode:     r.code,
		TargetUserID: inv.TargetUserID,
		HostUserID:   st.HostUserID,
		HostName:     hostName,
		ExpiresAt:    inv.ExpiresAt,
	})
	if !delivered {
		sendError(c, cmd.CorrelationID, protocol.ErrDeliveryFailed, "could not deliver invite")
		return "error"
	}

	r.invites[inv.ID] = inv
	inv.timer = time.AfterFunc(InviteTTL, func() { r.expireInvite(inv.ID) })

	c.SendEvent(protocol.NewEvent(protocol.EventInviteSent, inv).WithCorrelation(cmd.CorrelationID))
	logging.Info(r.ctx(), "Invite sent",
		zap.String("invite_id", inv.ID), zap.String("target", inv.TargetUserID))
	return "ok"
}

func (r *Room) handleCancelInvite(c *transport.Conn, cmd protocol.Command) string {
	if _, ok := r.requireHost(c, cmd.CorrelationID); !ok {
		return "error"
	}
	var payload struct {
		InviteID string `json:"inviteId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.InviteID == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "inviteId is required")
		return "error"
	}
	inv, ok := r.invites[payload.InviteID]
	if !ok {
		sendError(c, cmd.CorrelationID, protocol.ErrInviteNotFound, "no such invite")
		return "error"
	}
	r.dropInvite(inv, "cancelled")
	c.SendEvent(protocol.NewEvent(protocol.EventInviteCancelled, map[string]any{
		"inviteId": inv.ID,
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

// expireInvite fires from the invite's own timer.
func (r *Room) expireInvite(inviteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	inv, ok := r.invites[inviteID]
	if !ok {
		return
	}
	r.dropInvite(inv, "expired")
	r.sendToHost(protocol.NewEvent(protocol.EventInviteExpired, map[string]any{
		"inviteId":     inv.ID,
		"targetUserId": inv.TargetUserID,
	}))
}

// dropInvite removes the invite and withdraws it from the lobby.
func (r *Room) dropInvite(inv *PendingInvite, reason string) {
	if inv.timer != nil {
		inv.timer.Stop()
	}
	delete(r.invites, inv.ID)
	r.lobby.CancelInvite(InviteCancellation{
		InviteID:     inv.ID,
		RoomCode:     r.code,
		TargetUserID: inv.TargetUserID,
		Reason:       reason,
	})
}

// cancelAllInvites bulk-withdraws every outstanding invite. Runs when the
// room fills, the host leaves, or a game starts.
func (r *Room) cancelAllInvites(reason string) {
	if len(r.invites) == 0 {
		return
	}
	for _, inv := range r.invites {
		r.dropInvite(inv, reason)
	}
	r.sendToHost(protocol.NewEvent(protocol.EventInviteCancelled, map[string]any{
		"reason": reason,
	}))
	logging.Info(r.ctx(), "All invites cancelled", zap.String("reason", reason))
}

// HandleInviteResponse is called by the lobby when the invitee accepts or
// declines. Returns the resulting status for the invitee: "accepted",
// "declined", "expired", or "room_full".
func (r *Room) HandleInviteResponse(inviteID, userID string, accept bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invites[inviteID]
	if !ok || inv.TargetUserID != userID {
		return "expired"
	}
	if inv.timer != nil {
		inv.timer.Stop()
	}
	delete(r.invites, inviteID)

	if !accept {
		r.sendToHost(protocol.NewEvent(protocol.EventInviteDeclined, map[string]any{
			"inviteId":     inv.ID,
			"targetUserId": inv.TargetUserID,
			"targetName":   inv.TargetName,
		}))
		return "declined"
	}

	st := r.loadState()
	if st == nil || r.rosterSize() >= st.Settings.MaxPlayers {
		return "room_full"
	}
	r.sendToHost(protocol.NewEvent(protocol.EventInviteAccepted, map[string]any{
		"inviteId":     inv.ID,
		"targetUserId": inv.TargetUserID,
		"targetName":   inv.TargetName,
	}))
	return "accepted"
}

// --- Join requests ---

// HandleJoinRequest is called by the lobby when a user asks to join. Returns
// the request id, or "" when the room cannot take the request.
func (r *Room) HandleJoinRequest(requesterID, requesterName, avatarSeed string) (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.loadState()
	if st == nil {
		return "", protocol.ErrRoomNotFound
	}
	if st.Status != StatusWaiting {
		return "", protocol.ErrGameInProgress
	}
	if r.loadSeats()[requesterID] != nil {
		return "", protocol.ErrAlreadyInRoom
	}
	if r.rosterSize() >= st.Settings.MaxPlayers {
		return "", protocol.ErrRoomFull
	}
	for _, req := range r.requests {
		if req.RequesterID == requesterID {
			return req.ID, ""
		}
	}

	nowMs := r.now().UnixMilli()
	req := &JoinRequest{
		ID:            uuid.NewString(),
		RequesterID:   requesterID,
		RequesterName: requesterName,
		AvatarSeed:    avatarSeed,
		CreatedAt:     nowMs,
		ExpiresAt:     nowMs + JoinRequestTTL.Milliseconds(),
	}
	r.requests[req.ID] = req
	r.alarm.scheduleEarliest(JoinRequestTTL, AlarmData{
		Type:     AlarmJoinRequestExp,
		Metadata: map[string]string{"requestId": req.ID},
	})

	r.sendToHost(protocol.NewEvent(protocol.EventJoinRequestReceived, req))
	logging.Info(r.ctx(), "Join request received",
		zap.String("request_id", req.ID), zap.String("requester", requesterID))
	return req.ID, ""
}

// CancelJoinRequest is called by the lobby when the requester withdraws.
func (r *Room) CancelJoinRequest(requestID, requesterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok || req.RequesterID != requesterID {
		return false
	}
	delete(r.requests, requestID)
	r.sendToHost(protocol.NewEvent(protocol.EventJoinRequestCancelled, map[string]any{
		"requestId":     req.ID,
		"requesterId":   req.RequesterID,
		"requesterName": req.RequesterName,
	}))
	return true
}

// handleJoinRequestResponse is the host's verdict on a pending request.
func (r *Room) handleJoinRequestResponse(c *transport.Conn, cmd protocol.Command) string {
	if _, ok := r.requireHost(c, cmd.CorrelationID); !ok {
		return "error"
	}
	var payload struct {
		RequestID string `json:"requestId"`
		Accept    bool   `json:"accept"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.RequestID == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "requestId is required")
		return "error"
	}
	req, ok := r.requests[payload.RequestID]
	if !ok {
		sendError(c, cmd.CorrelationID, protocol.ErrRequestNotFound, "no such join request")
		return "error"
	}
	delete(r.requests, payload.RequestID)

	status := "declined"
	if payload.Accept {
		st := r.loadState()
		if st != nil && r.rosterSize() >= st.Settings.MaxPlayers {
			status = "room_full"
		} else {
			status = "accepted"
		}
	}
	r.lobby.DeliverJoinRequestResponse(JoinRequestOutcome{
		RequestID:   req.ID,
		RoomCode:    r.code,
		RequesterID: req.RequesterID,
		Status:      status,
	})
	c.SendEvent(protocol.NewEvent(protocol.EventJoinRequestResolved, map[string]any{
		"requestId": req.ID,
		"status":    status,
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

// handleJoinRequestExpiration fires from the alarm slot. A request answered
// in the meantime is already gone and the fire is a no-op.
func (r *Room) handleJoinRequestExpiration(requestID string) {
	req, ok := r.requests[requestID]
	if !ok {
		return
	}
	delete(r.requests, requestID)

	r.sendToHost(protocol.NewEvent(protocol.EventJoinRequestExpired, map[string]any{
		"requestId":     req.ID,
		"requesterId":   req.RequesterID,
		"requesterName": req.RequesterName,
	}))
	r.lobby.DeliverJoinRequestResponse(JoinRequestOutcome{
		RequestID:   req.ID,
		RoomCode:    r.code,
		RequesterID: req.RequesterID,
		Status:      "expired",
	})
}
