package room

import (
	"encoding/json"
	"time"

	"github.com/dicehall/dicehall/internal/v1/identity"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// connectedPayload is the body of CONNECTED / SPECTATOR_CONNECTED.
type connectedPayload struct {
	RoomCode    string         `json:"roomCode"`
	Players     []*Seat        `json:"players"`
	AIPlayers   []AIPlayer     `json:"aiPlayers"`
	Spectators  []spectatorRef `json:"spectators"`
	Status      string         `json:"status"`
	HostUserID  string         `json:"hostUserId"`
	Identity    any            `json:"identity"`
	Reconnected bool           `json:"reconnected"`
	IsHost      bool           `json:"isHost"`
	ChatHistory any            `json:"chatHistory,omitempty"`
}

type spectatorRef struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// AllowsSpectators reports whether a spectator upgrade may proceed. Called by
// the hub before accepting the socket; a missing room is allowed here and
// rejected with close 4004 in OnConnect.
func (r *Room) AllowsSpectators() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.loadState()
	return st == nil || st.Settings.AllowSpectators
}

// OnConnect runs once per accepted socket, after the upgrade response.
func (r *Room) OnConnect(c *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		c.CloseWithCode(protocol.CloseNormal, "room closed")
		return
	}

	att := c.Attachment()
	if att.Role == transport.RoleSpectator {
		r.onSpectatorConnect(c, att)
		return
	}
	r.onPlayerConnect(c, att)
}

func (r *Room) onSpectatorConnect(c *transport.Conn, att transport.Attachment) {
	st := r.loadState()
	if st == nil {
		c.CloseWithCode(protocol.CloseRoomNotFound, "room not found")
		return
	}
	if !st.Settings.AllowSpectators {
		sendError(c, "", protocol.ErrSpectatorsOff, "spectators are disabled for this room")
		c.CloseWithCode(protocol.CloseNormal, "spectators disabled")
		return
	}

	r.reg.Add(c)

	payload := r.buildConnectedPayload(att, false)
	payload.ChatHistory = r.loadChat().GetHistory()
	c.SendEvent(protocol.NewEvent(protocol.EventSpectatorConnected, payload))

	if st.Status == StatusPlaying || st.Status == StatusStarting {
		r.sendGameSync(c)
	}

	r.broadcastRoom(protocol.NewEvent(protocol.EventSpectatorJoined, map[string]any{
		"userId":      att.UserID,
		"displayName": att.DisplayName,
	}))
	r.publishStatus()
}

func (r *Room) onPlayerConnect(c *transport.Conn, att transport.Attachment) {
	st := r.loadState()
	if st == nil {
		r.createRoom(c, att)
		return
	}

	seats := r.loadSeats()
	seat, hasSeat := seats[att.UserID]
	nowMs := r.now().UnixMilli()

	if hasSeat && (seat.IsConnected || nowMs <= seat.ReconnectDeadline) {
		r.reconnectPlayer(c, att, seat)
		return
	}

	if hasSeat {
		// Seat expired while the room idled. Purge it, then treat the user
		// as a fresh join.
		r.expireSeat(seat)
	}

	if r.activeSeatCount() >= st.Settings.MaxPlayers {
		c.CloseWithCode(protocol.CloseRoomFull, "room is full")
		return
	}

	r.reserveSeat(c, att)
}

func (r *Room) createRoom(c *transport.Conn, att transport.Attachment) {
	nowMs := r.now().UnixMilli()
	r.state = &State{
		RoomCode:    r.code,
		HostUserID:  att.UserID,
		CreatedAt:   nowMs,
		Settings:    DefaultSettings(),
		PlayerOrder: []string{att.UserID},
		Status:      StatusWaiting,
		AIPlayers:   []AIPlayer{},
		Identity:    r.identity(),
	}
	r.stateLoaded = true
	r.seats = map[string]*Seat{att.UserID: {
		UserID:      att.UserID,
		DisplayName: att.DisplayName,
		AvatarSeed:  att.AvatarSeed,
		JoinedAt:    nowMs,
		IsConnected: true,
		IsHost:      true,
		TurnOrder:   0,
	}}
	r.seatsLoaded = true

	if err := r.kv.PutJSON(r.ctx(), keyRoomCode, r.code); err != nil {
		logging.Error(r.ctx(), "Failed to persist room code", zap.Error(err))
	}
	r.saveState()
	r.saveSeats()

	att.IsHost = true
	c.SetAttachment(att)
	r.reg.Add(c)
	metrics.ActiveRooms.Inc()

	c.SendEvent(protocol.NewEvent(protocol.EventConnected, r.buildConnectedPayload(att, false)))

	r.lobby.UpdateUserRoomStatus(att.UserID, r.code, "entered")
	r.publishStatus()
	logging.Info(r.ctx(), "Room created", zap.String("host", att.UserID))
}

func (r *Room) reconnectPlayer(c *transport.Conn, att transport.Attachment, seat *Seat) {
	st := r.state
	seat.IsConnected = true
	seat.DisconnectedAt = 0
	seat.ReconnectDeadline = 0
	seat.DisplayName = att.DisplayName
	r.saveSeats()

	att.IsHost = seat.IsHost
	c.SetAttachment(att)
	r.reg.Add(c)

	if st.Status == StatusPaused {
		r.resumeFromPause("player_reconnected")
	}

	r.broadcastRoom(protocol.NewEvent(protocol.EventPlayerReconnected, map[string]any{
		"userId":      seat.UserID,
		"displayName": seat.DisplayName,
	}))

	c.SendEvent(protocol.NewEvent(protocol.EventConnected, r.buildConnectedPayload(att, true)))
	if st.Status == StatusPlaying || st.Status == StatusStarting {
		r.sendGameSync(c)
	}

	r.lobby.UpdateUserRoomStatus(att.UserID, r.code, "entered")
	r.publishStatus()
}

func (r *Room) reserveSeat(c *transport.Conn, att transport.Attachment) {
	nowMs := r.now().UnixMilli()
	seat := &Seat{
		UserID:      att.UserID,
		DisplayName: att.DisplayName,
		AvatarSeed:  att.AvatarSeed,
		JoinedAt:    nowMs,
		IsConnected: true,
		TurnOrder:   len(r.seats),
	}
	r.seats[att.UserID] = seat
	r.state.PlayerOrder = append(r.state.PlayerOrder, att.UserID)
	r.saveSeats()
	r.saveState()

	c.SetAttachment(att)
	r.reg.Add(c)

	r.broadcastRoom(protocol.NewEvent(protocol.EventPlayerJoined, map[string]any{
		"userId":      seat.UserID,
		"displayName": seat.DisplayName,
		"turnOrder":   seat.TurnOrder,
	}))
	c.SendEvent(protocol.NewEvent(protocol.EventConnected, r.buildConnectedPayload(att, false)))

	if r.rosterSize() >= r.state.Settings.MaxPlayers {
		r.cancelAllInvites("room_full")
	}

	r.lobby.UpdateUserRoomStatus(att.UserID, r.code, "entered")
	r.publishStatus()
}

func (r *Room) buildConnectedPayload(att transport.Attachment, reconnected bool) connectedPayload {
	st := r.loadState()
	seats := make([]*Seat, 0, len(r.loadSeats()))
	for _, s := range r.seats {
		seats = append(seats, s)
	}
	specs := []spectatorRef{}
	for _, sc := range r.reg.ByTag(transport.SpectatorTag(r.code)) {
		a := sc.Attachment()
		specs = append(specs, spectatorRef{UserID: a.UserID, DisplayName: a.DisplayName})
	}
	payload := connectedPayload{
		RoomCode:    r.code,
		Players:     seats,
		Spectators:  specs,
		Reconnected: reconnected,
	}
	if st != nil {
		payload.AIPlayers = st.AIPlayers
		payload.Status = st.Status
		payload.HostUserID = st.HostUserID
		payload.Identity = st.Identity
		payload.IsHost = st.HostUserID == att.UserID
	}
	return payload
}

func (r *Room) sendGameSync(c *transport.Conn) {
	if gs := r.loadGame(); gs != nil {
		c.SendEvent(protocol.NewEvent(protocol.EventGameStateSync, gs))
	}
}

// OnClose runs exactly once when a socket's read side ends.
func (r *Room) OnClose(c *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.reg.Remove(c)
	att := c.Attachment()

	if att.Role == transport.RoleSpectator {
		r.onSpectatorClose(att)
		return
	}
	r.onPlayerClose(att)
}

func (r *Room) onSpectatorClose(att transport.Attachment) {
	r.queue.remove(att.UserID)
	r.broadcastQueueUpdate()
	r.broadcastRoom(protocol.NewEvent(protocol.EventSpectatorLeft, map[string]any{
		"userId":      att.UserID,
		"displayName": att.DisplayName,
	}))
	r.publishStatus()
}

func (r *Room) onPlayerClose(att transport.Attachment) {
	// Another tab may still hold the seat.
	if r.reg.CountByTag(transport.UserTag(att.UserID)) > 0 {
		return
	}

	st := r.loadState()
	seat, ok := r.loadSeats()[att.UserID]
	if st == nil || !ok {
		return
	}

	if st.Status == StatusCompleted {
		// Nothing to reconnect to once the game is over. The seat frees up
		// immediately instead of waiting out the reconnect window.
		delete(r.seats, att.UserID)
		st.PlayerOrder = removeString(st.PlayerOrder, att.UserID)
		r.saveState()
		r.saveSeats()
		r.broadcastRoom(protocol.NewEvent(protocol.EventPlayerLeft, map[string]any{
			"userId":      att.UserID,
			"displayName": att.DisplayName,
		}))
		if att.UserID == st.HostUserID && len(r.invites) > 0 {
			r.cancelAllInvites("host_left")
		}
		r.lobby.UpdateUserRoomStatus(att.UserID, r.code, "left")
		r.publishStatus()
		return
	}

	nowMs := r.now().UnixMilli()
	seat.IsConnected = false
	seat.DisconnectedAt = nowMs
	seat.ReconnectDeadline = nowMs + ReconnectWindow.Milliseconds()
	r.saveSeats()

	r.broadcastRoom(protocol.NewEvent(protocol.EventPlayerDisconnected, map[string]any{
		"userId":            seat.UserID,
		"displayName":       seat.DisplayName,
		"reconnectDeadline": seat.ReconnectDeadline,
	}))

	if att.UserID == st.HostUserID && len(r.invites) > 0 {
		r.cancelAllInvites("host_left")
	}

	r.scheduleSeatExpiration()

	r.lobby.UpdateUserRoomStatus(att.UserID, r.code, "left")
	r.publishStatus()

	if st.Status == StatusPlaying && r.connectedPlayerCount() == 0 {
		r.pauseRoom()
	}
}

// HandleMessage parses one inbound frame and dispatches it.
func (r *Room) HandleMessage(c *transport.Conn, data []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
		sendError(c, "", protocol.ErrInvalidMessage, "malformed command envelope")
		return
	}

	start := time.Now()
	status := r.dispatch(c, cmd)
	metrics.Commands.WithLabelValues(cmd.Type, status).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Type).Observe(time.Since(start).Seconds())
}

// dispatch routes one command. Returns "ok" or "error" for metrics.
func (r *Room) dispatch(c *transport.Conn, cmd protocol.Command) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch cmd.Type {
	case protocol.CmdPing:
		c.SendEvent(protocol.NewEvent(protocol.EventPong, map[string]any{}).WithCorrelation(cmd.CorrelationID))
		return "ok"

	case protocol.CmdStartGame:
		return r.handleStartGame(c, cmd)
	case protocol.CmdQuickPlayStart:
		return r.handleQuickPlayStart(c, cmd)
	case protocol.CmdAddAIPlayer:
		return r.handleAddAIPlayer(c, cmd)
	case protocol.CmdRemoveAIPlayer:
		return r.handleRemoveAIPlayer(c, cmd)
	case protocol.CmdDiceRoll:
		return r.handleDiceRoll(c, cmd)
	case protocol.CmdDiceKeep:
		return r.handleDiceKeep(c, cmd)
	case protocol.CmdCategoryScore:
		return r.handleCategoryScore(c, cmd)
	case protocol.CmdRematch:
		return r.handleRematch(c, cmd)

	case protocol.CmdPrediction:
		return r.handlePrediction(c, cmd)
	case protocol.CmdCancelPrediction:
		return r.handleCancelPrediction(c, cmd)
	case protocol.CmdGetPredictions:
		return r.handleGetPredictions(c, cmd)
	case protocol.CmdGetPredictionStats:
		return r.handleGetPredictionStats(c, cmd)
	case protocol.CmdRootForPlayer:
		return r.handleRootForPlayer(c, cmd)
	case protocol.CmdClearRooting:
		return r.handleClearRooting(c, cmd)
	case protocol.CmdGetRooting:
		return r.handleGetRooting(c, cmd)
	case protocol.CmdKibitz:
		return r.handleKibitz(c, cmd)
	case protocol.CmdClearKibitz:
		return r.handleClearKibitz(c, cmd)
	case protocol.CmdGetKibitz:
		return r.handleGetKibitz(c, cmd)
	case protocol.CmdSpectatorReaction:
		return r.handleSpectatorReaction(c, cmd)
	case protocol.CmdJoinQueue:
		return r.handleJoinQueue(c, cmd)
	case protocol.CmdLeaveQueue:
		return r.handleLeaveQueue(c, cmd)
	case protocol.CmdGetQueue:
		return r.handleGetQueue(c, cmd)
	case protocol.CmdGetGalleryPoints:
		return r.handleGetGalleryPoints(c, cmd)

	case protocol.CmdSendInvite:
		return r.handleSendInvite(c, cmd)
	case protocol.CmdCancelInvite:
		return r.handleCancelInvite(c, cmd)
	case protocol.CmdJoinRequestResp:
		return r.handleJoinRequestResponse(c, cmd)

	case protocol.CmdChatMessage, protocol.CmdQuickChat, protocol.CmdReaction,
		protocol.CmdTypingStart, protocol.CmdTypingStop, protocol.CmdShout:
		return r.handleChat(c, cmd)

	default:
		sendError(c, cmd.CorrelationID, protocol.ErrUnknownCommand, "unknown command: "+cmd.Type)
		return "error"
	}
}

func (r *Room) identity() identity.Identity {
	return identity.Generate(r.code)
}
