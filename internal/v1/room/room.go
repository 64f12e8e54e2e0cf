// Package room implements the per-room actor. One Room exists per room code;
// it owns the connections addressed to that code, the seats, the game, the
// alarm slot, chat, and every spectator subsystem. All handlers serialize on
// the room mutex so at most one mutates state at a time. The struct itself is
// a cache: everything needed for correctness lives in the actor's KV
// namespace and is reloaded lazily after a dormant period.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/dicehall/dicehall/internal/v1/chat"
	"github.com/dicehall/dicehall/internal/v1/game"
	"github.com/dicehall/dicehall/internal/v1/identity"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/store"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// Timing and capacity constants.
const (
	ReconnectWindow       = 5 * time.Minute
	PauseTimeout          = 30 * time.Minute
	InviteTTL             = 5 * time.Minute
	JoinRequestTTL        = 2 * time.Minute
	FinishedRoomLinger    = 60 * time.Second
	EmptyRoomLinger       = 60 * time.Second
	WarmSeatCountdown     = 10 * time.Second
	AIWatchdogDelay       = 35 * time.Second
	AIRetryDelay          = 5 * time.Second
	AIMaxRetries          = 3
	MaxQueueSize          = 10
	MaxPredictionsPerKey  = 3
	MaxRootingChanges     = 5
	ReactionWindow        = 30 * time.Second
	MaxReactionsPerWindow = 10
	ComboWindow           = 3 * time.Second
)

// Room status values.
const (
	StatusWaiting   = "waiting"
	StatusStarting  = "starting"
	StatusPlaying   = "playing"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Persistent storage keys.
const (
	keyRoom        = "room"
	keyGame        = "game"
	keySeats       = "seats"
	keyAITurnState = "ai_turn_state"
	keyAlarmData   = "alarm_data"
	keyRoomCode    = "room_code"
	keyChatHistory = "chat_history"
)

// Settings are the host-chosen room options.
type Settings struct {
	MaxPlayers         int  `json:"maxPlayers"`
	TurnTimeoutSeconds int  `json:"turnTimeoutSeconds"`
	IsPublic           bool `json:"isPublic"`
	AllowSpectators    bool `json:"allowSpectators"`
}

// DefaultSettings apply when a host creates a room without options.
func DefaultSettings() Settings {
	return Settings{MaxPlayers: 4, TurnTimeoutSeconds: 60, IsPublic: true, AllowSpectators: true}
}

// AIPlayer is one AI seat in the roster.
type AIPlayer struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profileId"`
	DisplayName string `json:"displayName"`
	AvatarSeed  string `json:"avatarSeed"`
}

// State is the persisted room record (storage key "room").
type State struct {
	RoomCode    string            `json:"roomCode"`
	HostUserID  string            `json:"hostUserId"`
	CreatedAt   int64             `json:"createdAt"`
	Settings    Settings          `json:"settings"`
	PlayerOrder []string          `json:"playerOrder"`
	Status      string            `json:"status"`
	StartedAt   int64             `json:"startedAt,omitempty"`
	PausedAt    int64             `json:"pausedAt,omitempty"`
	AIPlayers   []AIPlayer        `json:"aiPlayers"`
	Identity    identity.Identity `json:"identity"`
}

// Seat is one human player's reservation (storage key "seats").
type Seat struct {
	UserID            string `json:"userId"`
	DisplayName       string `json:"displayName"`
	AvatarSeed        string `json:"avatarSeed"`
	JoinedAt          int64  `json:"joinedAt"`
	IsConnected       bool   `json:"isConnected"`
	DisconnectedAt    int64  `json:"disconnectedAt,omitempty"`
	ReconnectDeadline int64  `json:"reconnectDeadline,omitempty"`
	IsHost            bool   `json:"isHost"`
	TurnOrder         int    `json:"turnOrder"`
}

// LobbyService is the RPC surface the Room needs from the Lobby. The hub
// wires the concrete lobby in; tests substitute a recorder.
type LobbyService interface {
	UpdateRoomStatus(update RoomStatusUpdate)
	SendHighlight(highlight Highlight)
	RemoveRoom(code string)
	ScheduleRoomRemoval(code string, after time.Duration)
	IsUserOnline(userID string) bool
	GetOnlineUserInfo(userID string) (displayName, avatarSeed string, ok bool)
	DeliverInvite(inv InviteDelivery) bool
	CancelInvite(cancel InviteCancellation)
	DeliverJoinRequestResponse(resp JoinRequestOutcome) bool
	UpdateUserRoomStatus(userID, roomCode, change string)
}

// RoomStatusUpdate is what the Room publishes into the Lobby directory.
type RoomStatusUpdate struct {
	Code           string            `json:"code"`
	HostID         string            `json:"hostId"`
	HostName       string            `json:"hostName"`
	PlayerCount    int               `json:"playerCount"`
	SpectatorCount int               `json:"spectatorCount"`
	Status         string            `json:"status"`
	PlayersSummary []string          `json:"playersSummary"`
	Identity       identity.Identity `json:"identity"`
	IsPublic       bool              `json:"isPublic"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
}

// Highlight is a game moment surfaced to the lobby feed.
type Highlight struct {
	Kind        string `json:"kind"`
	RoomCode    string `json:"roomCode"`
	PlayerName  string `json:"playerName,omitempty"`
	Description string `json:"description"`
	Score       int    `json:"score,omitempty"`
}

// InviteDelivery asks the Lobby to hand an invite to an online user.
type InviteDelivery struct {
	InviteID     string `json:"inviteId"`
	RoomCode     string `json:"roomCode"`
	TargetUserID string `json:"targetUserId"`
	HostUserID   string `json:"hostUserId"`
	HostName     string `json:"hostName"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// InviteCancellation withdraws a previously delivered invite.
type InviteCancellation struct {
	InviteID     string `json:"inviteId"`
	RoomCode     string `json:"roomCode"`
	TargetUserID string `json:"targetUserId"`
	Reason       string `json:"reason"`
}

// JoinRequestOutcome is delivered back to a requester waiting in the lobby.
type JoinRequestOutcome struct {
	RequestID   string `json:"requestId"`
	RoomCode    string `json:"roomCode"`
	RequesterID string `json:"requesterId"`
	Status      string `json:"status"`
}

// Room is the actor.
type Room struct {
	code  string
	mu    sync.Mutex
	kv    *store.KV
	reg   *transport.Registry
	lobby LobbyService
	chat  *chat.Manager

	engine      *game.Engine
	stateLoaded bool
	state       *State
	seatsLoaded bool
	seats       map[string]*Seat
	gameLoaded  bool
	chatLoaded  bool

	alarm      *alarmSlot
	spectators *spectatorState
	queue      *joinQueue
	invites    map[string]*PendingInvite
	requests   map[string]*JoinRequest

	now    func() time.Time
	closed bool
}

// New constructs the actor over its KV namespace. Construction is cheap;
// state loads lazily, so waking a dormant room is just New plus the first
// message. Re-arms a persisted alarm if one was pending.
func New(code string, kv *store.KV, lobby LobbyService) *Room {
	r := &Room{
		code:       code,
		kv:         kv,
		reg:        transport.NewRegistry(),
		lobby:      lobby,
		chat:       chat.NewManager(),
		engine:     game.NewEngine(),
		spectators: newSpectatorState(),
		queue:      newJoinQueue(),
		invites:    make(map[string]*PendingInvite),
		requests:   make(map[string]*JoinRequest),
		now:        time.Now,
	}
	r.alarm = newAlarmSlot(r)
	r.rearmPersistedAlarm()
	return r
}

// Code returns the room code.
func (r *Room) Code() string { return r.code }

// Registry exposes the connection registry to the hub's debug surface.
func (r *Room) Registry() *transport.Registry { return r.reg }

// ctx returns a context carrying the room code for log correlation.
func (r *Room) ctx() context.Context {
	return logging.WithRoom(context.Background(), r.code)
}

// loadState populates the state cache from storage. Returns nil when the
// room has never been created. Callers hold r.mu.
func (r *Room) loadState() *State {
	if r.stateLoaded {
		return r.state
	}
	var st State
	found, err := r.kv.GetJSON(r.ctx(), keyRoom, &st)
	if err != nil {
		logging.Error(r.ctx(), "Failed to load room state", zap.Error(err))
		return nil
	}
	r.stateLoaded = true
	if found {
		r.state = &st
	}
	return r.state
}

func (r *Room) saveState() {
	if r.state == nil {
		return
	}
	if err := r.kv.PutJSON(r.ctx(), keyRoom, r.state); err != nil {
		logging.Error(r.ctx(), "Failed to persist room state", zap.Error(err))
	}
}

// loadSeats populates the seat cache. Callers hold r.mu.
func (r *Room) loadSeats() map[string]*Seat {
	if r.seatsLoaded {
		return r.seats
	}
	var list []*Seat
	if _, err := r.kv.GetJSON(r.ctx(), keySeats, &list); err != nil {
		logging.Error(r.ctx(), "Failed to load seats", zap.Error(err))
	}
	r.seats = make(map[string]*Seat, len(list))
	for _, s := range list {
		r.seats[s.UserID] = s
	}
	r.seatsLoaded = true
	return r.seats
}

func (r *Room) saveSeats() {
	list := make([]*Seat, 0, len(r.seats))
	for _, s := range r.seats {
		list = append(list, s)
	}
	if err := r.kv.PutJSON(r.ctx(), keySeats, list); err != nil {
		logging.Error(r.ctx(), "Failed to persist seats", zap.Error(err))
	}
}

// loadGame restores the engine from storage after a wake. Callers hold r.mu.
func (r *Room) loadGame() *game.State {
	if r.gameLoaded {
		return r.engine.State()
	}
	var gs game.State
	found, err := r.kv.GetJSON(r.ctx(), keyGame, &gs)
	if err != nil {
		logging.Error(r.ctx(), "Failed to load game state", zap.Error(err))
	}
	r.gameLoaded = true
	if found {
		r.engine.Restore(&gs)
	}
	return r.engine.State()
}

func (r *Room) saveGame() {
	if r.engine.State() == nil {
		return
	}
	if err := r.kv.PutJSON(r.ctx(), keyGame, r.engine.State()); err != nil {
		logging.Error(r.ctx(), "Failed to persist game state", zap.Error(err))
	}
}

// Broadcast helpers. Game events go to the whole room; presence and chat are
// routed selectively by the callers.

func (r *Room) broadcastRoom(ev protocol.Event) {
	r.reg.Broadcast(transport.RoomTag(r.code), ev)
}

func (r *Room) broadcastPlayers(ev protocol.Event) {
	r.reg.Broadcast(transport.PlayerTag(r.code), ev)
}

func (r *Room) broadcastSpectators(ev protocol.Event) {
	r.reg.Broadcast(transport.SpectatorTag(r.code), ev)
}

func (r *Room) sendToUser(userID string, ev protocol.Event) bool {
	conns := r.reg.ByTag(transport.UserTag(userID))
	for _, c := range conns {
		c.SendEvent(ev)
	}
	return len(conns) > 0
}

func (r *Room) sendToHost(ev protocol.Event) {
	if st := r.loadState(); st != nil {
		r.sendToUser(st.HostUserID, ev)
	}
}

// connectedPlayerCount counts open player-role sockets.
func (r *Room) connectedPlayerCount() int {
	return r.reg.CountByTag(transport.PlayerTag(r.code))
}

// activeSeatCount counts seats that are connected or still in the reconnect
// window. Capacity checks use this, so a disconnected seat keeps its place.
func (r *Room) activeSeatCount() int {
	nowMs := r.now().UnixMilli()
	n := 0
	for _, s := range r.loadSeats() {
		if s.IsConnected || nowMs <= s.ReconnectDeadline {
			n++
		}
	}
	return n
}

// rosterSize is active seats plus AI players.
func (r *Room) rosterSize() int {
	n := r.activeSeatCount()
	if st := r.loadState(); st != nil {
		n += len(st.AIPlayers)
	}
	return n
}

// publishStatus pushes the current directory entry to the lobby.
// Callers hold r.mu.
func (r *Room) publishStatus() {
	st := r.loadState()
	if st == nil || r.lobby == nil {
		return
	}
	// abandonRoom removed the directory entry; never upsert it back.
	if st.Status == StatusAbandoned {
		return
	}
	summary := make([]string, 0, len(r.seats)+len(st.AIPlayers))
	for _, s := range r.loadSeats() {
		summary = append(summary, s.DisplayName)
	}
	for _, aip := range st.AIPlayers {
		summary = append(summary, aip.DisplayName)
	}
	hostName := st.HostUserID
	if seat, ok := r.seats[st.HostUserID]; ok {
		hostName = seat.DisplayName
	}
	r.lobby.UpdateRoomStatus(RoomStatusUpdate{
		Code:           r.code,
		HostID:         st.HostUserID,
		HostName:       hostName,
		PlayerCount:    r.activeSeatCount() + len(st.AIPlayers),
		SpectatorCount: r.reg.CountByTag(transport.SpectatorTag(r.code)),
		Status:         st.Status,
		PlayersSummary: summary,
		Identity:       st.Identity,
		IsPublic:       st.Settings.IsPublic,
		CreatedAt:      st.CreatedAt,
		UpdatedAt:      r.now().UnixMilli(),
	})
}

// Idle reports whether the actor can be dropped from memory. Persisted state
// survives in storage; a pending alarm or in-memory invite pins the actor so
// its timers can fire.
func (r *Room) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg.Len() > 0 || len(r.invites) > 0 || len(r.requests) > 0 {
		return false
	}
	r.alarm.mu.Lock()
	armed := r.alarm.data != nil
	r.alarm.mu.Unlock()
	return !armed
}

// Close tears down the actor: stops timers, closes every socket.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.alarm.stop()
	for _, c := range r.reg.All() {
		c.CloseWithCode(protocol.CloseNormal, "server shutting down")
		r.reg.Remove(c)
	}
	metrics.RoomPlayers.DeleteLabelValues(r.code)
}

// sendError emits the uniform ERROR envelope, echoing the correlation id.
func sendError(c *transport.Conn, corr, code, message string) {
	c.SendEvent(protocol.NewError(code, message).WithCorrelation(corr))
}
