package room

import (
	"strings"
	"sync"
	"time"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// Alarm types. The persisted AlarmData names which subsystem owns the single
// scheduled fire-time.
const (
	AlarmTurnTimeout     = "TURN_TIMEOUT"
	AlarmAFKCheck        = "AFK_CHECK"
	AlarmRoomCleanup     = "ROOM_CLEANUP"
	AlarmSeatExpiration  = "SEAT_EXPIRATION"
	AlarmJoinRequestExp  = "JOIN_REQUEST_EXPIRATION"
	AlarmAITurnTimeout   = "AI_TURN_TIMEOUT"
	AlarmPauseTimeout    = "PAUSE_TIMEOUT"
	AlarmWarmSeat        = "WARM_SEAT"
)

// AlarmData is persisted under "alarm_data" and describes the next fire.
type AlarmData struct {
	Type       string            `json:"type"`
	UserID     string            `json:"userId,omitempty"`
	PlayerID   string            `json:"playerId,omitempty"`
	RetryCount int               `json:"retryCount,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	FiresAt    int64             `json:"firesAt"`
}

// alarmSlot is the single scheduled fire-time per actor. When a later
// deadline also needs covering, an advisory timer fires a self-checking
// handler without touching the slot.
type alarmSlot struct {
	room  *Room
	mu    sync.Mutex
	timer *time.Timer
	data  *AlarmData
}

func newAlarmSlot(r *Room) *alarmSlot {
	return &alarmSlot{room: r}
}

// set replaces the slot. Persists alarm_data first so a wake re-arms it.
// A pending alarm of another type that loses the slot is re-armed as an
// advisory timer so its deadline is never dropped.
func (a *alarmSlot) set(d time.Duration, data AlarmData) {
	data.FiresAt = a.room.now().Add(d).UnixMilli()
	if err := a.room.kv.PutJSON(a.room.ctx(), keyAlarmData, data); err != nil {
		logging.Error(a.room.ctx(), "Failed to persist alarm data", zap.Error(err))
	}

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	displaced := a.data
	a.data = &data
	a.timer = time.AfterFunc(d, a.room.fireAlarm)
	a.mu.Unlock()

	// Same-type replacement is a reschedule; the old deadline is obsolete.
	if displaced != nil && displaced.Type != data.Type {
		a.armAdvisory(*displaced)
	}
}

// armAdvisory covers a deadline outside the slot. The handler re-validates
// on fire, so a stale advisory is a no-op.
func (a *alarmSlot) armAdvisory(data AlarmData) {
	d := time.Until(time.UnixMilli(data.FiresAt))
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, func() { a.room.fireAdvisory(data) })
}

// scheduleEarliest keeps the earliest pending deadline in the slot and covers
// a later one with an advisory timer whose handler self-checks.
func (a *alarmSlot) scheduleEarliest(d time.Duration, data AlarmData) {
	a.mu.Lock()
	pending := a.data
	a.mu.Unlock()

	firesAt := a.room.now().Add(d).UnixMilli()
	if pending == nil || firesAt < pending.FiresAt {
		a.set(d, data)
		return
	}
	advisory := data
	advisory.FiresAt = firesAt
	time.AfterFunc(d, func() { a.room.fireAdvisory(advisory) })
}

// clear cancels the slot and deletes the persisted record.
func (a *alarmSlot) clear() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.data = nil
	a.mu.Unlock()
	if err := a.room.kv.Delete(a.room.ctx(), keyAlarmData); err != nil {
		logging.Error(a.room.ctx(), "Failed to delete alarm data", zap.Error(err))
	}
}

// clearIfType cancels the slot only when it holds the given type.
func (a *alarmSlot) clearIfType(alarmType string) {
	a.mu.Lock()
	match := a.data != nil && a.data.Type == alarmType
	a.mu.Unlock()
	if match {
		a.clear()
	}
}

// take removes and returns the current slot data without touching storage.
func (a *alarmSlot) take() *AlarmData {
	a.mu.Lock()
	defer a.mu.Unlock()
	data := a.data
	a.data = nil
	a.timer = nil
	return data
}

func (a *alarmSlot) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// rearmPersistedAlarm restores the slot after a wake. An overdue alarm fires
// immediately.
func (r *Room) rearmPersistedAlarm() {
	var data AlarmData
	found, err := r.kv.GetJSON(r.ctx(), keyAlarmData, &data)
	if err != nil || !found {
		return
	}
	d := time.Until(time.UnixMilli(data.FiresAt))
	if d < 0 {
		d = 0
	}
	r.alarm.mu.Lock()
	r.alarm.data = &data
	r.alarm.timer = time.AfterFunc(d, r.fireAlarm)
	r.alarm.mu.Unlock()
}

// fireAlarm consumes the slot and runs its handler.
func (r *Room) fireAlarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	data := r.alarm.take()
	if data == nil {
		return
	}
	if err := r.kv.Delete(r.ctx(), keyAlarmData); err != nil {
		logging.Error(r.ctx(), "Failed to delete fired alarm", zap.Error(err))
	}
	metrics.AlarmFires.WithLabelValues(data.Type).Inc()
	r.handleAlarm(*data)
}

// fireAdvisory runs a handler for a deadline that never owned the slot. The
// handler re-validates everything, so a stale advisory is harmless.
func (r *Room) fireAdvisory(data AlarmData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	metrics.AlarmFires.WithLabelValues(data.Type).Inc()
	r.handleAlarm(data)
}

func (r *Room) handleAlarm(data AlarmData) {
	switch data.Type {
	case AlarmTurnTimeout:
		r.handleTurnTimeout(data.UserID)
	case AlarmAFKCheck:
		r.handleAFKCheck(data.UserID)
	case AlarmRoomCleanup:
		r.handleRoomCleanup()
	case AlarmSeatExpiration:
		r.handleSeatExpiration()
	case AlarmPauseTimeout:
		r.handlePauseTimeout()
	case AlarmJoinRequestExp:
		r.handleJoinRequestExpiration(data.Metadata["requestId"])
	case AlarmAITurnTimeout:
		r.handleAITurnTimeout(data.PlayerID, data.RetryCount)
	case AlarmWarmSeat:
		r.completeWarmSeat()
	default:
		logging.Warn(r.ctx(), "Unknown alarm type", zap.String("type", data.Type))
	}
}

// handleTurnTimeout skips the turn of a player who ran out the clock.
func (r *Room) handleTurnTimeout(userID string) {
	st := r.loadState()
	if st == nil || st.Status != StatusPlaying {
		return
	}
	gs := r.loadGame()
	if gs == nil || gs.CurrentPlayerID() != userID {
		return
	}
	r.skipCurrentTurn(userID, "timeout")
}

// handleAFKCheck is advisory: a connected user is simply not AFK.
func (r *Room) handleAFKCheck(userID string) {
	if r.reg.CountByTag(transport.UserTag(userID)) > 0 {
		return
	}
	seat, ok := r.loadSeats()[userID]
	if ok && seat.IsConnected {
		nowMs := r.now().UnixMilli()
		seat.IsConnected = false
		seat.DisconnectedAt = nowMs
		seat.ReconnectDeadline = nowMs + ReconnectWindow.Milliseconds()
		r.saveSeats()
	}
	r.broadcastRoom(protocol.NewEvent(protocol.EventPlayerAFK, map[string]any{
		"userId": userID,
	}))
	if gs := r.loadGame(); gs != nil && gs.CurrentPlayerID() == userID {
		r.handleTurnTimeout(userID)
	}
}

// handleRoomCleanup abandons a room nobody plays in anymore. Any socket that
// arrived during the linger keeps the room alive.
func (r *Room) handleRoomCleanup() {
	if r.connectedPlayerCount() > 0 || r.reg.Len() > 0 {
		return
	}
	r.abandonRoom()
}

func (r *Room) abandonRoom() {
	st := r.loadState()
	if st == nil || st.Status == StatusAbandoned {
		return
	}
	st.Status = StatusAbandoned
	r.saveState()

	for _, c := range r.reg.ByTag(transport.SpectatorTag(r.code)) {
		c.CloseWithCode(protocol.CloseNormal, "room abandoned")
		r.reg.Remove(c)
	}

	r.lobby.RemoveRoom(r.code)
	metrics.ActiveRooms.Dec()
	metrics.RoomPlayers.DeleteLabelValues(r.code)
	logging.Info(r.ctx(), "Room abandoned")
}

// handleSeatExpiration purges every seat whose reconnect window has passed
// and re-arms for the next-earliest remaining deadline.
func (r *Room) handleSeatExpiration() {
	nowMs := r.now().UnixMilli()
	for _, seat := range r.loadSeats() {
		if !seat.IsConnected && seat.ReconnectDeadline > 0 && seat.ReconnectDeadline <= nowMs {
			r.expireSeat(seat)
		}
	}
	r.publishStatus()
	r.scheduleSeatExpiration()

	// A room with no seats and no sockets left has nobody to revive it.
	if len(r.loadSeats()) == 0 && r.reg.Len() == 0 {
		r.alarm.scheduleEarliest(EmptyRoomLinger, AlarmData{Type: AlarmRoomCleanup})
	}
}

// expireSeat removes the seat and its turn-order entry and tells the room.
func (r *Room) expireSeat(seat *Seat) {
	delete(r.seats, seat.UserID)
	if st := r.loadState(); st != nil {
		st.PlayerOrder = removeString(st.PlayerOrder, seat.UserID)
		r.saveState()
	}
	r.saveSeats()
	r.broadcastRoom(protocol.NewEvent(protocol.EventPlayerSeatExpired, map[string]any{
		"userId":      seat.UserID,
		"displayName": seat.DisplayName,
	}))
	logging.Info(r.ctx(), "Seat expired", zap.String("user_id", seat.UserID))
}

// scheduleSeatExpiration arms the slot for the earliest disconnected seat.
func (r *Room) scheduleSeatExpiration() {
	var earliest int64
	for _, seat := range r.loadSeats() {
		if seat.IsConnected || seat.ReconnectDeadline == 0 {
			continue
		}
		if earliest == 0 || seat.ReconnectDeadline < earliest {
			earliest = seat.ReconnectDeadline
		}
	}
	if earliest == 0 {
		return
	}
	d := time.Until(time.UnixMilli(earliest))
	if d < 0 {
		d = 0
	}
	r.alarm.scheduleEarliest(d, AlarmData{Type: AlarmSeatExpiration})
}

// pauseRoom stops the clock when the last player socket goes away mid-game.
func (r *Room) pauseRoom() {
	st := r.loadState()
	if st == nil || st.Status != StatusPlaying {
		return
	}
	st.Status = StatusPaused
	st.PausedAt = r.now().UnixMilli()
	r.saveState()

	r.alarm.set(PauseTimeout, AlarmData{Type: AlarmPauseTimeout})

	r.broadcastSpectators(protocol.NewEvent(protocol.EventRoomStatus, map[string]any{
		"status": StatusPaused,
		"reason": "all_players_disconnected",
	}))
	r.publishStatus()
	logging.Info(r.ctx(), "Room paused, all players disconnected")
}

// resumeFromPause flips back to playing on the first player reconnect.
func (r *Room) resumeFromPause(reason string) {
	st := r.loadState()
	if st == nil || st.Status != StatusPaused {
		return
	}
	st.Status = StatusPlaying
	st.PausedAt = 0
	r.saveState()

	r.alarm.clearIfType(AlarmPauseTimeout)

	r.broadcastRoom(protocol.NewEvent(protocol.EventRoomStatus, map[string]any{
		"status": StatusPlaying,
		"reason": reason,
	}))
	r.publishStatus()
}

// handlePauseTimeout abandons a room that stayed paused for the full window.
func (r *Room) handlePauseTimeout() {
	st := r.loadState()
	if st == nil || st.Status != StatusPaused {
		return
	}
	r.abandonRoom()
}

// isAIPlayerID reports whether an id belongs to an AI seat.
func isAIPlayerID(id string) bool {
	return strings.HasPrefix(id, "ai:")
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
