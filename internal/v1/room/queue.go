package room

import (
	"sort"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// queueEntry is one spectator waiting for a seat.
type queueEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarSeed  string `json:"avatarSeed"`
	JoinedAt    int64  `json:"joinedAt"`
	Position    int    `json:"position"`
}

// joinQueue is the FIFO of spectators waiting to take a seat once the current
// game finishes. Ephemeral: a wake resets it and queued spectators rejoin.
type joinQueue struct {
	entries []*queueEntry
	warming string
}

func newJoinQueue() *joinQueue {
	return &joinQueue{}
}

func (q *joinQueue) find(userID string) *queueEntry {
	for _, e := range q.entries {
		if e.UserID == userID {
			return e
		}
	}
	return nil
}

// add appends and renumbers. Reports false when the user is already queued.
func (q *joinQueue) add(e *queueEntry) bool {
	if q.find(e.UserID) != nil {
		return false
	}
	q.entries = append(q.entries, e)
	q.renumber()
	return true
}

// remove drops the user and renumbers the rest. Positions are 1-based and
// contiguous, so everyone behind moves up.
func (q *joinQueue) remove(userID string) bool {
	for i, e := range q.entries {
		if e.UserID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.renumber()
			if q.warming == userID {
				q.warming = ""
			}
			return true
		}
	}
	return false
}

func (q *joinQueue) renumber() {
	for i, e := range q.entries {
		e.Position = i + 1
	}
}

func (q *joinQueue) len() int { return len(q.entries) }

// head returns the first entry, or nil on an empty queue.
func (q *joinQueue) head() *queueEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

func (q *joinQueue) snapshot() []queueEntry {
	out := make([]queueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// --- Command handlers ---

func (r *Room) handleJoinQueue(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	if r.queue.len() >= MaxQueueSize {
		sendError(c, cmd.CorrelationID, protocol.ErrQueueFull, "seat queue is full")
		return "error"
	}
	att := c.Attachment()
	if r.loadSeats()[att.UserID] != nil {
		sendError(c, cmd.CorrelationID, protocol.ErrAlreadyInRoom, "already holding a seat")
		return "error"
	}
	entry := &queueEntry{
		UserID:      att.UserID,
		DisplayName: att.DisplayName,
		AvatarSeed:  att.AvatarSeed,
		JoinedAt:    r.now().UnixMilli(),
	}
	if !r.queue.add(entry) {
		sendError(c, cmd.CorrelationID, protocol.ErrAlreadyQueued, "already in the queue")
		return "error"
	}

	c.SendEvent(protocol.NewEvent(protocol.EventQueueJoined, map[string]any{
		"position": entry.Position,
	}).WithCorrelation(cmd.CorrelationID))
	r.broadcastQueueUpdate()
	return "ok"
}

func (r *Room) handleLeaveQueue(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	if !r.queue.remove(c.Attachment().UserID) {
		sendError(c, cmd.CorrelationID, protocol.ErrNotQueued, "not in the queue")
		return "error"
	}
	c.SendEvent(protocol.NewEvent(protocol.EventQueueLeft, map[string]any{}).WithCorrelation(cmd.CorrelationID))
	r.broadcastQueueUpdate()
	return "ok"
}

func (r *Room) handleGetQueue(c *transport.Conn, cmd protocol.Command) string {
	c.SendEvent(protocol.NewEvent(protocol.EventQueueState, map[string]any{
		"queue": r.queue.snapshot(),
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

func (r *Room) broadcastQueueUpdate() {
	r.broadcastRoom(protocol.NewEvent(protocol.EventQueueUpdate, map[string]any{
		"queue": r.queue.snapshot(),
	}))
}

// --- Warm seat ---

// processWarmSeat runs when a game finishes. If someone is queued and a seat
// is open, the head of the queue starts a short countdown during which they
// are already retagged as a player; completion lands on the warm-seat alarm.
func (r *Room) processWarmSeat() {
	st := r.loadState()
	if st == nil || r.queue.warming != "" {
		return
	}
	if r.rosterSize() >= st.Settings.MaxPlayers {
		return
	}
	next := r.queue.head()
	if next == nil {
		return
	}

	conns := r.reg.ByTag(transport.UserTag(next.UserID))
	if len(conns) == 0 {
		// Queued but gone. Drop them and try the next in line.
		r.queue.remove(next.UserID)
		r.broadcastQueueUpdate()
		r.processWarmSeat()
		return
	}

	r.queue.warming = next.UserID
	for _, c := range conns {
		att := c.Attachment()
		att.Role = transport.RolePlayer
		c.SetAttachment(att)
		r.reg.Retag(c,
			transport.RoomTags(next.UserID, r.code, transport.RoleSpectator),
			transport.RoomTags(next.UserID, r.code, transport.RolePlayer))
	}

	r.alarm.set(WarmSeatCountdown, AlarmData{Type: AlarmWarmSeat, UserID: next.UserID})

	r.broadcastRoom(protocol.NewEvent(protocol.EventWarmSeatTransition, map[string]any{
		"userId":      next.UserID,
		"displayName": next.DisplayName,
		"seconds":     int(WarmSeatCountdown.Seconds()),
	}))
	r.sendToUser(next.UserID, protocol.NewEvent(protocol.EventYouAreTransitioning, map[string]any{
		"seconds": int(WarmSeatCountdown.Seconds()),
	}))
	logging.Info(r.ctx(), "Warm seat countdown started", zap.String("user_id", next.UserID))
}

// completeWarmSeat lands the promotion: the spectator gets a real seat and the
// room flips back to waiting so the next game can start.
func (r *Room) completeWarmSeat() {
	userID := r.queue.warming
	if userID == "" {
		return
	}
	r.queue.warming = ""

	st := r.loadState()
	entry := r.queue.find(userID)
	if st == nil || entry == nil {
		return
	}
	r.queue.remove(userID)

	if r.reg.CountByTag(transport.UserTag(userID)) == 0 {
		// Left during the countdown. Offer the seat to the next in line.
		r.broadcastQueueUpdate()
		r.processWarmSeat()
		return
	}

	nowMs := r.now().UnixMilli()
	r.loadSeats()[userID] = &Seat{
		UserID:      userID,
		DisplayName: entry.DisplayName,
		AvatarSeed:  entry.AvatarSeed,
		JoinedAt:    nowMs,
		IsConnected: true,
		TurnOrder:   len(r.seats),
	}
	st.PlayerOrder = append(st.PlayerOrder, userID)
	if st.Status == StatusCompleted {
		st.Status = StatusWaiting
	}
	r.saveSeats()
	r.saveState()

	r.broadcastRoom(protocol.NewEvent(protocol.EventWarmSeatComplete, map[string]any{
		"userId":      userID,
		"displayName": entry.DisplayName,
	}))
	r.sendToUser(userID, protocol.NewEvent(protocol.EventTransitionComplete, map[string]any{
		"turnOrder": r.seats[userID].TurnOrder,
	}))
	r.broadcastRoom(protocol.NewEvent(protocol.EventPlayerJoined, map[string]any{
		"userId":      userID,
		"displayName": entry.DisplayName,
		"turnOrder":   r.seats[userID].TurnOrder,
	}))
	r.broadcastQueueUpdate()
	r.publishStatus()

	if r.rosterSize() >= st.Settings.MaxPlayers {
		r.cancelAllInvites("room_full")
	}
	logging.Info(r.ctx(), "Warm seat completed", zap.String("user_id", userID))
}
