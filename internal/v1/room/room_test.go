package room

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/store"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket records written frames and blocks reads until closed.
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	done   chan struct{}
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{done: make(chan struct{})}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	<-f.done
	return 0, nil, errors.New("socket closed")
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeSocket) SetReadLimit(int64)                        {}
func (f *fakeSocket) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeSocket) SetPongHandler(func(string) error)         {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

type rawEvent struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId"`
}

func (f *fakeSocket) events() []rawEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rawEvent, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev rawEvent
		if json.Unmarshal(frame, &ev) == nil {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeSocket) lastEvent(eventType string) (rawEvent, bool) {
	evs := f.events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == eventType {
			return evs[i], true
		}
	}
	return rawEvent{}, false
}

// waitEvent blocks until the socket has seen an event of the given type.
func waitEvent(t *testing.T, ws *fakeSocket, eventType string) rawEvent {
	t.Helper()
	var ev rawEvent
	require.Eventually(t, func() bool {
		e, ok := ws.lastEvent(eventType)
		if ok {
			ev = e
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond, "expected event %s", eventType)
	return ev
}

// waitError blocks until an ERROR with the given code arrives.
func waitError(t *testing.T, ws *fakeSocket, code string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ev := range ws.events() {
			if ev.Type != protocol.EventError {
				continue
			}
			var p protocol.ErrorPayload
			if json.Unmarshal(ev.Payload, &p) == nil && p.Code == code {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "expected error %s", code)
}

// lobbyRecorder is a LobbyService that records every call.
type lobbyRecorder struct {
	mu            sync.Mutex
	statusUpdates []RoomStatusUpdate
	highlights    []Highlight
	removed       []string
	online        map[string]bool
	names         map[string]string
	invites       []InviteDelivery
	cancels       []InviteCancellation
	joinResponses []JoinRequestOutcome
	deliverOK     bool
}

func newLobbyRecorder() *lobbyRecorder {
	return &lobbyRecorder{
		online:    map[string]bool{},
		names:     map[string]string{},
		deliverOK: true,
	}
}

func (l *lobbyRecorder) UpdateRoomStatus(u RoomStatusUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusUpdates = append(l.statusUpdates, u)
}

func (l *lobbyRecorder) SendHighlight(h Highlight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.highlights = append(l.highlights, h)
}

func (l *lobbyRecorder) RemoveRoom(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, code)
}

func (l *lobbyRecorder) ScheduleRoomRemoval(string, time.Duration) {}

func (l *lobbyRecorder) IsUserOnline(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online[userID]
}

func (l *lobbyRecorder) GetOnlineUserInfo(userID string) (string, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.names[userID], userID + "-seed", l.online[userID]
}

func (l *lobbyRecorder) DeliverInvite(inv InviteDelivery) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deliverOK {
		l.invites = append(l.invites, inv)
	}
	return l.deliverOK
}

func (l *lobbyRecorder) CancelInvite(c InviteCancellation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels = append(l.cancels, c)
}

func (l *lobbyRecorder) DeliverJoinRequestResponse(resp JoinRequestOutcome) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joinResponses = append(l.joinResponses, resp)
	return true
}

func (l *lobbyRecorder) UpdateUserRoomStatus(string, string, string) {}

func (l *lobbyRecorder) lastStatus() (RoomStatusUpdate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.statusUpdates) == 0 {
		return RoomStatusUpdate{}, false
	}
	return l.statusUpdates[len(l.statusUpdates)-1], true
}

func newTestRoom(t *testing.T) (*Room, *lobbyRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewStoreFromClient(client)

	lr := newLobbyRecorder()
	r := New("AB2CDE", st.Actor("room:AB2CDE"), lr)
	t.Cleanup(r.Close)
	return r, lr
}

// connect wires a fake socket into the room, pumps running.
func connect(t *testing.T, r *Room, userID, name, role string) (*transport.Conn, *fakeSocket) {
	t.Helper()
	ws := newFakeSocket()
	att := transport.Attachment{
		UserID:      userID,
		DisplayName: name,
		AvatarSeed:  userID + "-seed",
		ConnectedAt: time.Now().UnixMilli(),
		Role:        role,
	}
	c := transport.NewConn(ws, transport.RoomTags(userID, r.Code(), role), att)
	go c.Run(func(data []byte) { r.HandleMessage(c, data) }, func() { r.OnClose(c) })
	r.OnConnect(c)
	return c, ws
}

func sendCmd(r *Room, c *transport.Conn, cmdType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	data, _ := json.Marshal(protocol.Command{Type: cmdType, Payload: raw, CorrelationID: "corr-1"})
	r.HandleMessage(c, data)
}

func currentPlayer(r *Room) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs := r.loadGame()
	if gs == nil {
		return ""
	}
	return gs.CurrentPlayerID()
}

func TestFirstPlayerCreatesRoomAsHost(t *testing.T) {
	r, lr := newTestRoom(t)

	_, ws := connect(t, r, "u1", "Alice", transport.RolePlayer)
	ev := waitEvent(t, ws, protocol.EventConnected)

	var payload struct {
		RoomCode   string `json:"roomCode"`
		Status     string `json:"status"`
		IsHost     bool   `json:"isHost"`
		HostUserID string `json:"hostUserId"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "AB2CDE", payload.RoomCode)
	assert.Equal(t, StatusWaiting, payload.Status)
	assert.True(t, payload.IsHost)
	assert.Equal(t, "u1", payload.HostUserID)

	status, ok := lr.lastStatus()
	require.True(t, ok)
	assert.Equal(t, 1, status.PlayerCount)
	assert.Equal(t, StatusWaiting, status.Status)
}

func TestStartGameNeedsTwoPlayers(t *testing.T) {
	r, _ := newTestRoom(t)
	c, ws := connect(t, r, "u1", "Alice", transport.RolePlayer)
	waitEvent(t, ws, protocol.EventConnected)

	sendCmd(r, c, protocol.CmdStartGame, nil)
	waitError(t, ws, protocol.ErrNotEnough)
}

func TestStartGameOnlyHost(t *testing.T) {
	r, _ := newTestRoom(t)
	_, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	c2, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws1, protocol.EventConnected)
	waitEvent(t, ws2, protocol.EventConnected)

	sendCmd(r, c2, protocol.CmdStartGame, nil)
	waitError(t, ws2, protocol.ErrNotHost)
}

func TestStartGameBroadcastsToEveryone(t *testing.T) {
	r, lr := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)

	sendCmd(r, c1, protocol.CmdStartGame, nil)

	ev := waitEvent(t, ws1, protocol.EventGameStarted)
	waitEvent(t, ws2, protocol.EventGameStarted)

	var payload struct {
		PlayerOrder     []string `json:"playerOrder"`
		CurrentPlayerID string   `json:"currentPlayerId"`
		TurnNumber      int      `json:"turnNumber"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Len(t, payload.PlayerOrder, 2)
	assert.Equal(t, 1, payload.TurnNumber)
	assert.Contains(t, payload.PlayerOrder, payload.CurrentPlayerID)

	status, ok := lr.lastStatus()
	require.True(t, ok)
	assert.Equal(t, StatusPlaying, status.Status)
}

func TestTurnTimeoutSkipsCurrentPlayer(t *testing.T) {
	r, _ := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)
	sendCmd(r, c1, protocol.CmdStartGame, nil)
	waitEvent(t, ws1, protocol.EventGameStarted)

	current := currentPlayer(r)
	r.fireAdvisory(AlarmData{Type: AlarmTurnTimeout, UserID: current})

	ev := waitEvent(t, ws2, protocol.EventTurnSkipped)
	var payload struct {
		PlayerID string `json:"playerId"`
		Reason   string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, current, payload.PlayerID)
	assert.Equal(t, "timeout", payload.Reason)
	assert.NotEqual(t, current, currentPlayer(r), "turn must advance")
}

func TestStaleTurnTimeoutIsIgnored(t *testing.T) {
	r, _ := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)
	sendCmd(r, c1, protocol.CmdStartGame, nil)
	waitEvent(t, ws1, protocol.EventGameStarted)

	current := currentPlayer(r)
	r.fireAdvisory(AlarmData{Type: AlarmTurnTimeout, UserID: "someone-else"})

	assert.Equal(t, current, currentPlayer(r), "timeout for another player is a no-op")
	_, skipped := ws1.lastEvent(protocol.EventTurnSkipped)
	assert.False(t, skipped)
}

func TestDisconnectAndReconnectWithinWindow(t *testing.T) {
	r, _ := newTestRoom(t)
	_, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)

	ws2.Close()
	waitEvent(t, ws1, protocol.EventPlayerDisconnected)

	_, ws2b := connect(t, r, "u2", "Bob", transport.RolePlayer)
	ev := waitEvent(t, ws2b, protocol.EventConnected)
	var payload struct {
		Reconnected bool `json:"reconnected"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.True(t, payload.Reconnected)
	waitEvent(t, ws1, protocol.EventPlayerReconnected)
}

func TestSeatExpiresAfterReconnectWindow(t *testing.T) {
	r, lr := newTestRoom(t)
	_, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)

	ws2.Close()
	waitEvent(t, ws1, protocol.EventPlayerDisconnected)

	// Move the clock past the reconnect window before the alarm fires.
	r.mu.Lock()
	r.now = func() time.Time { return time.Now().Add(ReconnectWindow + time.Minute) }
	r.mu.Unlock()
	r.fireAdvisory(AlarmData{Type: AlarmSeatExpiration})

	ev := waitEvent(t, ws1, protocol.EventPlayerSeatExpired)
	var payload struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "u2", payload.UserID)

	status, ok := lr.lastStatus()
	require.True(t, ok)
	assert.Equal(t, 1, status.PlayerCount, "expired seat frees capacity")
}

func TestPauseWhenAllPlayersGoneAndResumeOnReconnect(t *testing.T) {
	r, lr := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)
	sendCmd(r, c1, protocol.CmdStartGame, nil)
	waitEvent(t, ws1, protocol.EventGameStarted)

	ws1.Close()
	ws2.Close()
	require.Eventually(t, func() bool {
		s, ok := lr.lastStatus()
		return ok && s.Status == StatusPaused
	}, 2*time.Second, 5*time.Millisecond)

	_, ws1b := connect(t, r, "u1", "Alice", transport.RolePlayer)
	waitEvent(t, ws1b, protocol.EventConnected)
	s, ok := lr.lastStatus()
	require.True(t, ok)
	assert.Equal(t, StatusPlaying, s.Status)
}

func TestSpectatorRejectedWhenRoomDoesNotExist(t *testing.T) {
	r, _ := newTestRoom(t)
	_, _ = connect(t, r, "s1", "Watcher", transport.RoleSpectator)
	assert.Equal(t, 0, r.Registry().Len())
}

func TestSpectatorGetsHistoryAndSync(t *testing.T) {
	r, _ := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)

	sendCmd(r, c1, protocol.CmdChatMessage, map[string]any{"content": "hello"})
	waitEvent(t, ws1, protocol.EventChatMessage)
	sendCmd(r, c1, protocol.CmdStartGame, nil)
	waitEvent(t, ws1, protocol.EventGameStarted)

	_, wsSpec := connect(t, r, "s1", "Watcher", transport.RoleSpectator)
	ev := waitEvent(t, wsSpec, protocol.EventSpectatorConnected)
	var payload struct {
		ChatHistory []json.RawMessage `json:"chatHistory"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.NotEmpty(t, payload.ChatHistory)
	waitEvent(t, wsSpec, protocol.EventGameStateSync)
}

func TestRoomStateSurvivesHibernation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewStoreFromClient(client)
	lr := newLobbyRecorder()

	r1 := New("XY3ZWV", st.Actor("room:XY3ZWV"), lr)
	c1, ws1 := connect(t, r1, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r1, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)
	sendCmd(r1, c1, protocol.CmdStartGame, nil)
	waitEvent(t, ws1, protocol.EventGameStarted)
	r1.Close()

	// A fresh actor over the same namespace is the same room.
	r2 := New("XY3ZWV", st.Actor("room:XY3ZWV"), lr)
	t.Cleanup(r2.Close)
	_, ws1b := connect(t, r2, "u1", "Alice", transport.RolePlayer)
	ev := waitEvent(t, ws1b, protocol.EventConnected)
	var payload struct {
		Status      string `json:"status"`
		Reconnected bool   `json:"reconnected"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.True(t, payload.Reconnected)
	assert.Equal(t, StatusPlaying, payload.Status)
	waitEvent(t, ws1b, protocol.EventGameStateSync)
}

func TestUnknownCommandAndMalformedEnvelope(t *testing.T) {
	r, _ := newTestRoom(t)
	c, ws := connect(t, r, "u1", "Alice", transport.RolePlayer)
	waitEvent(t, ws, protocol.EventConnected)

	sendCmd(r, c, "NO_SUCH_COMMAND", nil)
	waitError(t, ws, protocol.ErrUnknownCommand)

	r.HandleMessage(c, []byte("{not json"))
	waitError(t, ws, protocol.ErrInvalidMessage)
}

func TestQuickPlayAIPlaysThrough(t *testing.T) {
	r, _ := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	waitEvent(t, ws1, protocol.EventConnected)

	sendCmd(r, c1, protocol.CmdQuickPlayStart, map[string]any{"aiProfiles": []string{"carmen"}})
	waitEvent(t, ws1, protocol.EventQuickPlayStarted)

	// Host goes first in quick play; roll and score to hand the AI the turn.
	require.Equal(t, "u1", currentPlayer(r))
	sendCmd(r, c1, protocol.CmdDiceRoll, nil)
	waitEvent(t, ws1, protocol.EventDiceRolled)
	sendCmd(r, c1, protocol.CmdCategoryScore, map[string]any{"category": "chance"})
	waitEvent(t, ws1, protocol.EventCategoryScored)

	// The AI turn runs in the background and must come back to the host.
	require.Eventually(t, func() bool {
		return currentPlayer(r) == "u1"
	}, 5*time.Second, 20*time.Millisecond, "AI must complete its turn")

	evs := ws1.events()
	aiScored := false
	for _, ev := range evs {
		if ev.Type != protocol.EventCategoryScored {
			continue
		}
		var p struct {
			PlayerID string `json:"playerId"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil && isAIPlayerID(p.PlayerID) {
			aiScored = true
		}
	}
	assert.True(t, aiScored, "AI must have scored a category")
}

func TestAIWatchdogForcesMoveAfterRetries(t *testing.T) {
	r, _ := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	waitEvent(t, ws1, protocol.EventConnected)
	sendCmd(r, c1, protocol.CmdQuickPlayStart, map[string]any{"aiProfiles": []string{"otto"}})
	waitEvent(t, ws1, protocol.EventQuickPlayStarted)

	sendCmd(r, c1, protocol.CmdDiceRoll, nil)
	waitEvent(t, ws1, protocol.EventDiceRolled)
	sendCmd(r, c1, protocol.CmdCategoryScore, map[string]any{"category": "chance"})

	// Wait until the AI either finished or is mid-turn, then simulate an
	// exhausted watchdog for whoever holds the turn.
	require.Eventually(t, func() bool { return currentPlayer(r) != "" }, 2*time.Second, 10*time.Millisecond)
	current := currentPlayer(r)
	if !isAIPlayerID(current) {
		t.Skip("AI already finished, nothing to force")
	}

	r.mu.Lock()
	r.kv.PutJSON(r.ctx(), keyAITurnState, aiTurnState{PlayerID: current, Status: "scheduled"})
	r.mu.Unlock()
	r.fireAdvisory(AlarmData{Type: AlarmAITurnTimeout, PlayerID: current, RetryCount: AIMaxRetries})

	require.Eventually(t, func() bool {
		return currentPlayer(r) != current
	}, 2*time.Second, 10*time.Millisecond, "watchdog must force the turn over")
}

func TestLeaveAfterGameOverFreesSeatImmediately(t *testing.T) {
	p := setupPlaying(t)

	p.r.mu.Lock()
	p.r.finishGame(nil)
	p.r.mu.Unlock()
	waitEvent(t, p.sockets["u1"], protocol.EventGameOver)

	p.sockets["u2"].Close()
	ev := waitEvent(t, p.sockets["u1"], protocol.EventPlayerLeft)
	var payload struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "u2", payload.UserID)

	p.r.mu.Lock()
	_, seated := p.r.loadSeats()["u2"]
	order := p.r.loadState().PlayerOrder
	p.r.mu.Unlock()
	assert.False(t, seated, "no reconnect window once the game is over")
	assert.NotContains(t, order, "u2")
}

func TestTurnTimeoutSurvivesAFKDisplacement(t *testing.T) {
	r, _ := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)

	r.mu.Lock()
	r.loadState().Settings.TurnTimeoutSeconds = 1
	r.saveState()
	r.mu.Unlock()

	sendCmd(r, c1, protocol.CmdStartGame, nil)
	waitEvent(t, ws1, protocol.EventGameStarted)

	// Both players stay connected and idle. The half-timeout AFK check takes
	// the slot; the displaced turn timeout must still fire and skip the turn.
	require.Eventually(t, func() bool {
		_, ok := ws1.lastEvent(protocol.EventTurnSkipped)
		return ok
	}, 4*time.Second, 20*time.Millisecond, "armed turn timeout never fired")
}

func TestPauseTimeoutAbandonsWithoutDirectoryReinsert(t *testing.T) {
	r, lr := newTestRoom(t)
	c1, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)
	sendCmd(r, c1, protocol.CmdStartGame, nil)
	waitEvent(t, ws1, protocol.EventGameStarted)

	ws1.Close()
	ws2.Close()
	require.Eventually(t, func() bool {
		s, ok := lr.lastStatus()
		return ok && s.Status == StatusPaused
	}, 2*time.Second, 5*time.Millisecond)

	r.fireAdvisory(AlarmData{Type: AlarmPauseTimeout})

	lr.mu.Lock()
	removed := append([]string(nil), lr.removed...)
	lr.mu.Unlock()
	require.Contains(t, removed, r.Code())

	s, ok := lr.lastStatus()
	require.True(t, ok)
	assert.NotEqual(t, StatusAbandoned, s.Status, "abandoned room must stay out of the directory")
}

func TestSeatExpiryOnEmptyRoomSchedulesCleanup(t *testing.T) {
	r, lr := newTestRoom(t)
	_, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	_, ws2 := connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, ws2, protocol.EventConnected)

	ws1.Close()
	ws2.Close()
	require.Eventually(t, func() bool { return r.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	r.mu.Lock()
	r.now = func() time.Time { return time.Now().Add(ReconnectWindow + time.Minute) }
	r.mu.Unlock()
	// Fire the armed seat-expiration alarm itself so the slot empties and the
	// cleanup deadline can claim it.
	r.fireAlarm()

	r.alarm.mu.Lock()
	pending := r.alarm.data
	r.alarm.mu.Unlock()
	require.NotNil(t, pending)
	assert.Equal(t, AlarmRoomCleanup, pending.Type, "empty room arms its own cleanup")

	r.fireAdvisory(AlarmData{Type: AlarmRoomCleanup})
	lr.mu.Lock()
	removed := append([]string(nil), lr.removed...)
	lr.mu.Unlock()
	assert.Contains(t, removed, r.Code())
}
