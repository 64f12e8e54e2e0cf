package room

import (
	"encoding/json"
	"testing"

	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePositionsRenumberOnLeave(t *testing.T) {
	p := setupPlaying(t)
	s2c, s2ws := connect(t, p.r, "s2", "Second", transport.RoleSpectator)
	waitEvent(t, s2ws, protocol.EventSpectatorConnected)

	sendCmd(p.r, p.conns["s1"], protocol.CmdJoinQueue, nil)
	ev := waitEvent(t, p.sockets["s1"], protocol.EventQueueJoined)
	var joined struct {
		Position int `json:"position"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &joined))
	assert.Equal(t, 1, joined.Position)

	sendCmd(p.r, s2c, protocol.CmdJoinQueue, nil)
	ev = waitEvent(t, s2ws, protocol.EventQueueJoined)
	require.NoError(t, json.Unmarshal(ev.Payload, &joined))
	assert.Equal(t, 2, joined.Position)

	sendCmd(p.r, p.conns["s1"], protocol.CmdLeaveQueue, nil)
	waitEvent(t, p.sockets["s1"], protocol.EventQueueLeft)

	sendCmd(p.r, s2c, protocol.CmdGetQueue, nil)
	state := waitEvent(t, s2ws, protocol.EventQueueState)
	var payload struct {
		Queue []queueEntry `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(state.Payload, &payload))
	require.Len(t, payload.Queue, 1)
	assert.Equal(t, "s2", payload.Queue[0].UserID)
	assert.Equal(t, 1, payload.Queue[0].Position, "positions renumber after a departure")
}

func TestQueueRejectsDuplicatesAndPlayers(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	sendCmd(p.r, spec, protocol.CmdJoinQueue, nil)
	waitEvent(t, ws, protocol.EventQueueJoined)
	sendCmd(p.r, spec, protocol.CmdJoinQueue, nil)
	waitError(t, ws, protocol.ErrAlreadyQueued)

	sendCmd(p.r, p.conns["u2"], protocol.CmdJoinQueue, nil)
	waitError(t, p.sockets["u2"], protocol.ErrNotSpectator)

	sendCmd(p.r, spec, protocol.CmdLeaveQueue, nil)
	waitEvent(t, ws, protocol.EventQueueLeft)
	sendCmd(p.r, spec, protocol.CmdLeaveQueue, nil)
	waitError(t, ws, protocol.ErrNotQueued)
}

func TestWarmSeatPromotesQueueHead(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	sendCmd(p.r, spec, protocol.CmdJoinQueue, nil)
	waitEvent(t, ws, protocol.EventQueueJoined)

	// Finish the game; the head of the queue starts transitioning.
	p.r.mu.Lock()
	p.r.finishGame(nil)
	p.r.mu.Unlock()

	waitEvent(t, ws, protocol.EventYouAreTransitioning)
	waitEvent(t, p.sockets["u1"], protocol.EventWarmSeatTransition)
	assert.True(t, spec.HasTag(transport.PlayerTag(p.r.Code())), "transitioning spectator is retagged")

	// Land the promotion as the warm-seat alarm would.
	p.r.mu.Lock()
	p.r.completeWarmSeat()
	p.r.mu.Unlock()

	waitEvent(t, ws, protocol.EventTransitionComplete)
	waitEvent(t, p.sockets["u1"], protocol.EventWarmSeatComplete)

	p.r.mu.Lock()
	seat := p.r.loadSeats()["s1"]
	status := p.r.loadState().Status
	p.r.mu.Unlock()
	require.NotNil(t, seat, "promoted spectator holds a seat")
	assert.True(t, seat.IsConnected)
	assert.Equal(t, StatusWaiting, status, "room reopens for the next game")
}

func TestWarmSeatSkippedWhenRoomFull(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	sendCmd(p.r, spec, protocol.CmdJoinQueue, nil)
	waitEvent(t, ws, protocol.EventQueueJoined)

	p.r.mu.Lock()
	p.r.loadState().Settings.MaxPlayers = 2
	p.r.finishGame(nil)
	warming := p.r.queue.warming
	p.r.mu.Unlock()

	assert.Empty(t, warming, "no promotion when every seat is taken")
	assert.False(t, spec.HasTag(transport.PlayerTag(p.r.Code())))
}
