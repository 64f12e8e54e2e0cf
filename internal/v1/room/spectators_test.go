package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dicehall/dicehall/internal/v1/game"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type playingRoom struct {
	r       *Room
	lr      *lobbyRecorder
	conns   map[string]*transport.Conn
	sockets map[string]*fakeSocket
}

// setupPlaying builds a room with two humans mid-game and one spectator.
func setupPlaying(t *testing.T) *playingRoom {
	t.Helper()
	r, lr := newTestRoom(t)
	p := &playingRoom{
		r:       r,
		lr:      lr,
		conns:   map[string]*transport.Conn{},
		sockets: map[string]*fakeSocket{},
	}
	p.conns["u1"], p.sockets["u1"] = connect(t, r, "u1", "Alice", transport.RolePlayer)
	p.conns["u2"], p.sockets["u2"] = connect(t, r, "u2", "Bob", transport.RolePlayer)
	waitEvent(t, p.sockets["u2"], protocol.EventConnected)

	sendCmd(r, p.conns["u1"], protocol.CmdStartGame, nil)
	waitEvent(t, p.sockets["u1"], protocol.EventGameStarted)

	p.conns["s1"], p.sockets["s1"] = connect(t, r, "s1", "Watcher", transport.RoleSpectator)
	waitEvent(t, p.sockets["s1"], protocol.EventSpectatorConnected)
	return p
}

func (p *playingRoom) current() string { return currentPlayer(p.r) }

func TestPredictionDuplicateAndLimit(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]
	target := p.current()

	sendCmd(p.r, spec, protocol.CmdPrediction, map[string]any{"playerId": target, "type": "bricks"})
	waitEvent(t, ws, protocol.EventPredictionConfirmed)

	sendCmd(p.r, spec, protocol.CmdPrediction, map[string]any{"playerId": target, "type": "bricks"})
	waitError(t, ws, protocol.ErrPredictionExists)

	sendCmd(p.r, spec, protocol.CmdPrediction, map[string]any{"playerId": target, "type": "dicee"})
	sendCmd(p.r, spec, protocol.CmdPrediction, map[string]any{"playerId": target, "type": "improves"})
	sendCmd(p.r, spec, protocol.CmdPrediction, map[string]any{"playerId": target, "type": "exact", "exactScore": 10})
	waitError(t, ws, protocol.ErrPredictionLimit)
}

func TestPredictionRejectedFromPlayers(t *testing.T) {
	p := setupPlaying(t)
	sendCmd(p.r, p.conns["u2"], protocol.CmdPrediction, map[string]any{"playerId": p.current(), "type": "bricks"})
	waitError(t, p.sockets["u2"], protocol.ErrNotSpectator)
}

func TestPredictionsSettleExactlyOnce(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]
	target := p.current()

	// Chance always scores above zero, so "improves" is the sure bet.
	sendCmd(p.r, spec, protocol.CmdPrediction, map[string]any{"playerId": target, "type": "improves"})
	waitEvent(t, ws, protocol.EventPredictionConfirmed)

	sendCmd(p.r, p.conns[target], protocol.CmdDiceRoll, nil)
	waitEvent(t, ws, protocol.EventDiceRolled)
	sendCmd(p.r, p.conns[target], protocol.CmdCategoryScore, map[string]any{"category": "chance"})

	ev := waitEvent(t, ws, protocol.EventPredictionResults)
	var results struct {
		Results []struct {
			Correct bool `json:"correct"`
			Points  int  `json:"points"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &results))
	require.Len(t, results.Results, 1)
	assert.True(t, results.Results[0].Correct)
	assert.Equal(t, 10, results.Results[0].Points)

	// A replayed settlement must not award twice.
	p.r.mu.Lock()
	p.r.settlePredictions(1, target, predictionOutcome{Improved: true, FinalScore: 20})
	points := p.r.spectators.galleryPoints["s1"]
	p.r.mu.Unlock()
	assert.Equal(t, 10, points)
}

func TestKibitzVotesClearOnRoll(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	sendCmd(p.r, spec, protocol.CmdKibitz, map[string]any{"voteType": "action", "action": "roll"})
	ev := waitEvent(t, ws, protocol.EventKibitzUpdate)
	var tally struct {
		Options []kibitzOption `json:"options"`
		Total   int            `json:"totalVotes"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &tally))
	require.Len(t, tally.Options, 1)
	assert.Equal(t, 100, tally.Options[0].Percentage)

	sendCmd(p.r, p.conns[p.current()], protocol.CmdDiceRoll, nil)
	waitEvent(t, ws, protocol.EventKibitzCleared)

	sendCmd(p.r, spec, protocol.CmdGetKibitz, nil)
	require.Eventually(t, func() bool {
		e, ok := ws.lastEvent(protocol.EventKibitzState)
		if !ok {
			return false
		}
		var state struct {
			Total int `json:"totalVotes"`
		}
		return json.Unmarshal(e.Payload, &state) == nil && state.Total == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRootingChangeLimit(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	root := func() { sendCmd(p.r, spec, protocol.CmdRootForPlayer, map[string]any{"playerId": "u1"}) }
	clear := func() { sendCmd(p.r, spec, protocol.CmdClearRooting, nil) }

	root()
	waitEvent(t, ws, protocol.EventRootingConfirmed)
	root()
	waitError(t, ws, protocol.ErrAlreadyRooting)

	clear()
	root()
	clear()
	root()
	// Five changes spent; the sixth is refused.
	clear()
	waitError(t, ws, protocol.ErrRootingLimit)
}

func TestRootingBonusForBackingTheWinner(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	sendCmd(p.r, spec, protocol.CmdRootForPlayer, map[string]any{"playerId": "u1"})
	waitEvent(t, ws, protocol.EventRootingConfirmed)

	p.r.mu.Lock()
	p.r.awardRootingBonuses([]game.Ranking{{Rank: 1, PlayerID: "u1", DisplayName: "Alice", Score: 120}})
	p.r.mu.Unlock()

	ev := waitEvent(t, ws, protocol.EventRootingBonus)
	var payload struct {
		PlayerID     string   `json:"playerId"`
		SpectatorIDs []string `json:"spectatorIds"`
		Points       int      `json:"points"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "u1", payload.PlayerID)
	assert.Equal(t, []string{"s1"}, payload.SpectatorIDs)
	assert.Equal(t, 25, payload.Points)
}

func TestReactionValidationAndRateLimit(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	sendCmd(p.r, spec, protocol.CmdSpectatorReaction, map[string]any{"emoji": "🚀"})
	waitError(t, ws, protocol.ErrInvalidEmoji)

	// Rooting emojis need an active rooting choice for the target.
	sendCmd(p.r, spec, protocol.CmdSpectatorReaction, map[string]any{"emoji": "📣", "targetPlayerId": "u1"})
	waitError(t, ws, protocol.ErrInvalidEmoji)

	sendCmd(p.r, spec, protocol.CmdSpectatorReaction, map[string]any{"emoji": "🔥"})
	ev := waitEvent(t, ws, protocol.EventSpectatorReaction)
	var payload struct {
		ComboCount int  `json:"comboCount"`
		PlaySound  bool `json:"playSound"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, 1, payload.ComboCount)
	assert.True(t, payload.PlaySound)

	for i := 0; i < MaxReactionsPerWindow-1; i++ {
		sendCmd(p.r, spec, protocol.CmdSpectatorReaction, map[string]any{"emoji": "👏"})
	}
	sendCmd(p.r, spec, protocol.CmdSpectatorReaction, map[string]any{"emoji": "👏"})
	waitError(t, ws, protocol.ErrRateLimited)
}

func TestGalleryLeaderboardOrdering(t *testing.T) {
	p := setupPlaying(t)

	p.r.mu.Lock()
	p.r.spectators.galleryPoints["s1"] = 10
	p.r.spectators.galleryPoints["s9"] = 60
	p.r.spectators.galleryNames["s9"] = "Regular"
	board := p.r.galleryLeaderboard()
	p.r.mu.Unlock()

	require.Len(t, board, 2)
	assert.Equal(t, "s9", board[0].SpectatorID)
	assert.Equal(t, 60, board[0].Points)
}

func TestKibitzVoteValidation(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	for _, payload := range []map[string]any{
		{"voteType": "category", "category": "not_a_category"},
		{"voteType": "keep", "keepMask": 99},
		{"voteType": "action", "action": "dance"},
		{"voteType": "mystery"},
	} {
		sendCmd(p.r, spec, protocol.CmdKibitz, payload)
		waitError(t, ws, protocol.ErrInvalidPayload)
	}

	// None of the rejected votes may have landed.
	p.r.mu.Lock()
	votes := len(p.r.spectators.kibitz)
	p.r.mu.Unlock()
	assert.Zero(t, votes)
}

func TestSpectatorConnectRejectedWhenDisabled(t *testing.T) {
	r, _ := newTestRoom(t)
	_, ws1 := connect(t, r, "u1", "Alice", transport.RolePlayer)
	waitEvent(t, ws1, protocol.EventConnected)

	r.mu.Lock()
	r.loadState().Settings.AllowSpectators = false
	r.saveState()
	r.mu.Unlock()

	_, specWs := connect(t, r, "s1", "Watcher", transport.RoleSpectator)
	waitError(t, specWs, protocol.ErrSpectatorsOff)
	assert.Equal(t, 1, r.Registry().Len(), "rejected spectator never registers")
}

func TestTurnCommandsRequireSeat(t *testing.T) {
	p := setupPlaying(t)
	spec := p.conns["s1"]
	ws := p.sockets["s1"]

	sendCmd(p.r, spec, protocol.CmdDiceRoll, nil)
	waitError(t, ws, protocol.ErrNotPlayer)
	sendCmd(p.r, spec, protocol.CmdDiceKeep, map[string]any{"indices": []int{0}})
	waitError(t, ws, protocol.ErrNotPlayer)
	sendCmd(p.r, spec, protocol.CmdCategoryScore, map[string]any{"category": "chance"})
	waitError(t, ws, protocol.ErrNotPlayer)
}
