package room

import (
	"strings"
	"time"

	"github.com/dicehall/dicehall/internal/v1/ai"
	"github.com/dicehall/dicehall/internal/v1/game"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"go.uber.org/zap"
)

// aiTurnState is persisted while an AI turn is in flight. Its presence tells
// the watchdog alarm that recovery may be needed; deleting it on completion
// tells the watchdog to stand down.
type aiTurnState struct {
	PlayerID    string `json:"playerId"`
	ScheduledAt int64  `json:"scheduledAt"`
	Status      string `json:"status"`
}

// triggerAITurnIfNeeded starts an AI turn: persist the in-flight marker, arm
// the watchdog, then run the turn in the background. The alarm is the safety
// net, not the happy path. Callers hold r.mu.
func (r *Room) triggerAITurnIfNeeded(playerID string) {
	if !isAIPlayerID(playerID) {
		return
	}
	ts := aiTurnState{PlayerID: playerID, ScheduledAt: r.now().UnixMilli(), Status: "scheduled"}
	if err := r.kv.PutJSON(r.ctx(), keyAITurnState, ts); err != nil {
		logging.Error(r.ctx(), "Failed to persist AI turn state", zap.Error(err))
	}
	r.alarm.set(AIWatchdogDelay, AlarmData{Type: AlarmAITurnTimeout, PlayerID: playerID, RetryCount: 0})

	go r.runAITurn(playerID)
}

// runAITurn drives one AI turn through the same validators as a human. It
// holds the room mutex only inside each step, so human commands and alarms
// interleave normally.
func (r *Room) runAITurn(playerID string) {
	// Let the previous turn's broadcasts land first.
	time.Sleep(50 * time.Millisecond)

	profileID := aiProfileOf(playerID)

	err := ai.ExecuteTurn(profileID, playerID,
		func() *game.State {
			r.mu.Lock()
			defer r.mu.Unlock()
			return snapshotGame(r.loadGame())
		},
		func(keptMask int) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.closed {
				return ai.ErrStalled
			}
			if res := r.rollFor(playerID, keptMask); !res.OK {
				return ai.ErrStalled
			}
			return nil
		},
		func(category string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.closed {
				return ai.ErrStalled
			}
			if res := r.scoreFor(playerID, category); !res.OK {
				return ai.ErrStalled
			}
			return nil
		},
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		// Leave the marker; the watchdog will retry or force a move.
		logging.Warn(r.ctx(), "AI turn stalled", zap.String("player_id", playerID), zap.Error(err))
		return
	}
	r.finishAITurn(playerID)
}

// finishAITurn clears the in-flight marker, but only if it still belongs to
// this player; scoring may already have started the next AI's turn.
func (r *Room) finishAITurn(playerID string) {
	var ts aiTurnState
	found, err := r.kv.GetJSON(r.ctx(), keyAITurnState, &ts)
	if err != nil || !found || ts.PlayerID != playerID {
		return
	}
	if err := r.kv.Delete(r.ctx(), keyAITurnState); err != nil {
		logging.Error(r.ctx(), "Failed to clear AI turn state", zap.Error(err))
	}
	r.alarm.clearIfType(AlarmAITurnTimeout)
}

// handleAITurnTimeout is the watchdog. It fires 35 s after an AI turn was
// scheduled; a completed turn has already deleted ai_turn_state and the fire
// is discarded. Otherwise it retries up to 3 times, 5 s apart, then forces
// the minimum move so the game cannot wedge.
func (r *Room) handleAITurnTimeout(playerID string, retryCount int) {
	var ts aiTurnState
	found, err := r.kv.GetJSON(r.ctx(), keyAITurnState, &ts)
	if err != nil || !found || ts.PlayerID != playerID {
		return
	}

	gs := r.loadGame()
	if gs == nil || gs.CurrentPlayerID() != playerID || gs.Phase == game.PhaseGameOver {
		r.kv.Delete(r.ctx(), keyAITurnState)
		return
	}

	if retryCount < AIMaxRetries {
		metrics.AIRecoveries.WithLabelValues("retry").Inc()
		logging.Warn(r.ctx(), "AI turn watchdog retry",
			zap.String("player_id", playerID), zap.Int("retry", retryCount+1))
		r.alarm.set(AIRetryDelay, AlarmData{
			Type: AlarmAITurnTimeout, PlayerID: playerID, RetryCount: retryCount + 1,
		})
		go r.runAITurn(playerID)
		return
	}

	metrics.AIRecoveries.WithLabelValues("forced").Inc()
	logging.Warn(r.ctx(), "AI turn watchdog exhausted, forcing move",
		zap.String("player_id", playerID))
	r.kv.Delete(r.ctx(), keyAITurnState)
	r.skipCurrentTurn(playerID, "ai_watchdog")
}

// aiProfileOf extracts the profile id from an "ai:<profile>:<ts>" player id.
func aiProfileOf(playerID string) string {
	parts := strings.Split(playerID, ":")
	if len(parts) >= 2 {
		return parts[1]
	}
	return playerID
}

// snapshotGame deep-copies the game state so the AI strategy can read it
// outside the room mutex.
func snapshotGame(s *game.State) *game.State {
	if s == nil {
		return nil
	}
	out := *s
	out.PlayerOrder = append([]string(nil), s.PlayerOrder...)
	out.Players = make(map[string]*game.PlayerState, len(s.Players))
	for id, p := range s.Players {
		cp := *p
		cp.CurrentDice = append([]int(nil), p.CurrentDice...)
		cp.Scorecard = make(map[string]int, len(p.Scorecard))
		for k, v := range p.Scorecard {
			cp.Scorecard[k] = v
		}
		out.Players[id] = &cp
	}
	return &out
}
