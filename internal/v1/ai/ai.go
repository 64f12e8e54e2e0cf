// Package ai provides the AI player profiles and the turn executor. The
// executor is deliberately ignorant of the room: it receives a state
// accessor and command functions, so it runs under the same validators as a
// human player and can be restarted safely by the watchdog alarm.
package ai

import (
	"errors"

	"github.com/dicehall/dicehall/internal/v1/game"
)

// Profile describes one selectable AI opponent.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarSeed  string `json:"avatarSeed"`
	// ScoreFloor is the dice score below which the profile keeps rerolling.
	ScoreFloor int `json:"-"`
}

var profiles = map[string]Profile{
	"carmen": {ID: "carmen", DisplayName: "Carmen", AvatarSeed: "carmen-ai", ScoreFloor: 25},
	"otto":   {ID: "otto", DisplayName: "Otto", AvatarSeed: "otto-ai", ScoreFloor: 20},
	"ruby":   {ID: "ruby", DisplayName: "Ruby", AvatarSeed: "ruby-ai", ScoreFloor: 30},
	"baxter": {ID: "baxter", DisplayName: "Baxter", AvatarSeed: "baxter-ai", ScoreFloor: 15},
}

// ValidProfile reports whether the profile id is selectable.
func ValidProfile(id string) bool {
	_, ok := profiles[id]
	return ok
}

// ProfileByID returns the profile, falling back to a generic one so a stale
// id in persisted state cannot wedge a room.
func ProfileByID(id string) Profile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return Profile{ID: id, DisplayName: "Bot", AvatarSeed: id, ScoreFloor: 20}
}

// Profiles lists every selectable profile.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	return out
}

// stepKind is what the strategy wants to do next.
type stepKind int

const (
	stepRoll stepKind = iota
	stepScore
	stepDone
)

type step struct {
	kind     stepKind
	keptMask int
	category string
}

// ErrStalled is returned when the executor makes no progress; the watchdog
// alarm treats it like a hibernation kill and forces a move.
var ErrStalled = errors.New("ai turn made no progress")

// ExecuteTurn plays one full turn for playerID. getState must return the
// live game state; roll and score execute the corresponding validated
// commands. Returns once the turn has passed to another player or the game
// ended.
func ExecuteTurn(
	profileID, playerID string,
	getState func() *game.State,
	roll func(keptMask int) error,
	score func(category string) error,
) error {
	profile := ProfileByID(profileID)

	// A turn is at most 3 rolls + 1 score; anything past that is a stall.
	for i := 0; i < 6; i++ {
		s := getState()
		if s == nil || s.Phase == game.PhaseGameOver || s.CurrentPlayerID() != playerID {
			return nil
		}

		next := decide(profile, s, playerID)
		switch next.kind {
		case stepRoll:
			if err := roll(next.keptMask); err != nil {
				return err
			}
		case stepScore:
			if err := score(next.category); err != nil {
				return err
			}
		case stepDone:
			return nil
		}
	}
	return ErrStalled
}

// decide implements a greedy strategy: reroll while the best available score
// is under the profile's floor, keeping the most common face.
func decide(profile Profile, s *game.State, playerID string) step {
	p := s.Players[playerID]
	if p == nil {
		return step{kind: stepDone}
	}

	if p.CurrentDice == nil {
		return step{kind: stepRoll, keptMask: 0}
	}

	category, best := bestOpenCategory(p)
	if category == "" {
		return step{kind: stepDone}
	}

	if p.RollsRemaining > 0 && best < profile.ScoreFloor {
		return step{kind: stepRoll, keptMask: keepMostCommon(p.CurrentDice)}
	}
	return step{kind: stepScore, category: category}
}

// bestOpenCategory returns the open category with the highest score for the
// current dice. Ties resolve in scorecard order.
func bestOpenCategory(p *game.PlayerState) (string, int) {
	best := ""
	bestScore := -1
	for _, cat := range game.Categories {
		if p.Scored(cat) {
			continue
		}
		score := game.ScoreFor(cat, p.CurrentDice)
		if score > bestScore {
			best, bestScore = cat, score
		}
	}
	return best, bestScore
}

// keepMostCommon builds a kept mask covering the most frequent face.
func keepMostCommon(dice []int) int {
	counts := make(map[int]int)
	for _, d := range dice {
		counts[d]++
	}
	bestFace, bestCount := 0, 0
	for face, count := range counts {
		if count > bestCount || (count == bestCount && face > bestFace) {
			bestFace, bestCount = face, count
		}
	}
	mask := 0
	for i, d := range dice {
		if d == bestFace {
			mask |= 1 << i
		}
	}
	return mask
}
