package game

import (
	"math/rand"

	"github.com/dicehall/dicehall/internal/v1/protocol"
)

// Engine drives one game. All methods validate before mutating; failed
// validations leave the state untouched.
type Engine struct {
	state *State
	// rollDie is injectable so tests can fix the dice.
	rollDie func() int
	shuffle func(n int, swap func(i, j int))
}

// NewEngine returns an engine with real randomness.
func NewEngine() *Engine {
	return &Engine{
		rollDie: func() int { return rand.Intn(6) + 1 },
		shuffle: rand.Shuffle,
	}
}

// NewEngineWithDice returns an engine whose rolls come from the given
// sequence, repeated. Test helper.
func NewEngineWithDice(faces ...int) *Engine {
	i := 0
	return &Engine{
		rollDie: func() int {
			f := faces[i%len(faces)]
			i++
			return f
		},
		shuffle: func(n int, swap func(i, j int)) {},
	}
}

// InitializeFromRoom seeds per-player state from the room's roster.
func (e *Engine) InitializeFromRoom(seeds []Seed) {
	players := make(map[string]*PlayerState, len(seeds))
	order := make([]string, 0, len(seeds))
	for _, s := range seeds {
		players[s.PlayerID] = &PlayerState{
			DisplayName:    s.DisplayName,
			IsAI:           s.IsAI,
			RollsRemaining: maxRolls,
			Scorecard:      make(map[string]int),
		}
		order = append(order, s.PlayerID)
	}
	e.state = &State{
		Phase:       PhaseTurnRoll,
		PlayerOrder: order,
		Players:     players,
	}
}

// StartGame randomizes the turn order and begins the first turn.
func (e *Engine) StartGame() Result {
	if e.state == nil || len(e.state.PlayerOrder) < 2 {
		return Fail(protocol.ErrNotEnough, "need at least 2 players")
	}
	e.shuffle(len(e.state.PlayerOrder), func(i, j int) {
		e.state.PlayerOrder[i], e.state.PlayerOrder[j] = e.state.PlayerOrder[j], e.state.PlayerOrder[i]
	})
	return e.begin()
}

// StartGameWithOrder begins with the given order, no shuffle. Quick play uses
// this so the host always moves first.
func (e *Engine) StartGameWithOrder(order []string) Result {
	if e.state == nil || len(order) < 2 {
		return Fail(protocol.ErrNotEnough, "need at least 2 players")
	}
	for _, id := range order {
		if _, ok := e.state.Players[id]; !ok {
			return Fail(protocol.ErrPlayerNotFound, "player not in game: "+id)
		}
	}
	e.state.PlayerOrder = append([]string(nil), order...)
	return e.begin()
}

func (e *Engine) begin() Result {
	e.state.Phase = PhaseTurnRoll
	e.state.CurrentPlayerIndex = 0
	e.state.TurnNumber = 1
	e.state.RoundNumber = 1
	for _, p := range e.state.Players {
		p.CurrentDice = nil
		p.KeptMask = 0
		p.RollsRemaining = maxRolls
	}
	return Ok()
}

// State returns the live game state, nil before initialization.
func (e *Engine) State() *State { return e.state }

// Restore replaces the engine state. Used on wake from hibernation.
func (e *Engine) Restore(s *State) { e.state = s }

// ValidateRoll checks DICE_ROLL preconditions without rolling.
func (e *Engine) ValidateRoll(userID string) Result {
	p, res := e.currentPlayer(userID)
	if !res.OK {
		return res
	}
	if e.state.Phase != PhaseTurnRoll && e.state.Phase != PhaseTurnDecide {
		return Fail(protocol.ErrWrongPhase, "cannot roll in phase "+string(e.state.Phase))
	}
	if p.RollsRemaining <= 0 {
		return Fail(protocol.ErrNoRollsLeft, "no rolls remaining")
	}
	return Ok()
}

// RollDice rolls every die not covered by keptMask. A negative keptMask keeps
// the player's stored mask.
func (e *Engine) RollDice(userID string, keptMask int) (*RollOutcome, Result) {
	if res := e.ValidateRoll(userID); !res.OK {
		return nil, res
	}
	p := e.state.Players[userID]
	if keptMask >= 0 {
		p.KeptMask = keptMask & 0b11111
	}

	if p.CurrentDice == nil {
		p.CurrentDice = make([]int, diceCount)
		p.KeptMask = 0
	}
	for i := 0; i < diceCount; i++ {
		if p.KeptMask&(1<<i) == 0 {
			p.CurrentDice[i] = e.rollDie()
		}
	}

	p.RollsRemaining--
	e.state.Phase = PhaseTurnDecide

	return &RollOutcome{
		Dice:           append([]int(nil), p.CurrentDice...),
		RollNumber:     maxRolls - p.RollsRemaining,
		RollsRemaining: p.RollsRemaining,
		NewPhase:       e.state.Phase,
	}, Ok()
}

// KeepDice sets the kept mask from a list of dice indices.
func (e *Engine) KeepDice(userID string, indices []int) (int, Result) {
	p, res := e.currentPlayer(userID)
	if !res.OK {
		return 0, res
	}
	if e.state.Phase != PhaseTurnDecide {
		return 0, Fail(protocol.ErrWrongPhase, "can only keep dice after rolling")
	}
	mask := 0
	for _, idx := range indices {
		if idx < 0 || idx >= diceCount {
			return 0, Fail(protocol.ErrInvalidPayload, "dice index out of range")
		}
		mask |= 1 << idx
	}
	p.KeptMask = mask
	return mask, Ok()
}

// ValidateScore checks CATEGORY_SCORE preconditions.
func (e *Engine) ValidateScore(userID, category string) Result {
	p, res := e.currentPlayer(userID)
	if !res.OK {
		return res
	}
	if e.state.Phase != PhaseTurnDecide {
		return Fail(protocol.ErrWrongPhase, "can only score after rolling")
	}
	if !ValidCategory(category) {
		return Fail(protocol.ErrInvalidCategory, "unknown category: "+category)
	}
	if p.Scored(category) {
		return Fail(protocol.ErrCategoryTaken, "category already scored: "+category)
	}
	return Ok()
}

// ScoreCategory applies a score and advances the turn.
func (e *Engine) ScoreCategory(userID, category string) (*ScoreOutcome, Result) {
	if res := e.ValidateScore(userID, category); !res.OK {
		return nil, res
	}
	p := e.state.Players[userID]

	score := ScoreFor(category, p.CurrentDice)
	isBonus := IsDicee(p.CurrentDice) && p.Scorecard[CategoryDicee] == diceeScore && category != CategoryDicee
	p.Scorecard[category] = score
	if isBonus {
		p.DiceeBonuses++
	}
	p.TotalScore = e.recomputeTotal(p)

	out := &ScoreOutcome{
		Score:        score,
		TotalScore:   p.TotalScore,
		IsDiceeBonus: isBonus,
	}
	e.finishTurn(out)
	return out, Ok()
}

// SkipTurn forces the minimum open-category score for a stalled player. The
// turn timeout and the AI watchdog both land here.
func (e *Engine) SkipTurn(userID string) (*SkipOutcome, Result) {
	p, res := e.currentPlayer(userID)
	if !res.OK {
		return nil, res
	}

	category, score := lowestOpenScore(p)
	if category == "" {
		return nil, Fail(protocol.ErrInternal, "no open category to skip into")
	}
	p.Scorecard[category] = score
	p.TotalScore = e.recomputeTotal(p)

	scoreOut := &ScoreOutcome{Score: score, TotalScore: p.TotalScore}
	e.finishTurn(scoreOut)

	return &SkipOutcome{
		CategoryScored: category,
		Score:          score,
		GameCompleted:  scoreOut.GameCompleted,
		Rankings:       scoreOut.Rankings,
		NextPlayerID:   scoreOut.NextPlayerID,
		NextPhase:      scoreOut.NextPhase,
	}, Ok()
}

// ResetForRematch wipes scores and returns every player to a fresh game.
func (e *Engine) ResetForRematch() {
	if e.state == nil {
		return
	}
	for _, p := range e.state.Players {
		p.CurrentDice = nil
		p.KeptMask = 0
		p.RollsRemaining = maxRolls
		p.Scorecard = make(map[string]int)
		p.DiceeBonuses = 0
		p.TotalScore = 0
	}
	e.state.Rankings = nil
	e.begin()
}

func (e *Engine) finishTurn(out *ScoreOutcome) {
	if e.allScored() {
		e.state.Rankings = computeRankings(e.state)
		e.state.Phase = PhaseGameOver
		out.GameCompleted = true
		out.Rankings = e.state.Rankings
		return
	}

	e.state.CurrentPlayerIndex++
	if e.state.CurrentPlayerIndex >= len(e.state.PlayerOrder) {
		e.state.CurrentPlayerIndex = 0
		e.state.RoundNumber++
		e.state.TurnNumber++
	}

	next := e.state.Players[e.state.CurrentPlayerID()]
	next.CurrentDice = nil
	next.KeptMask = 0
	next.RollsRemaining = maxRolls
	e.state.Phase = PhaseTurnRoll

	out.NextPlayerID = e.state.CurrentPlayerID()
	out.NextTurnNumber = e.state.TurnNumber
	out.NextRoundNumber = e.state.RoundNumber
	out.NextPhase = e.state.Phase
}

func (e *Engine) allScored() bool {
	for _, p := range e.state.Players {
		if p.ScoredCount() < totalCategories {
			return false
		}
	}
	return true
}

func (e *Engine) recomputeTotal(p *PlayerState) int {
	total := 0
	for _, v := range p.Scorecard {
		total += v
	}
	if p.UpperTotal() >= upperBonusThresh {
		total += upperBonusPoints
	}
	total += p.DiceeBonuses * diceeBonusPoints
	return total
}

func (e *Engine) currentPlayer(userID string) (*PlayerState, Result) {
	if e.state == nil {
		return nil, Fail(protocol.ErrGameNotStarted, "no game in progress")
	}
	if e.state.Phase == PhaseGameOver {
		return nil, Fail(protocol.ErrWrongPhase, "game is over")
	}
	p, ok := e.state.Players[userID]
	if !ok {
		return nil, Fail(protocol.ErrPlayerNotFound, "not a player in this game")
	}
	if e.state.CurrentPlayerID() != userID {
		return nil, Fail(protocol.ErrNotYourTurn, "not your turn")
	}
	return p, Ok()
}

// lowestOpenScore picks the open category yielding the smallest score for the
// player's current dice. With no dice rolled everything scores zero and the
// first open category wins.
func lowestOpenScore(p *PlayerState) (string, int) {
	best := ""
	bestScore := 0
	for _, cat := range Categories {
		if p.Scored(cat) {
			continue
		}
		score := 0
		if p.CurrentDice != nil {
			score = ScoreFor(cat, p.CurrentDice)
		}
		if best == "" || score < bestScore {
			best, bestScore = cat, score
		}
	}
	return best, bestScore
}
