// Package game implements the dice game state machine: pure validators,
// category scoring, and turn advancement. It never touches storage or
// sockets; the room actor owns persistence and broadcasting.
package game

// Phase of the game state machine.
type Phase string

const (
	PhaseTurnRoll   Phase = "turn_roll"
	PhaseTurnDecide Phase = "turn_decide"
	PhaseGameOver   Phase = "game_over"
)

// Scoring categories. 13 per scorecard.
const (
	CategoryOnes          = "ones"
	CategoryTwos          = "twos"
	CategoryThrees        = "threes"
	CategoryFours         = "fours"
	CategoryFives         = "fives"
	CategorySixes         = "sixes"
	CategoryThreeKind     = "three_kind"
	CategoryFourKind      = "four_kind"
	CategoryFullHouse     = "full_house"
	CategorySmallStraight = "small_straight"
	CategoryLargeStraight = "large_straight"
	CategoryDicee         = "dicee"
	CategoryChance        = "chance"
)

// Categories lists every category in scorecard order.
var Categories = []string{
	CategoryOnes, CategoryTwos, CategoryThrees, CategoryFours,
	CategoryFives, CategorySixes, CategoryThreeKind, CategoryFourKind,
	CategoryFullHouse, CategorySmallStraight, CategoryLargeStraight,
	CategoryDicee, CategoryChance,
}

const (
	totalCategories  = 13
	upperBonusThresh = 63
	upperBonusPoints = 35
	diceeScore       = 50
	diceeBonusPoints = 100
	maxRolls         = 3
	diceCount        = 5
)

// PlayerState is one player's slice of the game.
type PlayerState struct {
	DisplayName    string         `json:"displayName"`
	IsAI           bool           `json:"isAI"`
	CurrentDice    []int          `json:"currentDice,omitempty"`
	KeptMask       int            `json:"keptDice"`
	RollsRemaining int            `json:"rollsRemaining"`
	Scorecard      map[string]int `json:"scorecard"`
	DiceeBonuses   int            `json:"diceeBonuses"`
	TotalScore     int            `json:"totalScore"`
}

// Scored reports whether the category has been filled in.
func (p *PlayerState) Scored(category string) bool {
	_, ok := p.Scorecard[category]
	return ok
}

// ScoredCount returns the number of filled categories.
func (p *PlayerState) ScoredCount() int {
	return len(p.Scorecard)
}

// UpperTotal sums the ones-through-sixes section.
func (p *PlayerState) UpperTotal() int {
	sum := 0
	for _, cat := range Categories[:6] {
		if v, ok := p.Scorecard[cat]; ok {
			sum += v
		}
	}
	return sum
}

// Ranking is one entry of the final standings.
type Ranking struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// State is the full persisted game state.
type State struct {
	Phase              Phase                   `json:"phase"`
	PlayerOrder        []string                `json:"playerOrder"`
	CurrentPlayerIndex int                     `json:"currentPlayerIndex"`
	TurnNumber         int                     `json:"turnNumber"`
	RoundNumber        int                     `json:"roundNumber"`
	Players            map[string]*PlayerState `json:"players"`
	Rankings           []Ranking               `json:"rankings,omitempty"`
}

// CurrentPlayerID returns the id whose turn it is, or "" when no game runs.
func (s *State) CurrentPlayerID() string {
	if s == nil || len(s.PlayerOrder) == 0 {
		return ""
	}
	return s.PlayerOrder[s.CurrentPlayerIndex%len(s.PlayerOrder)]
}

// Result is the outcome of a pure validator.
type Result struct {
	OK      bool   `json:"success"`
	Code    string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Ok is the success result.
func Ok() Result { return Result{OK: true} }

// Fail builds a failed result.
func Fail(code, message string) Result {
	return Result{OK: false, Code: code, Message: message}
}

// RollOutcome is returned by Engine.RollDice.
type RollOutcome struct {
	Dice           []int `json:"dice"`
	RollNumber     int   `json:"rollNumber"`
	RollsRemaining int   `json:"rollsRemaining"`
	NewPhase       Phase `json:"newPhase"`
}

// ScoreOutcome is returned by Engine.ScoreCategory.
type ScoreOutcome struct {
	Score           int       `json:"score"`
	TotalScore      int       `json:"totalScore"`
	IsDiceeBonus    bool      `json:"isDiceeBonus"`
	GameCompleted   bool      `json:"gameCompleted"`
	Rankings        []Ranking `json:"rankings,omitempty"`
	NextPlayerID    string    `json:"nextPlayerId,omitempty"`
	NextTurnNumber  int       `json:"nextTurnNumber,omitempty"`
	NextRoundNumber int       `json:"nextRoundNumber,omitempty"`
	NextPhase       Phase     `json:"nextPhase,omitempty"`
}

// SkipOutcome is returned by Engine.SkipTurn.
type SkipOutcome struct {
	CategoryScored string    `json:"categoryScored"`
	Score          int       `json:"score"`
	GameCompleted  bool      `json:"gameCompleted"`
	Rankings       []Ranking `json:"rankings,omitempty"`
	NextPlayerID   string    `json:"nextPlayerId,omitempty"`
	NextPhase      Phase     `json:"nextPhase,omitempty"`
}

// Seed describes one player entering a new game.
type Seed struct {
	PlayerID    string
	DisplayName string
	IsAI        bool
}
