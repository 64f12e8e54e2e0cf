package game

import (
	"testing"

	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPlayerEngine(faces ...int) *Engine {
	e := NewEngineWithDice(faces...)
	e.InitializeFromRoom([]Seed{
		{PlayerID: "p1", DisplayName: "One"},
		{PlayerID: "p2", DisplayName: "Two"},
	})
	return e
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	e := NewEngineWithDice(1)
	e.InitializeFromRoom([]Seed{{PlayerID: "solo", DisplayName: "Solo"}})
	res := e.StartGame()
	assert.False(t, res.OK)
	assert.Equal(t, protocol.ErrNotEnough, res.Code)
}

func TestStartGameWithOrderIsDeterministic(t *testing.T) {
	e := twoPlayerEngine(1)
	res := e.StartGameWithOrder([]string{"p2", "p1"})
	require.True(t, res.OK)
	assert.Equal(t, "p2", e.State().CurrentPlayerID())
	assert.Equal(t, 1, e.State().TurnNumber)
	assert.Equal(t, PhaseTurnRoll, e.State().Phase)
}

func TestRollKeepRollFlow(t *testing.T) {
	e := twoPlayerEngine(3, 3, 3, 1, 2, 6, 6)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)

	out, res := e.RollDice("p1", -1)
	require.True(t, res.OK)
	assert.Equal(t, []int{3, 3, 3, 1, 2}, out.Dice)
	assert.Equal(t, 1, out.RollNumber)
	assert.Equal(t, 2, out.RollsRemaining)
	assert.Equal(t, PhaseTurnDecide, out.NewPhase)

	mask, res := e.KeepDice("p1", []int{0, 1, 2})
	require.True(t, res.OK)
	assert.Equal(t, 0b00111, mask)

	out, res = e.RollDice("p1", -1)
	require.True(t, res.OK)
	assert.Equal(t, []int{3, 3, 3, 6, 6}, out.Dice, "kept dice survive the reroll")
	assert.Equal(t, 1, out.RollsRemaining)
}

func TestRollRejectsWrongPlayerAndExhaustion(t *testing.T) {
	e := twoPlayerEngine(1, 2, 3, 4, 5)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)

	_, res := e.RollDice("p2", -1)
	assert.Equal(t, protocol.ErrNotYourTurn, res.Code)

	for i := 0; i < 3; i++ {
		_, res = e.RollDice("p1", -1)
		require.True(t, res.OK)
	}
	_, res = e.RollDice("p1", -1)
	assert.Equal(t, protocol.ErrNoRollsLeft, res.Code)
}

func TestScoreCategoryAdvancesTurn(t *testing.T) {
	e := twoPlayerEngine(5, 5, 5, 2, 2)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)

	_, res := e.RollDice("p1", -1)
	require.True(t, res.OK)

	out, res := e.ScoreCategory("p1", CategoryFullHouse)
	require.True(t, res.OK)
	assert.Equal(t, 25, out.Score)
	assert.Equal(t, "p2", out.NextPlayerID)
	assert.Equal(t, PhaseTurnRoll, out.NextPhase)
	assert.False(t, out.GameCompleted)
	assert.Equal(t, 1, e.State().RoundNumber, "round advances only after a full wrap")
}

func TestScoreCategoryRejectsTakenCategory(t *testing.T) {
	e := twoPlayerEngine(1, 1, 1, 1, 1)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)

	_, res := e.RollDice("p1", -1)
	require.True(t, res.OK)
	_, res = e.ScoreCategory("p1", CategoryChance)
	require.True(t, res.OK)

	// p2's turn now. p1 is rejected outright.
	_, res = e.ScoreCategory("p1", CategoryChance)
	assert.Equal(t, protocol.ErrNotYourTurn, res.Code)

	_, res = e.RollDice("p2", -1)
	require.True(t, res.OK)
	_, res = e.ScoreCategory("p2", "bogus")
	assert.Equal(t, protocol.ErrInvalidCategory, res.Code)
}

func TestDiceeBonus(t *testing.T) {
	e := twoPlayerEngine(4, 4, 4, 4, 4)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)

	// First dicee scored in the dicee category.
	_, res := e.RollDice("p1", -1)
	require.True(t, res.OK)
	out, res := e.ScoreCategory("p1", CategoryDicee)
	require.True(t, res.OK)
	assert.Equal(t, 50, out.Score)
	assert.False(t, out.IsDiceeBonus)

	// p2 takes a turn so p1 rolls again.
	_, res = e.RollDice("p2", -1)
	require.True(t, res.OK)
	_, res = e.ScoreCategory("p2", CategoryChance)
	require.True(t, res.OK)

	// Second dicee scored elsewhere earns the 100-point bonus.
	_, res = e.RollDice("p1", -1)
	require.True(t, res.OK)
	out, res = e.ScoreCategory("p1", CategoryFours)
	require.True(t, res.OK)
	assert.True(t, out.IsDiceeBonus)
	assert.Equal(t, 50+20+100, out.TotalScore)
}

func TestSkipTurnPicksLowestOpenCategory(t *testing.T) {
	e := twoPlayerEngine(6, 6, 6, 6, 6)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)

	// No dice rolled yet: everything scores zero, first open category taken.
	out, res := e.SkipTurn("p1")
	require.True(t, res.OK)
	assert.Equal(t, CategoryOnes, out.CategoryScored)
	assert.Equal(t, 0, out.Score)
	assert.Equal(t, "p2", out.NextPlayerID)
}

func TestFullGameCompletes(t *testing.T) {
	e := twoPlayerEngine(2, 3, 4, 5, 6)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)

	var last *SkipOutcome
	for turns := 0; turns < 2*totalCategories; turns++ {
		cur := e.State().CurrentPlayerID()
		out, res := e.SkipTurn(cur)
		require.True(t, res.OK, "turn %d", turns)
		last = out
	}

	require.NotNil(t, last)
	assert.True(t, last.GameCompleted)
	assert.Len(t, last.Rankings, 2)
	assert.Equal(t, PhaseGameOver, e.State().Phase)
	assert.Equal(t, totalCategories, e.State().TurnNumber)

	// Terminal: no further moves.
	_, res := e.RollDice("p1", -1)
	assert.Equal(t, protocol.ErrWrongPhase, res.Code)
}

func TestResetForRematch(t *testing.T) {
	e := twoPlayerEngine(2, 3, 4, 5, 6)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)
	for turns := 0; turns < 2*totalCategories; turns++ {
		_, res := e.SkipTurn(e.State().CurrentPlayerID())
		require.True(t, res.OK)
	}

	e.ResetForRematch()
	s := e.State()
	assert.Equal(t, PhaseTurnRoll, s.Phase)
	assert.Nil(t, s.Rankings)
	assert.Equal(t, 1, s.TurnNumber)
	for _, p := range s.Players {
		assert.Empty(t, p.Scorecard)
		assert.Zero(t, p.TotalScore)
		assert.Equal(t, 3, p.RollsRemaining)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	e := twoPlayerEngine(5, 5, 5, 5, 5)
	require.True(t, e.StartGameWithOrder([]string{"p1", "p2"}).OK)
	_, res := e.RollDice("p1", -1)
	require.True(t, res.OK)

	snapshot := e.State()

	e2 := NewEngine()
	e2.Restore(snapshot)
	assert.Equal(t, "p1", e2.State().CurrentPlayerID())
	assert.Equal(t, 2, e2.State().Players["p1"].RollsRemaining)
}
