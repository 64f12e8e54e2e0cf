package room

import (
	"encoding/json"
	"fmt"

	"github.com/dicehall/dicehall/internal/v1/ai"
	"github.com/dicehall/dicehall/internal/v1/game"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// requireHost verifies the sender owns the room. Callers hold r.mu.
func (r *Room) requireHost(c *transport.Conn, corr string) (*State, bool) {
	st := r.loadState()
	if st == nil {
		sendError(c, corr, protocol.ErrRoomNotFound, "room does not exist yet")
		return nil, false
	}
	if c.Attachment().UserID != st.HostUserID {
		sendError(c, corr, protocol.ErrNotHost, "only the host can do that")
		return nil, false
	}
	return st, true
}

func (r *Room) handleStartGame(c *transport.Conn, cmd protocol.Command) string {
	st, ok := r.requireHost(c, cmd.CorrelationID)
	if !ok {
		return "error"
	}
	if st.Status != StatusWaiting {
		sendError(c, cmd.CorrelationID, protocol.ErrGameInProgress, "game already started")
		return "error"
	}

	seeds := r.gatherSeeds(st)
	if len(seeds) < 2 {
		sendError(c, cmd.CorrelationID, protocol.ErrNotEnough, "need at least 2 players")
		return "error"
	}

	r.engine.InitializeFromRoom(seeds)
	r.gameLoaded = true

	st.Status = StatusStarting
	r.saveState()
	r.broadcastRoom(protocol.NewEvent(protocol.EventGameStarting, map[string]any{
		"playerCount": len(seeds),
	}))

	if res := r.engine.StartGame(); !res.OK {
		st.Status = StatusWaiting
		r.saveState()
		sendError(c, cmd.CorrelationID, res.Code, res.Message)
		return "error"
	}
	r.beginPlaying(st)

	gs := r.engine.State()
	r.broadcastRoom(protocol.NewEvent(protocol.EventGameStarted, map[string]any{
		"playerOrder":     gs.PlayerOrder,
		"currentPlayerId": gs.CurrentPlayerID(),
		"turnNumber":      gs.TurnNumber,
		"roundNumber":     gs.RoundNumber,
		"phase":           gs.Phase,
		"players":         gs.Players,
	}))

	r.cancelAllInvites("room_closed")
	r.scheduleTurnTimers(gs.CurrentPlayerID())
	logging.Info(r.ctx(), "Game started", zap.Int("players", len(seeds)))
	return "ok"
}

func (r *Room) handleQuickPlayStart(c *transport.Conn, cmd protocol.Command) string {
	st, ok := r.requireHost(c, cmd.CorrelationID)
	if !ok {
		return "error"
	}
	if st.Status != StatusWaiting {
		sendError(c, cmd.CorrelationID, protocol.ErrGameInProgress, "game already started")
		return "error"
	}

	var payload struct {
		AIProfiles []string `json:"aiProfiles"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || len(payload.AIProfiles) == 0 {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "aiProfiles must be a non-empty list")
		return "error"
	}

	for _, profileID := range payload.AIProfiles {
		if !ai.ValidProfile(profileID) {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidProfile, "unknown AI profile: "+profileID)
			return "error"
		}
		if r.rosterSize() >= st.Settings.MaxPlayers {
			sendError(c, cmd.CorrelationID, protocol.ErrRoomFull, "room is full")
			return "error"
		}
		r.addAIPlayer(st, profileID)
	}

	seeds := r.gatherSeeds(st)
	if len(seeds) < 2 {
		sendError(c, cmd.CorrelationID, protocol.ErrNotEnough, "need at least 2 players")
		return "error"
	}

	r.engine.InitializeFromRoom(seeds)
	r.gameLoaded = true

	// Host first, no shuffle, no "starting" interlude.
	order := make([]string, 0, len(seeds))
	order = append(order, st.HostUserID)
	for _, s := range seeds {
		if s.PlayerID != st.HostUserID {
			order = append(order, s.PlayerID)
		}
	}
	if res := r.engine.StartGameWithOrder(order); !res.OK {
		sendError(c, cmd.CorrelationID, res.Code, res.Message)
		return "error"
	}
	r.beginPlaying(st)

	gs := r.engine.State()
	r.broadcastRoom(protocol.NewEvent(protocol.EventQuickPlayStarted, map[string]any{
		"playerOrder":     gs.PlayerOrder,
		"currentPlayerId": gs.CurrentPlayerID(),
		"turnNumber":      gs.TurnNumber,
		"roundNumber":     gs.RoundNumber,
		"phase":           gs.Phase,
		"players":         gs.Players,
		"aiPlayers":       st.AIPlayers,
	}))

	r.cancelAllInvites("room_closed")
	r.scheduleTurnTimers(gs.CurrentPlayerID())
	return "ok"
}

func (r *Room) beginPlaying(st *State) {
	st.Status = StatusPlaying
	st.StartedAt = r.now().UnixMilli()
	st.PlayerOrder = append([]string(nil), r.engine.State().PlayerOrder...)
	r.saveState()
	r.saveGame()
	r.spectators.resetForNewGame()
	metrics.RoomPlayers.WithLabelValues(r.code).Set(float64(len(r.engine.State().PlayerOrder)))
	r.publishStatus()
}

// gatherSeeds collects connected humans plus the AI roster.
func (r *Room) gatherSeeds(st *State) []game.Seed {
	seeds := []game.Seed{}
	for _, seat := range r.loadSeats() {
		if seat.IsConnected {
			seeds = append(seeds, game.Seed{PlayerID: seat.UserID, DisplayName: seat.DisplayName})
		}
	}
	for _, aip := range st.AIPlayers {
		seeds = append(seeds, game.Seed{PlayerID: aip.ID, DisplayName: aip.DisplayName, IsAI: true})
	}
	return seeds
}

func (r *Room) handleAddAIPlayer(c *transport.Conn, cmd protocol.Command) string {
	st, ok := r.requireHost(c, cmd.CorrelationID)
	if !ok {
		return "error"
	}
	if st.Status != StatusWaiting {
		sendError(c, cmd.CorrelationID, protocol.ErrGameInProgress, "cannot add AI mid-game")
		return "error"
	}
	var payload struct {
		ProfileID string `json:"profileId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.ProfileID == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "profileId is required")
		return "error"
	}
	if !ai.ValidProfile(payload.ProfileID) {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidProfile, "unknown AI profile: "+payload.ProfileID)
		return "error"
	}
	if r.rosterSize() >= st.Settings.MaxPlayers {
		sendError(c, cmd.CorrelationID, protocol.ErrRoomFull, "room is full")
		return "error"
	}

	aip := r.addAIPlayer(st, payload.ProfileID)
	r.broadcastRoom(protocol.NewEvent(protocol.EventAIPlayerJoined, aip).WithCorrelation(cmd.CorrelationID))
	r.publishStatus()
	return "ok"
}

func (r *Room) addAIPlayer(st *State, profileID string) AIPlayer {
	profile := ai.ProfileByID(profileID)
	aip := AIPlayer{
		ID:          fmt.Sprintf("ai:%s:%d", profileID, r.now().UnixMilli()),
		ProfileID:   profileID,
		DisplayName: profile.DisplayName,
		AvatarSeed:  profile.AvatarSeed,
	}
	st.AIPlayers = append(st.AIPlayers, aip)
	st.PlayerOrder = append(st.PlayerOrder, aip.ID)
	r.saveState()
	return aip
}

func (r *Room) handleRemoveAIPlayer(c *transport.Conn, cmd protocol.Command) string {
	st, ok := r.requireHost(c, cmd.CorrelationID)
	if !ok {
		return "error"
	}
	if st.Status != StatusWaiting {
		sendError(c, cmd.CorrelationID, protocol.ErrGameInProgress, "cannot remove AI mid-game")
		return "error"
	}
	var payload struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.PlayerID == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "playerId is required")
		return "error"
	}

	found := false
	kept := st.AIPlayers[:0]
	for _, aip := range st.AIPlayers {
		if aip.ID == payload.PlayerID {
			found = true
			continue
		}
		kept = append(kept, aip)
	}
	if !found {
		sendError(c, cmd.CorrelationID, protocol.ErrPlayerNotFound, "no such AI player")
		return "error"
	}
	st.AIPlayers = kept
	st.PlayerOrder = removeString(st.PlayerOrder, payload.PlayerID)
	r.saveState()

	r.broadcastRoom(protocol.NewEvent(protocol.EventAIPlayerRemoved, map[string]any{
		"playerId": payload.PlayerID,
	}).WithCorrelation(cmd.CorrelationID))
	r.publishStatus()
	return "ok"
}

// requireSeat rejects turn commands from connections without a seat, which
// covers spectators and players whose seat already expired.
func (r *Room) requireSeat(c *transport.Conn, corr string) bool {
	if _, ok := r.loadSeats()[c.Attachment().UserID]; !ok {
		sendError(c, corr, protocol.ErrNotPlayer, "only seated players can play")
		return false
	}
	return true
}

func (r *Room) handleDiceRoll(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSeat(c, cmd.CorrelationID) {
		return "error"
	}
	var payload struct {
		Kept *int `json:"kept"`
	}
	if len(cmd.Payload) > 0 {
		json.Unmarshal(cmd.Payload, &payload)
	}
	kept := -1
	if payload.Kept != nil {
		kept = *payload.Kept
	}

	if res := r.rollFor(c.Attachment().UserID, kept); !res.OK {
		sendError(c, cmd.CorrelationID, res.Code, res.Message)
		return "error"
	}
	return "ok"
}

// rollFor executes a roll for a human or AI player and broadcasts it.
func (r *Room) rollFor(playerID string, keptMask int) game.Result {
	r.loadGame()
	out, res := r.engine.RollDice(playerID, keptMask)
	if !res.OK {
		return res
	}
	r.saveGame()

	r.broadcastRoom(protocol.NewEvent(protocol.EventDiceRolled, map[string]any{
		"playerId":       playerID,
		"dice":           out.Dice,
		"rollNumber":     out.RollNumber,
		"rollsRemaining": out.RollsRemaining,
		"phase":          out.NewPhase,
	}))
	r.clearKibitzVotes()
	return res
}

func (r *Room) handleDiceKeep(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSeat(c, cmd.CorrelationID) {
		return "error"
	}
	var payload struct {
		Indices []int `json:"indices"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "indices is required")
		return "error"
	}
	if res := r.keepFor(c.Attachment().UserID, payload.Indices); !res.OK {
		sendError(c, cmd.CorrelationID, res.Code, res.Message)
		return "error"
	}
	return "ok"
}

func (r *Room) keepFor(playerID string, indices []int) game.Result {
	r.loadGame()
	mask, res := r.engine.KeepDice(playerID, indices)
	if !res.OK {
		return res
	}
	r.saveGame()
	r.broadcastRoom(protocol.NewEvent(protocol.EventDiceKept, map[string]any{
		"playerId": playerID,
		"keptDice": mask,
	}))
	return res
}

func (r *Room) handleCategoryScore(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSeat(c, cmd.CorrelationID) {
		return "error"
	}
	var payload struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.Category == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "category is required")
		return "error"
	}
	if res := r.scoreFor(c.Attachment().UserID, payload.Category); !res.OK {
		sendError(c, cmd.CorrelationID, res.Code, res.Message)
		return "error"
	}
	return "ok"
}

// scoreFor executes CATEGORY_SCORE for a human or AI player: applies the
// score, settles predictions, then either finishes the game or advances the
// turn.
func (r *Room) scoreFor(playerID, category string) game.Result {
	gs := r.loadGame()
	if gs == nil {
		return game.Fail(protocol.ErrGameNotStarted, "no game in progress")
	}

	turnNumber := gs.TurnNumber
	var diceBefore []int
	if p := gs.Players[playerID]; p != nil {
		diceBefore = append([]int(nil), p.CurrentDice...)
	}

	out, res := r.engine.ScoreCategory(playerID, category)
	if !res.OK {
		return res
	}
	r.saveGame()

	r.broadcastRoom(protocol.NewEvent(protocol.EventCategoryScored, map[string]any{
		"playerId":     playerID,
		"category":     category,
		"score":        out.Score,
		"totalScore":   out.TotalScore,
		"isDiceeBonus": out.IsDiceeBonus,
	}))

	r.settlePredictions(turnNumber, playerID, predictionOutcome{
		WasDicee:   game.IsDicee(diceBefore),
		Improved:   out.Score > 0,
		Bricked:    out.Score == 0,
		FinalScore: out.Score,
	})

	if out.GameCompleted {
		r.finishGame(out.Rankings)
	} else {
		r.advanceTurn(out.NextPlayerID, out.NextTurnNumber, out.NextRoundNumber)
	}
	return res
}

// skipCurrentTurn forces the minimum move for a stalled player.
func (r *Room) skipCurrentTurn(playerID, reason string) {
	r.loadGame()
	out, res := r.engine.SkipTurn(playerID)
	if !res.OK {
		logging.Warn(r.ctx(), "Skip turn rejected",
			zap.String("player_id", playerID), zap.String("code", res.Code))
		return
	}
	r.saveGame()

	r.broadcastRoom(protocol.NewEvent(protocol.EventTurnSkipped, map[string]any{
		"playerId":       playerID,
		"reason":         reason,
		"categoryScored": out.CategoryScored,
		"score":          out.Score,
	}))

	if out.GameCompleted {
		r.finishGame(out.Rankings)
	} else {
		gs := r.engine.State()
		r.advanceTurn(out.NextPlayerID, gs.TurnNumber, gs.RoundNumber)
	}
}

// advanceTurn broadcasts TURN_CHANGED and arms the next player's timers.
func (r *Room) advanceTurn(nextPlayerID string, turnNumber, roundNumber int) {
	gs := r.engine.State()
	r.broadcastRoom(protocol.NewEvent(protocol.EventTurnChanged, map[string]any{
		"currentPlayerId": nextPlayerID,
		"turnNumber":      turnNumber,
		"roundNumber":     roundNumber,
		"phase":           gs.Phase,
	}))
	r.clearKibitzVotes()
	r.scheduleTurnTimers(nextPlayerID)
}

// scheduleTurnTimers arms the AFK/turn-timeout pair for humans, or kicks the
// AI runner. AI turns never get an AFK warning.
func (r *Room) scheduleTurnTimers(playerID string) {
	if isAIPlayerID(playerID) {
		r.triggerAITurnIfNeeded(playerID)
		return
	}
	st := r.loadState()
	if st == nil || st.Settings.TurnTimeoutSeconds <= 0 {
		return
	}
	timeout := secondsToDuration(st.Settings.TurnTimeoutSeconds)
	r.alarm.set(timeout, AlarmData{Type: AlarmTurnTimeout, UserID: playerID})
	r.alarm.scheduleEarliest(timeout/2, AlarmData{Type: AlarmAFKCheck, UserID: playerID})
}

// finishGame settles the end of a game: rankings out, highlights to the
// lobby, rooting bonuses, warm-seat promotion.
func (r *Room) finishGame(rankings []game.Ranking) {
	st := r.loadState()
	if st == nil {
		return
	}
	st.Status = StatusCompleted
	r.saveState()

	r.broadcastRoom(protocol.NewEvent(protocol.EventGameOver, map[string]any{
		"rankings": rankings,
	}))
	if len(rankings) > 0 {
		r.systemChat(fmt.Sprintf("%s wins with %d points!", rankings[0].DisplayName, rankings[0].Score))
	}

	r.publishHighlights(rankings)
	r.awardRootingBonuses(rankings)
	r.broadcastGallerySummary(rankings)
	r.alarm.clearIfType(AlarmTurnTimeout)

	r.publishStatus()
	r.lobby.ScheduleRoomRemoval(r.code, FinishedRoomLinger)

	r.processWarmSeat()
	logging.Info(r.ctx(), "Game completed", zap.Int("players", len(rankings)))
}

func (r *Room) publishHighlights(rankings []game.Ranking) {
	if len(rankings) == 0 {
		return
	}
	winner := rankings[0]
	r.lobby.SendHighlight(Highlight{
		Kind:        "game_won",
		RoomCode:    r.code,
		PlayerName:  winner.DisplayName,
		Description: fmt.Sprintf("%s won with %d points", winner.DisplayName, winner.Score),
		Score:       winner.Score,
	})

	gs := r.engine.State()
	for _, p := range gs.Players {
		if p.DiceeBonuses > 0 || p.Scorecard[game.CategoryDicee] == 50 {
			r.lobby.SendHighlight(Highlight{
				Kind:        "dicee",
				RoomCode:    r.code,
				PlayerName:  p.DisplayName,
				Description: p.DisplayName + " rolled a Dicee!",
			})
		}
	}

	if len(rankings) >= 2 && rankings[0].Score-rankings[1].Score <= 5 {
		r.lobby.SendHighlight(Highlight{
			Kind:        "close_finish",
			RoomCode:    r.code,
			Description: fmt.Sprintf("Photo finish: %d to %d", rankings[0].Score, rankings[1].Score),
		})
	}
}

func (r *Room) handleRematch(c *transport.Conn, cmd protocol.Command) string {
	st, ok := r.requireHost(c, cmd.CorrelationID)
	if !ok {
		return "error"
	}
	gs := r.loadGame()
	if gs == nil || gs.Phase != game.PhaseGameOver {
		sendError(c, cmd.CorrelationID, protocol.ErrWrongPhase, "rematch only after game over")
		return "error"
	}

	r.engine.ResetForRematch()
	st.Status = StatusWaiting
	st.StartedAt = 0
	r.saveState()
	r.saveGame()
	r.spectators.resetForNewGame()

	r.broadcastRoom(protocol.NewEvent(protocol.EventRematchStarted, map[string]any{
		"roomCode": r.code,
	}).WithCorrelation(cmd.CorrelationID))
	r.publishStatus()
	return "ok"
}
