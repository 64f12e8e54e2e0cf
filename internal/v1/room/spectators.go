package room

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dicehall/dicehall/internal/v1/game"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"github.com/google/uuid"
)

// Prediction types and their payouts.
const (
	PredictionDicee    = "dicee"
	PredictionExact    = "exact"
	PredictionImproves = "improves"
	PredictionBricks   = "bricks"
)

var predictionPoints = map[string]int{
	PredictionDicee:    50,
	PredictionExact:    25,
	PredictionImproves: 10,
	PredictionBricks:   10,
}

const rootingWinnerBonus = 25

// Reaction emoji allowlists.
var (
	standardEmojis  = map[string]bool{"👍": true, "👏": true, "😂": true, "😮": true, "🔥": true, "💀": true, "🎲": true, "❤️": true}
	spectatorEmojis = map[string]bool{"🍿": true, "👀": true, "🫣": true, "🤯": true}
	rootingEmojis   = map[string]bool{"📣": true, "🎺": true, "🚩": true}
)

type predKey struct {
	Turn     int
	PlayerID string
}

// Prediction is one spectator's wager on a player's turn outcome.
type Prediction struct {
	ID            string `json:"id"`
	SpectatorID   string `json:"spectatorId"`
	SpectatorName string `json:"spectatorName"`
	PlayerID      string `json:"playerId"`
	TurnNumber    int    `json:"turnNumber"`
	Type          string `json:"type"`
	ExactScore    int    `json:"exactScore,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	Evaluated     bool   `json:"evaluated"`
	Correct       bool   `json:"correct"`
	Points        int    `json:"points"`
}

type rootingChoice struct {
	PlayerID      string `json:"playerId"`
	SpectatorName string `json:"spectatorName"`
}

type kibitzVote struct {
	SpectatorID string `json:"spectatorId"`
	VoteType    string `json:"voteType"`
	Category    string `json:"category,omitempty"`
	KeepMask    int    `json:"keepMask,omitempty"`
	Action      string `json:"action,omitempty"`
}

// optionID renders the vote as a tally key.
func (v *kibitzVote) optionID() string {
	switch v.VoteType {
	case "category":
		return v.Category
	case "keep":
		return fmt.Sprintf("keep:%d", v.KeepMask)
	default:
		return v.Action
	}
}

type reactionStamp struct {
	Emoji       string
	SpectatorID string
	At          time.Time
}

// spectatorState holds every ephemeral spectator subsystem. Lost on
// hibernation by design; none of it affects game correctness.
type spectatorState struct {
	predictions    map[predKey][]*Prediction
	rooting        map[string]rootingChoice
	rootingChanges map[string]int
	kibitz         map[string]*kibitzVote
	reactions      map[string][]time.Time
	combo          []reactionStamp
	galleryPoints  map[string]int
	galleryNames   map[string]string
}

func newSpectatorState() *spectatorState {
	return &spectatorState{
		predictions:    make(map[predKey][]*Prediction),
		rooting:        make(map[string]rootingChoice),
		rootingChanges: make(map[string]int),
		kibitz:         make(map[string]*kibitzVote),
		reactions:      make(map[string][]time.Time),
		galleryPoints:  make(map[string]int),
		galleryNames:   make(map[string]string),
	}
}

// resetForNewGame clears per-game state. Gallery points survive rematches so
// regulars keep their standing.
func (s *spectatorState) resetForNewGame() {
	s.predictions = make(map[predKey][]*Prediction)
	s.rooting = make(map[string]rootingChoice)
	s.rootingChanges = make(map[string]int)
	s.kibitz = make(map[string]*kibitzVote)
}

// requireSpectator rejects players on spectator-only commands.
func (r *Room) requireSpectator(c *transport.Conn, corr string) bool {
	if !c.HasTag(transport.RoleTag(transport.RoleSpectator)) {
		sendError(c, corr, protocol.ErrNotSpectator, "spectator-only command")
		return false
	}
	return true
}

// isActivePlayer reports whether the target id is a connected human seat or
// an AI in the roster.
func (r *Room) isActivePlayer(playerID string) bool {
	if isAIPlayerID(playerID) {
		st := r.loadState()
		if st == nil {
			return false
		}
		for _, aip := range st.AIPlayers {
			if aip.ID == playerID {
				return true
			}
		}
		return false
	}
	seat, ok := r.loadSeats()[playerID]
	return ok && seat.IsConnected
}

// --- Predictions ---

func (r *Room) handlePrediction(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	st := r.loadState()
	if st == nil || st.Status != StatusPlaying {
		sendError(c, cmd.CorrelationID, protocol.ErrGameNotStarted, "predictions only during a game")
		return "error"
	}

	var payload struct {
		PlayerID   string `json:"playerId"`
		Type       string `json:"type"`
		ExactScore *int   `json:"exactScore"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "malformed prediction")
		return "error"
	}
	if _, ok := predictionPoints[payload.Type]; !ok {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "unknown prediction type: "+payload.Type)
		return "error"
	}
	if !r.isActivePlayer(payload.PlayerID) {
		sendError(c, cmd.CorrelationID, protocol.ErrPlayerNotFound, "target is not an active player")
		return "error"
	}
	exact := 0
	if payload.Type == PredictionExact {
		if payload.ExactScore == nil || *payload.ExactScore < 0 || *payload.ExactScore > 50 {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "exactScore must be 0..50")
			return "error"
		}
		exact = *payload.ExactScore
	}

	att := c.Attachment()
	gs := r.loadGame()
	key := predKey{Turn: gs.TurnNumber, PlayerID: payload.PlayerID}

	mine := 0
	for _, p := range r.spectators.predictions[key] {
		if p.SpectatorID != att.UserID {
			continue
		}
		mine++
		if p.Type == payload.Type {
			sendError(c, cmd.CorrelationID, protocol.ErrPredictionExists, "already predicted that")
			return "error"
		}
	}
	if mine >= MaxPredictionsPerKey {
		sendError(c, cmd.CorrelationID, protocol.ErrPredictionLimit, "prediction limit reached for this turn")
		return "error"
	}

	pred := &Prediction{
		ID:            uuid.NewString(),
		SpectatorID:   att.UserID,
		SpectatorName: att.DisplayName,
		PlayerID:      payload.PlayerID,
		TurnNumber:    gs.TurnNumber,
		Type:          payload.Type,
		ExactScore:    exact,
		CreatedAt:     r.now().UnixMilli(),
	}
	r.spectators.predictions[key] = append(r.spectators.predictions[key], pred)
	r.spectators.galleryNames[att.UserID] = att.DisplayName

	c.SendEvent(protocol.NewEvent(protocol.EventPredictionConfirmed, pred).WithCorrelation(cmd.CorrelationID))
	// Other spectators learn only the type and the running count.
	r.broadcastSpectators(protocol.NewEvent(protocol.EventPredictionMade, map[string]any{
		"playerId":   payload.PlayerID,
		"turnNumber": gs.TurnNumber,
		"type":       payload.Type,
		"count":      len(r.spectators.predictions[key]),
	}))
	return "ok"
}

func (r *Room) handleCancelPrediction(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	var payload struct {
		PredictionID string `json:"predictionId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.PredictionID == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "predictionId is required")
		return "error"
	}

	userID := c.Attachment().UserID
	for key, preds := range r.spectators.predictions {
		for i, p := range preds {
			if p.ID != payload.PredictionID || p.SpectatorID != userID {
				continue
			}
			if p.Evaluated {
				sendError(c, cmd.CorrelationID, protocol.ErrPredictionMissing, "prediction already evaluated")
				return "error"
			}
			r.spectators.predictions[key] = append(preds[:i], preds[i+1:]...)
			c.SendEvent(protocol.NewEvent(protocol.EventPredictionCancelled, map[string]any{
				"predictionId": p.ID,
			}).WithCorrelation(cmd.CorrelationID))
			return "ok"
		}
	}
	sendError(c, cmd.CorrelationID, protocol.ErrPredictionMissing, "no such prediction")
	return "error"
}

func (r *Room) handleGetPredictions(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	userID := c.Attachment().UserID
	mine := []*Prediction{}
	for _, preds := range r.spectators.predictions {
		for _, p := range preds {
			if p.SpectatorID == userID {
				mine = append(mine, p)
			}
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt < mine[j].CreatedAt })
	c.SendEvent(protocol.NewEvent(protocol.EventPredictions, map[string]any{
		"predictions": mine,
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

func (r *Room) handleGetPredictionStats(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	stats := map[string]map[string]int{}
	for key, preds := range r.spectators.predictions {
		for _, p := range preds {
			if p.Evaluated {
				continue
			}
			if stats[key.PlayerID] == nil {
				stats[key.PlayerID] = map[string]int{}
			}
			stats[key.PlayerID][p.Type]++
		}
	}
	c.SendEvent(protocol.NewEvent(protocol.EventPredictionStats, map[string]any{
		"stats": stats,
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

// predictionOutcome is what actually happened on the scored turn.
type predictionOutcome struct {
	WasDicee   bool `json:"wasDicee"`
	Improved   bool `json:"improved"`
	Bricked    bool `json:"bricked"`
	FinalScore int  `json:"finalScore"`
}

// settlePredictions evaluates every open prediction for the scored turn.
// Each prediction settles at most once, so replays cannot double-award.
func (r *Room) settlePredictions(turnNumber int, playerID string, outcome predictionOutcome) {
	key := predKey{Turn: turnNumber, PlayerID: playerID}
	preds := r.spectators.predictions[key]

	results := []*Prediction{}
	for _, p := range preds {
		if p.Evaluated {
			continue
		}
		p.Evaluated = true
		switch p.Type {
		case PredictionDicee:
			p.Correct = outcome.WasDicee
		case PredictionExact:
			p.Correct = outcome.FinalScore == p.ExactScore
		case PredictionImproves:
			p.Correct = outcome.Improved
		case PredictionBricks:
			p.Correct = outcome.Bricked
		}
		if p.Correct {
			p.Points = predictionPoints[p.Type]
			r.spectators.galleryPoints[p.SpectatorID] += p.Points
		}
		results = append(results, p)
	}
	if len(results) == 0 {
		return
	}

	r.broadcastRoom(protocol.NewEvent(protocol.EventPredictionResults, map[string]any{
		"playerId":   playerID,
		"turnNumber": turnNumber,
		"outcome":    outcome,
		"results":    results,
	}))
	r.broadcastSpectators(protocol.NewEvent(protocol.EventGalleryPointsUpdate, map[string]any{
		"leaderboard": r.galleryLeaderboard(),
	}))
}

// --- Rooting ---

func (r *Room) handleRootForPlayer(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	var payload struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.PlayerID == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "playerId is required")
		return "error"
	}
	if !r.isActivePlayer(payload.PlayerID) {
		sendError(c, cmd.CorrelationID, protocol.ErrPlayerNotFound, "target is not an active player")
		return "error"
	}

	att := c.Attachment()
	if cur, ok := r.spectators.rooting[att.UserID]; ok && cur.PlayerID == payload.PlayerID {
		sendError(c, cmd.CorrelationID, protocol.ErrAlreadyRooting, "already rooting for that player")
		return "error"
	}
	if r.spectators.rootingChanges[att.UserID] >= MaxRootingChanges {
		sendError(c, cmd.CorrelationID, protocol.ErrRootingLimit, "rooting change limit reached")
		return "error"
	}

	r.spectators.rootingChanges[att.UserID]++
	r.spectators.rooting[att.UserID] = rootingChoice{PlayerID: payload.PlayerID, SpectatorName: att.DisplayName}
	r.spectators.galleryNames[att.UserID] = att.DisplayName

	c.SendEvent(protocol.NewEvent(protocol.EventRootingConfirmed, map[string]any{
		"playerId": payload.PlayerID,
	}).WithCorrelation(cmd.CorrelationID))
	r.broadcastRootingUpdate()
	return "ok"
}

func (r *Room) handleClearRooting(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	att := c.Attachment()
	if _, ok := r.spectators.rooting[att.UserID]; !ok {
		sendError(c, cmd.CorrelationID, protocol.ErrPlayerNotFound, "not rooting for anyone")
		return "error"
	}
	if r.spectators.rootingChanges[att.UserID] >= MaxRootingChanges {
		sendError(c, cmd.CorrelationID, protocol.ErrRootingLimit, "rooting change limit reached")
		return "error"
	}
	r.spectators.rootingChanges[att.UserID]++
	delete(r.spectators.rooting, att.UserID)

	c.SendEvent(protocol.NewEvent(protocol.EventRootingCleared, map[string]any{}).WithCorrelation(cmd.CorrelationID))
	r.broadcastRootingUpdate()
	return "ok"
}

func (r *Room) handleGetRooting(c *transport.Conn, cmd protocol.Command) string {
	att := c.Attachment()
	var mine string
	if cur, ok := r.spectators.rooting[att.UserID]; ok {
		mine = cur.PlayerID
	}
	c.SendEvent(protocol.NewEvent(protocol.EventRootingState, map[string]any{
		"counts":   r.rootingCounts(),
		"myChoice": mine,
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

type rootingSummary struct {
	PlayerID string   `json:"playerId"`
	Count    int      `json:"count"`
	Names    []string `json:"names"`
}

func (r *Room) rootingCounts() []rootingSummary {
	byPlayer := map[string]*rootingSummary{}
	for _, choice := range r.spectators.rooting {
		s := byPlayer[choice.PlayerID]
		if s == nil {
			s = &rootingSummary{PlayerID: choice.PlayerID}
			byPlayer[choice.PlayerID] = s
		}
		s.Count++
		if len(s.Names) < 3 {
			s.Names = append(s.Names, choice.SpectatorName)
		}
	}
	out := make([]rootingSummary, 0, len(byPlayer))
	for _, s := range byPlayer {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

func (r *Room) broadcastRootingUpdate() {
	r.broadcastRoom(protocol.NewEvent(protocol.EventRootingUpdate, map[string]any{
		"counts": r.rootingCounts(),
	}))
}

// awardRootingBonuses pays spectators who backed the winner.
func (r *Room) awardRootingBonuses(rankings []game.Ranking) {
	if len(rankings) == 0 {
		return
	}
	winner := rankings[0].PlayerID
	backers := []string{}
	for spectatorID, choice := range r.spectators.rooting {
		if choice.PlayerID == winner {
			r.spectators.galleryPoints[spectatorID] += rootingWinnerBonus
			backers = append(backers, spectatorID)
		}
	}
	if len(backers) == 0 {
		return
	}
	sort.Strings(backers)
	r.broadcastSpectators(protocol.NewEvent(protocol.EventRootingBonus, map[string]any{
		"playerId":     winner,
		"spectatorIds": backers,
		"points":       rootingWinnerBonus,
	}))
}

// --- Kibitz ---

func (r *Room) handleKibitz(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	st := r.loadState()
	if st == nil || st.Status != StatusPlaying {
		sendError(c, cmd.CorrelationID, protocol.ErrGameNotStarted, "kibitz only during a live turn")
		return "error"
	}
	gs := r.loadGame()
	if gs == nil || gs.Phase == game.PhaseGameOver {
		sendError(c, cmd.CorrelationID, protocol.ErrWrongPhase, "no live turn to advise")
		return "error"
	}

	var payload struct {
		VoteType string `json:"voteType"`
		Category string `json:"category"`
		KeepMask *int   `json:"keepMask"`
		Action   string `json:"action"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "malformed kibitz vote")
		return "error"
	}

	vote := &kibitzVote{SpectatorID: c.Attachment().UserID, VoteType: payload.VoteType}
	switch payload.VoteType {
	case "category":
		if !game.ValidCategory(payload.Category) {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "unknown category: "+payload.Category)
			return "error"
		}
		vote.Category = payload.Category
	case "keep":
		if payload.KeepMask == nil || *payload.KeepMask < 0 || *payload.KeepMask > 31 {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "keepMask must be 0..31")
			return "error"
		}
		vote.KeepMask = *payload.KeepMask
	case "action":
		if payload.Action != "roll" && payload.Action != "score" {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "action must be roll or score")
			return "error"
		}
		vote.Action = payload.Action
	default:
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "unknown voteType: "+payload.VoteType)
		return "error"
	}

	// One vote per spectator per turn; new votes replace.
	r.spectators.kibitz[vote.SpectatorID] = vote

	c.SendEvent(protocol.NewEvent(protocol.EventKibitzConfirmed, vote).WithCorrelation(cmd.CorrelationID))
	r.broadcastKibitzUpdate()
	return "ok"
}

func (r *Room) handleClearKibitz(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	delete(r.spectators.kibitz, c.Attachment().UserID)
	c.SendEvent(protocol.NewEvent(protocol.EventKibitzCleared, map[string]any{}).WithCorrelation(cmd.CorrelationID))
	r.broadcastKibitzUpdate()
	return "ok"
}

func (r *Room) handleGetKibitz(c *transport.Conn, cmd protocol.Command) string {
	c.SendEvent(protocol.NewEvent(protocol.EventKibitzState, map[string]any{
		"options":    r.kibitzTally(),
		"totalVotes": len(r.spectators.kibitz),
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

type kibitzOption struct {
	OptionID   string `json:"optionId"`
	VoteType   string `json:"voteType"`
	VoteCount  int    `json:"voteCount"`
	Percentage int    `json:"percentage"`
}

func (r *Room) kibitzTally() []kibitzOption {
	total := len(r.spectators.kibitz)
	counts := map[string]*kibitzOption{}
	for _, v := range r.spectators.kibitz {
		id := v.optionID()
		opt := counts[id]
		if opt == nil {
			opt = &kibitzOption{OptionID: id, VoteType: v.VoteType}
			counts[id] = opt
		}
		opt.VoteCount++
	}
	out := make([]kibitzOption, 0, len(counts))
	for _, opt := range counts {
		opt.Percentage = opt.VoteCount * 100 / total
		out = append(out, *opt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VoteCount != out[j].VoteCount {
			return out[i].VoteCount > out[j].VoteCount
		}
		return out[i].OptionID < out[j].OptionID
	})
	return out
}

func (r *Room) broadcastKibitzUpdate() {
	r.broadcastRoom(protocol.NewEvent(protocol.EventKibitzUpdate, map[string]any{
		"options":    r.kibitzTally(),
		"totalVotes": len(r.spectators.kibitz),
	}))
}

// clearKibitzVotes empties the vote map. Called on every roll and every turn
// change so advice never outlives the dice it was about.
func (r *Room) clearKibitzVotes() {
	if len(r.spectators.kibitz) == 0 {
		return
	}
	r.spectators.kibitz = make(map[string]*kibitzVote)
	r.broadcastRoom(protocol.NewEvent(protocol.EventKibitzCleared, map[string]any{}))
}

// --- Reactions ---

func (r *Room) handleSpectatorReaction(c *transport.Conn, cmd protocol.Command) string {
	if !r.requireSpectator(c, cmd.CorrelationID) {
		return "error"
	}
	var payload struct {
		Emoji          string `json:"emoji"`
		TargetPlayerID string `json:"targetPlayerId"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.Emoji == "" {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidPayload, "emoji is required")
		return "error"
	}

	isRooting := rootingEmojis[payload.Emoji]
	if !standardEmojis[payload.Emoji] && !spectatorEmojis[payload.Emoji] && !isRooting {
		sendError(c, cmd.CorrelationID, protocol.ErrInvalidEmoji, "emoji not in the allowed set")
		return "error"
	}

	att := c.Attachment()
	if isRooting {
		choice, ok := r.spectators.rooting[att.UserID]
		if !ok || choice.PlayerID != payload.TargetPlayerID {
			sendError(c, cmd.CorrelationID, protocol.ErrInvalidEmoji, "rooting emojis require rooting for the target")
			return "error"
		}
	}

	now := r.now()
	if !r.allowReaction(att.UserID, now) {
		sendError(c, cmd.CorrelationID, protocol.ErrRateLimited, "too many reactions, slow down")
		return "error"
	}

	comboCount := r.recordCombo(att.UserID, payload.Emoji, now)
	playSound := comboCount == 1 || comboCount%5 == 0

	c.SendEvent(protocol.NewEvent(protocol.EventReactionSent, map[string]any{
		"emoji": payload.Emoji,
	}).WithCorrelation(cmd.CorrelationID))
	r.broadcastRoom(protocol.NewEvent(protocol.EventSpectatorReaction, map[string]any{
		"spectatorId":    att.UserID,
		"displayName":    att.DisplayName,
		"emoji":          payload.Emoji,
		"targetPlayerId": payload.TargetPlayerID,
		"comboCount":     comboCount,
		"playSound":      playSound,
	}))
	return "ok"
}

// allowReaction applies the per-spectator sliding window (10 per 30 s).
func (r *Room) allowReaction(spectatorID string, now time.Time) bool {
	cutoff := now.Add(-ReactionWindow)
	kept := r.spectators.reactions[spectatorID][:0]
	for _, t := range r.spectators.reactions[spectatorID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= MaxReactionsPerWindow {
		r.spectators.reactions[spectatorID] = kept
		return false
	}
	r.spectators.reactions[spectatorID] = append(kept, now)
	return true
}

// recordCombo counts unique spectators sending the same emoji within the
// 3-second window, this reaction included.
func (r *Room) recordCombo(spectatorID, emoji string, now time.Time) int {
	cutoff := now.Add(-ComboWindow)
	kept := r.spectators.combo[:0]
	for _, s := range r.spectators.combo {
		if s.At.After(cutoff) {
			kept = append(kept, s)
		}
	}
	r.spectators.combo = append(kept, reactionStamp{Emoji: emoji, SpectatorID: spectatorID, At: now})

	unique := map[string]bool{}
	for _, s := range r.spectators.combo {
		if s.Emoji == emoji {
			unique[s.SpectatorID] = true
		}
	}
	return len(unique)
}

// --- Gallery points ---

type galleryEntry struct {
	SpectatorID string `json:"spectatorId"`
	DisplayName string `json:"displayName"`
	Points      int    `json:"points"`
}

func (r *Room) galleryLeaderboard() []galleryEntry {
	out := make([]galleryEntry, 0, len(r.spectators.galleryPoints))
	for id, pts := range r.spectators.galleryPoints {
		out = append(out, galleryEntry{
			SpectatorID: id,
			DisplayName: r.spectators.galleryNames[id],
			Points:      pts,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].SpectatorID < out[j].SpectatorID
	})
	return out
}

func (r *Room) handleGetGalleryPoints(c *transport.Conn, cmd protocol.Command) string {
	c.SendEvent(protocol.NewEvent(protocol.EventGalleryPoints, map[string]any{
		"leaderboard": r.galleryLeaderboard(),
	}).WithCorrelation(cmd.CorrelationID))
	return "ok"
}

func (r *Room) broadcastGallerySummary(rankings []game.Ranking) {
	leaderboard := r.galleryLeaderboard()
	if len(leaderboard) == 0 {
		return
	}
	r.broadcastSpectators(protocol.NewEvent(protocol.EventGalleryGameSummary, map[string]any{
		"leaderboard": leaderboard,
		"rankings":    rankings,
	}))
}
