// Package protocol defines the wire envelopes exchanged over room and lobby
// sockets, plus the command, event, and error-code vocabularies.
package protocol

import (
	"encoding/json"
	"time"
)

// Command is the client-to-server envelope.
type Command struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Event is the server-to-client envelope.
type Event struct {
	Type          string `json:"type"`
	Payload       any    `json:"payload"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewEvent stamps an outgoing event with the current time in epoch millis.
func NewEvent(eventType string, payload any) Event {
	return Event{Type: eventType, Payload: payload, Timestamp: time.Now().UnixMilli()}
}

// WithCorrelation echoes the request's correlationId on an acknowledgement.
func (e Event) WithCorrelation(id string) Event {
	e.CorrelationID = id
	return e
}

// ErrorPayload is the body of every ERROR / LOBBY_ERROR event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an ERROR event.
func NewError(code, message string) Event {
	return NewEvent(EventError, ErrorPayload{Code: code, Message: message})
}

// WebSocket close codes.
const (
	CloseNormal        = 1000
	CloseUnsupported   = 1003
	CloseInternalError = 1011
	CloseRoomFull      = 4003
	CloseRoomNotFound  = 4004
)

// Commands accepted by the Room actor.
const (
	CmdStartGame          = "START_GAME"
	CmdQuickPlayStart     = "QUICK_PLAY_START"
	CmdAddAIPlayer        = "ADD_AI_PLAYER"
	CmdRemoveAIPlayer     = "REMOVE_AI_PLAYER"
	CmdDiceRoll           = "DICE_ROLL"
	CmdDiceKeep           = "DICE_KEEP"
	CmdCategoryScore      = "CATEGORY_SCORE"
	CmdRematch            = "REMATCH"
	CmdPrediction         = "PREDICTION"
	CmdCancelPrediction   = "CANCEL_PREDICTION"
	CmdGetPredictions     = "GET_PREDICTIONS"
	CmdGetPredictionStats = "GET_PREDICTION_STATS"
	CmdRootForPlayer      = "ROOT_FOR_PLAYER"
	CmdClearRooting       = "CLEAR_ROOTING"
	CmdGetRooting         = "GET_ROOTING"
	CmdKibitz             = "KIBITZ"
	CmdClearKibitz        = "CLEAR_KIBITZ"
	CmdGetKibitz          = "GET_KIBITZ"
	CmdSpectatorReaction  = "SPECTATOR_REACTION"
	CmdJoinQueue          = "JOIN_QUEUE"
	CmdLeaveQueue         = "LEAVE_QUEUE"
	CmdGetQueue           = "GET_QUEUE"
	CmdGetGalleryPoints   = "GET_GALLERY_POINTS"
	CmdSendInvite         = "SEND_INVITE"
	CmdCancelInvite       = "CANCEL_INVITE"
	CmdJoinRequestResp    = "JOIN_REQUEST_RESPONSE"
	CmdPing               = "PING"
)

// Chat commands handled by the chat manager on both actors.
const (
	CmdChatMessage = "CHAT_MESSAGE"
	CmdQuickChat   = "QUICK_CHAT"
	CmdReaction    = "REACTION"
	CmdTypingStart = "TYPING_START"
	CmdTypingStop  = "TYPING_STOP"
	CmdShout       = "SHOUT"
)

// Commands accepted by the Lobby actor.
const (
	CmdLobbyChat         = "LOBBY_CHAT"
	CmdGetRooms          = "GET_ROOMS"
	CmdGetOnlineUsers    = "GET_ONLINE_USERS"
	CmdRequestJoin       = "REQUEST_JOIN"
	CmdCancelJoinRequest = "CANCEL_JOIN_REQUEST"
	CmdInviteResponse    = "INVITE_RESPONSE"
	// Backwards-compat no-ops kept so older clients do not get UNKNOWN_COMMAND.
	CmdRoomCreated = "ROOM_CREATED"
	CmdRoomUpdated = "ROOM_UPDATED"
	CmdRoomClosed  = "ROOM_CLOSED"
)

// Events emitted by the Room actor.
const (
	EventConnected          = "CONNECTED"
	EventSpectatorConnected = "SPECTATOR_CONNECTED"
	EventPlayerJoined       = "PLAYER_JOINED"
	EventPlayerDisconnected = "PLAYER_DISCONNECTED"
	EventPlayerReconnected  = "PLAYER_RECONNECTED"
	EventPlayerLeft         = "PLAYER_LEFT"
	EventPlayerSeatExpired  = "PLAYER_SEAT_EXPIRED"
	EventSpectatorJoined    = "SPECTATOR_JOINED"
	EventSpectatorLeft      = "SPECTATOR_LEFT"
	EventGameStarting       = "GAME_STARTING"
	EventGameStarted        = "GAME_STARTED"
	EventQuickPlayStarted   = "QUICK_PLAY_STARTED"
	EventTurnChanged        = "TURN_CHANGED"
	EventTurnSkipped        = "TURN_SKIPPED"
	EventPlayerAFK          = "PLAYER_AFK"
	EventDiceRolled         = "DICE_ROLLED"
	EventDiceKept           = "DICE_KEPT"
	EventCategoryScored     = "CATEGORY_SCORED"
	EventGameStateSync      = "GAME_STATE_SYNC"
	EventGameOver           = "GAME_OVER"
	EventRematchStarted     = "REMATCH_STARTED"
	EventRoomStatus         = "ROOM_STATUS"
	EventAIPlayerJoined     = "AI_PLAYER_JOINED"
	EventAIPlayerRemoved    = "AI_PLAYER_REMOVED"

	EventPredictionConfirmed = "PREDICTION_CONFIRMED"
	EventPredictionMade      = "PREDICTION_MADE"
	EventPredictionResults   = "PREDICTION_RESULTS"
	EventPredictionCancelled = "PREDICTION_CANCELLED"
	EventPredictions         = "PREDICTIONS"
	EventPredictionStats     = "PREDICTION_STATS"

	EventRootingConfirmed = "ROOTING_CONFIRMED"
	EventRootingCleared   = "ROOTING_CLEARED"
	EventRootingUpdate    = "ROOTING_UPDATE"
	EventRootingState     = "ROOTING_STATE"
	EventRootingBonus     = "ROOTING_BONUS"

	EventKibitzConfirmed = "KIBITZ_CONFIRMED"
	EventKibitzCleared   = "KIBITZ_CLEARED"
	EventKibitzUpdate    = "KIBITZ_UPDATE"
	EventKibitzState     = "KIBITZ_STATE"

	EventReactionSent      = "REACTION_SENT"
	EventSpectatorReaction = "SPECTATOR_REACTION"

	EventQueueJoined         = "QUEUE_JOINED"
	EventQueueLeft           = "QUEUE_LEFT"
	EventQueueUpdate         = "QUEUE_UPDATE"
	EventQueueState          = "QUEUE_STATE"
	EventWarmSeatTransition  = "WARM_SEAT_TRANSITION"
	EventWarmSeatComplete    = "WARM_SEAT_COMPLETE"
	EventYouAreTransitioning = "YOU_ARE_TRANSITIONING"
	EventTransitionComplete  = "TRANSITION_COMPLETE"

	EventGalleryPoints       = "GALLERY_POINTS"
	EventGalleryPointsUpdate = "GALLERY_POINTS_UPDATE"
	EventGalleryGameSummary  = "GALLERY_GAME_SUMMARY"

	EventInviteSent           = "INVITE_SENT"
	EventInviteAccepted       = "INVITE_ACCEPTED"
	EventInviteDeclined       = "INVITE_DECLINED"
	EventInviteExpired        = "INVITE_EXPIRED"
	EventJoinRequestReceived  = "JOIN_REQUEST_RECEIVED"
	EventJoinRequestExpired   = "JOIN_REQUEST_EXPIRED"
	EventJoinRequestCancelled = "JOIN_REQUEST_CANCELLED"
	EventJoinRequestResolved  = "JOIN_REQUEST_RESOLVED"

	EventChatMessage  = "CHAT_MESSAGE"
	EventReaction     = "REACTION"
	EventShout        = "SHOUT"
	EventTypingUpdate = "TYPING_UPDATE"

	EventError = "ERROR"
	EventPong  = "PONG"
)

// Events emitted by the Lobby actor.
const (
	EventPresenceInit     = "PRESENCE_INIT"
	EventPresenceJoin     = "PRESENCE_JOIN"
	EventPresenceLeave    = "PRESENCE_LEAVE"
	EventLobbyOnlineUsers = "LOBBY_ONLINE_USERS"
	EventLobbyRoomsList   = "LOBBY_ROOMS_LIST"
	EventLobbyRoomUpdate  = "LOBBY_ROOM_UPDATE"
	EventLobbyChatMessage = "LOBBY_CHAT_MESSAGE"
	EventLobbyChatHistory = "LOBBY_CHAT_HISTORY"
	EventLobbyHighlight   = "LOBBY_HIGHLIGHT"
	EventLobbyError       = "LOBBY_ERROR"
	EventInviteReceived   = "INVITE_RECEIVED"
	EventInviteCancelled  = "INVITE_CANCELLED"
	EventJoinRequestSent  = "JOIN_REQUEST_SENT"
	EventJoinRequestError = "JOIN_REQUEST_ERROR"
	EventJoinApproved     = "JOIN_APPROVED"
	EventJoinDeclined     = "JOIN_DECLINED"
)

// Error codes surfaced in ERROR payloads.
const (
	ErrUnknownCommand  = "UNKNOWN_COMMAND"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrInvalidPayload  = "INVALID_PAYLOAD"
	ErrNotHost         = "NOT_HOST"
	ErrNotSpectator    = "NOT_SPECTATOR"
	ErrNotPlayer       = "NOT_PLAYER"
	ErrRoomNotFound    = "ROOM_NOT_FOUND"
	ErrGameInProgress  = "GAME_IN_PROGRESS"
	ErrGameNotStarted  = "GAME_NOT_STARTED"
	ErrRoomFull        = "ROOM_FULL"
	ErrInvalidProfile  = "INVALID_PROFILE"
	ErrPlayerNotFound  = "PLAYER_NOT_FOUND"
	ErrNotYourTurn     = "NOT_YOUR_TURN"
	ErrWrongPhase      = "WRONG_PHASE"
	ErrNoRollsLeft     = "NO_ROLLS_LEFT"
	ErrCategoryTaken   = "CATEGORY_TAKEN"
	ErrInvalidCategory = "INVALID_CATEGORY"
	ErrNotEnough       = "NOT_ENOUGH_PLAYERS"

	ErrQueueFull         = "QUEUE_FULL"
	ErrAlreadyQueued     = "ALREADY_QUEUED"
	ErrNotQueued         = "NOT_QUEUED"
	ErrAlreadyInvited    = "ALREADY_INVITED"
	ErrAlreadyInRoom     = "ALREADY_IN_ROOM"
	ErrUserOffline       = "USER_OFFLINE"
	ErrDeliveryFailed    = "DELIVERY_FAILED"
	ErrInviteNotFound    = "INVITE_NOT_FOUND"
	ErrPredictionLimit   = "PREDICTION_LIMIT"
	ErrPredictionExists  = "PREDICTION_EXISTS"
	ErrPredictionMissing = "PREDICTION_NOT_FOUND"
	ErrRootingLimit      = "ROOTING_LIMIT"
	ErrAlreadyRooting    = "ALREADY_ROOTING"
	ErrInvalidEmoji      = "INVALID_EMOJI"
	ErrRateLimited       = "RATE_LIMITED"
	ErrRequestNotFound   = "REQUEST_NOT_FOUND"
	ErrSpectatorsOff     = "SPECTATORS_DISABLED"
	ErrInternal          = "INTERNAL_ERROR"
)
