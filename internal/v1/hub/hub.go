// Package hub is the server's front door. It owns the registry of live room
// actors, wakes dormant rooms from storage on demand, and evicts idle actors
// back to dormancy. It also implements the lobby's RoomResolver so lobby
// users can reach rooms they are not connected to.
package hub

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dicehall/dicehall/internal/v1/auth"
	"github.com/dicehall/dicehall/internal/v1/lobby"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/ratelimit"
	"github.com/dicehall/dicehall/internal/v1/room"
	"github.com/dicehall/dicehall/internal/v1/store"
)

// Room codes are six characters from an alphabet without 0, O, 1, I.
var codePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)

// evictGracePeriod is how long a room with no sockets stays in memory before
// it is dropped back to dormancy.
const evictGracePeriod = 2 * time.Minute

// Hub coordinates every room actor plus the lobby singleton.
type Hub struct {
	mu        sync.Mutex
	rooms     map[string]*room.Room
	evictions map[string]*time.Timer

	store          *store.Store
	verifier       auth.TokenVerifier
	lobby          *lobby.Lobby
	connLimit      *ratelimit.Limiter
	allowedOrigins []string
	devMode        bool
	closed         bool
}

// NewHub wires the hub and registers it as the lobby's room resolver.
func NewHub(st *store.Store, verifier auth.TokenVerifier, lb *lobby.Lobby, connLimit *ratelimit.Limiter, allowedOrigins []string, devMode bool) *Hub {
	h := &Hub{
		rooms:          make(map[string]*room.Room),
		evictions:      make(map[string]*time.Timer),
		store:          st,
		verifier:       verifier,
		lobby:          lb,
		connLimit:      connLimit,
		allowedOrigins: allowedOrigins,
		devMode:        devMode,
	}
	lb.SetResolver(h)
	return h
}

// GetOrCreateRoom returns the live actor for a code, waking a dormant one
// from storage when necessary. Construction is cheap; a room that was never
// created simply has no persisted state yet.
func (h *Hub) GetOrCreateRoom(code string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if timer, ok := h.evictions[code]; ok {
		timer.Stop()
		delete(h.evictions, code)
	}
	if r, ok := h.rooms[code]; ok {
		return r
	}

	logging.Info(context.Background(), "Waking room actor", zap.String("room", code))
	r := room.New(code, h.store.Actor("room:"+code), h.lobby)
	h.rooms[code] = r
	return r
}

// liveRoom returns the actor only if it is already in memory.
func (h *Hub) liveRoom(code string) (*room.Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[code]
	return r, ok
}

// scheduleEviction drops the actor from memory after a grace period, provided
// nothing reconnected and no alarm is pending. The persisted state stays put,
// so the next connection wakes the same room.
func (h *Hub) scheduleEviction(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if timer, ok := h.evictions[code]; ok {
		timer.Stop()
	}
	h.evictions[code] = time.AfterFunc(evictGracePeriod, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.evictions, code)
		if r, ok := h.rooms[code]; ok && r.Idle() {
			delete(h.rooms, code)
			logging.Info(context.Background(), "Room actor went dormant", zap.String("room", code))
		}
	})
}

// RoomCount reports how many actors are currently in memory.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// --- lobby.RoomResolver ---

var _ lobby.RoomResolver = (*Hub)(nil)

// HandleJoinRequest forwards a lobby user's join request to the room actor,
// waking it if needed.
func (h *Hub) HandleJoinRequest(code, requesterID, requesterName, avatarSeed string) (string, string) {
	code = strings.ToUpper(code)
	if !codePattern.MatchString(code) {
		return "", protocol.ErrRoomNotFound
	}
	r := h.GetOrCreateRoom(code)
	requestID, errCode := r.HandleJoinRequest(requesterID, requesterName, avatarSeed)
	if errCode != "" && r.Idle() {
		h.scheduleEviction(code)
	}
	return requestID, errCode
}

// CancelJoinRequest withdraws a pending request. Requests live in actor
// memory, so a room that went dormant has nothing to cancel.
func (h *Hub) CancelJoinRequest(code, requestID, requesterID string) bool {
	r, ok := h.liveRoom(strings.ToUpper(code))
	if !ok {
		return false
	}
	return r.CancelJoinRequest(requestID, requesterID)
}

// HandleInviteResponse relays the invitee's answer. Invites do not survive
// dormancy, so an absent actor means the invite is gone.
func (h *Hub) HandleInviteResponse(code, inviteID, userID string, accept bool) string {
	r, ok := h.liveRoom(strings.ToUpper(code))
	if !ok {
		return "expired"
	}
	return r.HandleInviteResponse(inviteID, userID, accept)
}

// Shutdown gracefully closes every room and the lobby.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub, closing all active rooms")

	h.mu.Lock()
	h.closed = true
	for code, timer := range h.evictions {
		timer.Stop()
		delete(h.evictions, code)
	}
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
	h.lobby.Close()

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}
