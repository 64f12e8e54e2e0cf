package lobby

import (
	"sort"
	"time"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/protocol"
	"github.com/dicehall/dicehall/internal/v1/room"
	"github.com/dicehall/dicehall/internal/v1/transport"
	"go.uber.org/zap"
)

// The methods below implement room.LobbyService: they are the RPC surface
// room actors call into. Each takes the lobby mutex itself because calls
// arrive from room goroutines, never from the lobby's own dispatch.

var _ room.LobbyService = (*Lobby)(nil)

// UpdateRoomStatus upserts a directory entry and fans it out.
func (l *Lobby) UpdateRoomStatus(update room.RoomStatusUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadDirectory()

	// A completed room lingers briefly so lobby users see the result; any
	// other terminal state drops out immediately.
	l.directory[update.Code] = update
	l.saveDirectory()

	l.broadcast(protocol.NewEvent(protocol.EventLobbyRoomUpdate, update))
}

// SendHighlight fans a game moment out to everyone browsing.
func (l *Lobby) SendHighlight(h room.Highlight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcast(protocol.NewEvent(protocol.EventLobbyHighlight, h))
}

// RemoveRoom deletes a directory entry and tells browsers.
func (l *Lobby) RemoveRoom(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadDirectory()
	if timer, ok := l.removals[code]; ok {
		timer.Stop()
		delete(l.removals, code)
	}
	if _, ok := l.directory[code]; !ok {
		return
	}
	delete(l.directory, code)
	l.saveDirectory()
	l.broadcast(protocol.NewEvent(protocol.EventLobbyRoomUpdate, map[string]any{
		"code":    code,
		"removed": true,
	}))
}

// ScheduleRoomRemoval lets a finished room linger in the directory before it
// disappears. A newer schedule replaces the old one.
func (l *Lobby) ScheduleRoomRemoval(code string, after time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if timer, ok := l.removals[code]; ok {
		timer.Stop()
	}
	l.removals[code] = time.AfterFunc(after, func() { l.RemoveRoom(code) })
}

// IsUserOnline reports whether the user has any lobby socket.
func (l *Lobby) IsUserOnline(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reg.CountByTag(transport.UserTag(userID)) > 0
}

// GetOnlineUserInfo returns display data for an online user.
func (l *Lobby) GetOnlineUserInfo(userID string) (string, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conns := l.reg.ByTag(transport.UserTag(userID))
	if len(conns) == 0 {
		return "", "", false
	}
	att := conns[0].Attachment()
	return att.DisplayName, att.AvatarSeed, true
}

// DeliverInvite hands an invite to the target's lobby tabs. Reports whether
// anything was delivered so the room can surface delivery failures.
func (l *Lobby) DeliverInvite(inv room.InviteDelivery) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	conns := l.reg.ByTag(transport.UserTag(inv.TargetUserID))
	if len(conns) == 0 {
		return false
	}
	ev := protocol.NewEvent(protocol.EventInviteReceived, inv)
	for _, c := range conns {
		c.SendEvent(ev)
	}
	return true
}

// CancelInvite withdraws a delivered invite from the target's tabs.
func (l *Lobby) CancelInvite(cancel room.InviteCancellation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := protocol.NewEvent(protocol.EventInviteCancelled, cancel)
	for _, c := range l.reg.ByTag(transport.UserTag(cancel.TargetUserID)) {
		c.SendEvent(ev)
	}
}

// DeliverJoinRequestResponse tells a waiting requester the host's verdict.
func (l *Lobby) DeliverJoinRequestResponse(resp room.JoinRequestOutcome) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	conns := l.reg.ByTag(transport.UserTag(resp.RequesterID))
	if len(conns) == 0 {
		return false
	}

	var ev protocol.Event
	switch resp.Status {
	case "accepted":
		ev = protocol.NewEvent(protocol.EventJoinApproved, resp)
	case "expired":
		ev = protocol.NewEvent(protocol.EventJoinRequestExpired, resp)
	default:
		ev = protocol.NewEvent(protocol.EventJoinDeclined, resp)
	}
	for _, c := range conns {
		c.SendEvent(ev)
	}
	return true
}

// UpdateUserRoomStatus keeps the presence list's "where is everyone" current.
func (l *Lobby) UpdateUserRoomStatus(userID, roomCode, change string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	code := roomCode
	if change == "left" {
		code = ""
	}
	for _, c := range l.reg.ByTag(transport.UserTag(userID)) {
		att := c.Attachment()
		att.CurrentRoomCode = code
		c.SetAttachment(att)
	}
	l.broadcastOnlineUsers()
}

// loadDirectory populates the directory cache from storage. Callers hold l.mu.
func (l *Lobby) loadDirectory() map[string]room.RoomStatusUpdate {
	if l.dirLoaded {
		return l.directory
	}
	var dir map[string]room.RoomStatusUpdate
	found, err := l.kv.GetJSON(l.ctx(), keyDirectory, &dir)
	if err != nil {
		logging.Error(l.ctx(), "Failed to load room directory", zap.Error(err))
	}
	if found && dir != nil {
		l.directory = dir
	}
	l.dirLoaded = true
	return l.directory
}

func (l *Lobby) saveDirectory() {
	if err := l.kv.PutJSON(l.ctx(), keyDirectory, l.directory); err != nil {
		logging.Error(l.ctx(), "Failed to persist room directory", zap.Error(err))
	}
}

// sortedRooms lists public directory entries: live games first, then the most
// watched, then the most recently active. Callers hold l.mu.
func (l *Lobby) sortedRooms() []room.RoomStatusUpdate {
	l.loadDirectory()
	out := make([]room.RoomStatusUpdate, 0, len(l.directory))
	for _, entry := range l.directory {
		if entry.IsPublic {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		iPlaying := out[i].Status == "playing"
		jPlaying := out[j].Status == "playing"
		if iPlaying != jPlaying {
			return iPlaying
		}
		if out[i].SpectatorCount != out[j].SpectatorCount {
			return out[i].SpectatorCount > out[j].SpectatorCount
		}
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}
