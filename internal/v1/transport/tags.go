package transport

// Roles a connection can hold in a room.
const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

// Tag constructors. Tags are plain strings so they serialize trivially; the
// constructors keep the formats in one place.

func UserTag(userID string) string    { return "user:" + userID }
func RoomTag(code string) string      { return "room:" + code }
func RoleTag(role string) string      { return "role:" + role }
func PlayerTag(code string) string    { return "player:" + code }
func SpectatorTag(code string) string { return "spectator:" + code }

// RoomTags builds the accept-time tag set for a room connection.
func RoomTags(userID, code, role string) []string {
	tags := []string{UserTag(userID), RoomTag(code), RoleTag(role)}
	if role == RoleSpectator {
		return append(tags, SpectatorTag(code))
	}
	return append(tags, PlayerTag(code))
}
