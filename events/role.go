package events

// Role is a connection's declared identity at handshake time.
type Role string

const (
	// RolePlayer has full transport control plus status.
	RolePlayer Role = "player"
	// RoleListener may only request status.
	RoleListener Role = "listener"
	// RoleLeaf is a subordinate node mirroring hub transport commands.
	RoleLeaf Role = "leaf"
	// RolePassthrough relays arbitrary events, for diagnostics/testing.
	RolePassthrough Role = "passthrough"
	// RoleLight is a lighting client awaiting ClientRegister.
	RoleLight Role = "client"
)

// ParseRole maps a handshake id onto a role; anything unrecognized is a
// lighting client.
func ParseRole(id string) Role {
	switch Role(id) {
	case RolePlayer, RoleListener, RoleLeaf, RolePassthrough:
		return Role(id)
	}
	return RoleLight
}
