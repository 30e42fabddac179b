package models

// Role is the access level the gate resolves for a user on a document.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleEditor    Role = "editor"
	RoleReadOnly  Role = "read-only"
	RoleForbidden Role = "forbidden"
)

// CanRead reports whether the role may join a room and receive its events.
func (r Role) CanRead() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleReadOnly:
		return true
	default:
		return false
	}
}

// CanWrite reports whether edits from this role are relayed and persisted.
func (r Role) CanWrite() bool {
	switch r {
	case RoleOwner, RoleEditor:
		return true
	default:
		return false
	}
}
