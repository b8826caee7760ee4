// Package rbac decides what a project role may do.
package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

const (
	ActionRead   Action = "read"
	ActionSave   Action = "save"
	ActionChat   Action = "chat"
	ActionInvite Action = "invite"
	ActionExport Action = "export"
	// ActionDelete covers removing the project, which only the owner may do.
	ActionDelete Action = "delete"
)

// Can reports whether role may perform action. Members collaborate on equal
// footing with the owner except for deletion; strangers may do nothing.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		return action != ActionDelete
	default:
		return false
	}
}

// IsCollaborator reports whether role belongs to the project roster.
func IsCollaborator(role Role) bool {
	return role == RoleOwner || role == RoleMember
}
