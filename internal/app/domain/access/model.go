// Package access defines the capability roles recognised by the coordinator.
package access

// Role names a capability set.
type Role string

const (
	// RoleAdmin may grant and revoke roles, withdraw fees, transfer
	// ownership, and drain the system while paused.
	RoleAdmin Role = "admin"

	// RoleOperator may start processing and declare processing failures.
	RoleOperator Role = "operator"

	// RolePauser may toggle the pause flag.
	RolePauser Role = "pauser"
)

// Valid reports whether the role is one of the recognised capability sets.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RolePauser:
		return true
	}
	return false
}
