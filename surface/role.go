package surface

import (
	"errors"
	"fmt"

	"deedles.dev/wlkit/registry"
)

// Role is the purpose a surface has been given by a shell or
// sub-surface protocol. A surface's role can only be set once.
type Role uint8

const (
	RoleNone Role = iota
	RoleToplevel
	RolePopup
	RoleSubsurface
	RoleLayer
	RoleCursor
	RoleDragIcon
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleToplevel:
		return "toplevel"
	case RolePopup:
		return "popup"
	case RoleSubsurface:
		return "subsurface"
	case RoleLayer:
		return "layer"
	case RoleCursor:
		return "cursor"
	case RoleDragIcon:
		return "drag-icon"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Repeatable reports whether the role may be assigned again while the
// surface is still acting in it. wl_pointer.set_cursor, for example,
// is sent with the same surface on every pointer enter.
func (r Role) Repeatable() bool {
	return (r == RoleCursor) || (r == RoleDragIcon)
}

// ErrRoleAlreadySet is returned when a surface is given a role that it
// can not take on because of its existing one.
var ErrRoleAlreadySet = errors.New("surface already has a role")

// RoleError details an ErrRoleAlreadySet.
type RoleError struct {
	Surface registry.ID
	Have    Role
	Want    Role
}

func (err RoleError) Error() string {
	if err.Have == err.Want {
		return fmt.Sprintf("surface %v: %v role object still exists", err.Surface, err.Have)
	}
	return fmt.Sprintf("surface %v: %v role can not become %v", err.Surface, err.Have, err.Want)
}

func (err RoleError) Unwrap() error {
	return ErrRoleAlreadySet
}

// SetRole gives the surface a role along with data specific to it,
// such as a shell's toplevel object. Setting the role that the surface
// already has succeeds if the role is repeatable or if its previous
// role object has been released with ReleaseRole.
func (s *Surface) SetRole(role Role, data any) error {
	if role == RoleNone {
		panic("surface role can not be set to none")
	}

	switch {
	case s.role == RoleNone:
	case s.role != role:
		return RoleError{Surface: s.id, Have: s.role, Want: role}
	case s.roleActive && !role.Repeatable():
		return RoleError{Surface: s.id, Have: s.role, Want: role}
	}

	s.role = role
	s.roleData = data
	s.roleActive = true
	return nil
}

// ReleaseRole marks the surface's role object as destroyed. The
// surface keeps its role and can only be given the same one again.
func (s *Surface) ReleaseRole() {
	s.roleData = nil
	s.roleActive = false
}

// Role returns the surface's role.
func (s *Surface) Role() Role {
	return s.role
}

// RoleData returns the data passed to SetRole, or nil if the role
// object has since been released.
func (s *Surface) RoleData() any {
	return s.roleData
}
