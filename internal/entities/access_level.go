package entities

import (
	"fmt"
	"strconv"
)

// LevelType identifies a kind of access level in the hierarchy
type LevelType string

const (
	// LevelDefault is the root of the hierarchy
	LevelDefault LevelType = "default"
	// LevelRole is a role identified by slug
	LevelRole LevelType = "role"
	// LevelUser is an individual user identified by numeric ID
	LevelUser LevelType = "user"
	// LevelVisitor is the unauthenticated visitor
	LevelVisitor LevelType = "visitor"
)

// AccessLevel is a node in the access hierarchy. Every implementation
// exposes its type and an identifier that is unique within that type
// (empty for the singleton Default and Visitor levels).
type AccessLevel interface {
	// LevelType returns the kind of access level
	LevelType() LevelType
	// LevelID returns the identifier within the type, or "" for singletons
	LevelID() string
}

// DefaultLevel is the root access level. Every other level eventually
// inherits from it.
type DefaultLevel struct{}

// LevelType implements AccessLevel
func (d *DefaultLevel) LevelType() LevelType { return LevelDefault }

// LevelID implements AccessLevel
func (d *DefaultLevel) LevelID() string { return "" }

// VisitorLevel represents an unauthenticated visitor. It inherits
// directly from Default.
type VisitorLevel struct{}

// LevelType implements AccessLevel
func (v *VisitorLevel) LevelType() LevelType { return LevelVisitor }

// LevelID implements AccessLevel
func (v *VisitorLevel) LevelID() string { return "" }

// RoleLevel is a named role. Roles inherit from Default and, under
// multi-role support, may carry sibling roles whose permissions are
// folded in during resolution. Siblings never have siblings of their
// own.
type RoleLevel struct {
	// Slug is the unique role identifier
	Slug string
	// Name is the human readable role name
	Name string
	// Capabilities maps capability name to granted state
	Capabilities map[string]bool

	siblings []*RoleLevel
}

// LevelType implements AccessLevel
func (r *RoleLevel) LevelType() LevelType { return LevelRole }

// LevelID implements AccessLevel
func (r *RoleLevel) LevelID() string { return r.Slug }

// HasSiblings reports whether any sibling roles are attached
func (r *RoleLevel) HasSiblings() bool { return len(r.siblings) > 0 }

// Siblings returns the attached sibling roles in attachment order
func (r *RoleLevel) Siblings() []*RoleLevel { return r.siblings }

// AddSibling attaches a sibling role. A role cannot be its own sibling.
func (r *RoleLevel) AddSibling(sibling *RoleLevel) error {
	if sibling == nil {
		return fmt.Errorf("sibling role must not be nil")
	}
	if sibling == r || sibling.Slug == r.Slug {
		return fmt.Errorf("role %s cannot be its own sibling", r.Slug)
	}
	r.siblings = append(r.siblings, sibling)
	return nil
}

// UserLevel is an authenticated user. The first entry in Roles is the
// primary role and determines the user's parent in the hierarchy; the
// remaining entries become siblings of that parent under multi-role
// support.
type UserLevel struct {
	// UserID is the unique numeric user identifier
	UserID int64
	// Login is the user's login name
	Login string
	// Email is the user's email address
	Email string
	// DisplayName is the user's display name
	DisplayName string
	// Roles holds the assigned role slugs, primary first
	Roles []string
	// Capabilities maps capability name to granted state
	Capabilities map[string]bool
	// Attributes holds additional host-supplied user fields
	Attributes map[string]interface{}
}

// LevelType implements AccessLevel
func (u *UserLevel) LevelType() LevelType { return LevelUser }

// LevelID implements AccessLevel
func (u *UserLevel) LevelID() string { return strconv.FormatInt(u.UserID, 10) }

// PrimaryRole returns the user's primary role slug, or "" when the user
// has no roles
func (u *UserLevel) PrimaryRole() string {
	if len(u.Roles) == 0 {
		return ""
	}
	return u.Roles[0]
}

// SecondaryRoles returns the user's non-primary role slugs
func (u *UserLevel) SecondaryRoles() []string {
	if len(u.Roles) < 2 {
		return nil
	}
	return u.Roles[1:]
}

// Validate checks that the user record is well formed
func (u *UserLevel) Validate() error {
	if u.UserID <= 0 {
		return fmt.Errorf("user ID must be positive, got %d", u.UserID)
	}
	return nil
}

// LevelKey returns a stable string key for an access level, used for
// caching and logging. Singleton levels render as their type, others as
// "type:id".
func LevelKey(level AccessLevel) string {
	if level == nil {
		return ""
	}
	id := level.LevelID()
	if id == "" {
		return string(level.LevelType())
	}
	return string(level.LevelType()) + ":" + id
}
