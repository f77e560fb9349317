package repositories

import (
	"context"

	"github.com/hokkyo/monban/internal/entities"
)

// SubjectDirectory resolves role and user records from the host platform.
// Records come back as ready-to-use access level nodes.
type SubjectDirectory interface {
	// GetRole returns the role record for a slug, or (nil, nil) when the
	// role does not exist
	GetRole(ctx context.Context, slug string) (*entities.RoleLevel, error)

	// GetUser returns the user record for an ID, or (nil, nil) when the
	// user does not exist
	GetUser(ctx context.Context, id int64) (*entities.UserLevel, error)

	// GetUserOption returns a stored per-user option value, or (nil, nil)
	// when unset. Used by the USER_OPTION marker namespace.
	GetUserOption(ctx context.Context, userID int64, name string) (interface{}, error)

	// GetUserMeta returns a stored per-user meta value, or (nil, nil) when
	// unset. Used by the USER_META marker namespace.
	GetUserMeta(ctx context.Context, userID int64, name string) (interface{}, error)
}
