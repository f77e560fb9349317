// Package resolver implements the access level hierarchy: parent rules,
// sibling merging and the inheritance walk that computes a resource's
// effective permissions.
package resolver

import (
	"context"
	"fmt"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
	"github.com/hokkyo/monban/internal/services/resource"
)

// DefaultMaxDepth bounds the inheritance walk. The built-in hierarchy is
// three levels deep at most; the guard exists to stop pathological
// expansion if custom levels ever introduce recursive structures.
const DefaultMaxDepth = 100

// Logger is the minimal logging facility resolution warnings surface through
type Logger interface {
	Printf(format string, v ...interface{})
}

// Config carries the resolver's tuning knobs
type Config struct {
	MaxDepth  int  // Recursion guard limit (0 = DefaultMaxDepth)
	MultiRole bool // Enable sibling roles for multi-role users
}

// Resolver walks the access level hierarchy and computes effective
// permission sets
type Resolver struct {
	registry  *resource.Registry
	directory repositories.SubjectDirectory
	maxDepth  int
	multiRole bool
	logger    Logger
}

// NewResolver creates a resolver
func NewResolver(registry *resource.Registry, directory repositories.SubjectDirectory, cfg Config, logger Logger) *Resolver {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{
		registry:  registry,
		directory: directory,
		maxDepth:  maxDepth,
		multiRole: cfg.MultiRole,
		logger:    logger,
	}
}

// MultiRole reports whether sibling-role support is enabled
func (r *Resolver) MultiRole() bool { return r.multiRole }

// GetParent returns the parent access level, or nil for the root.
// The rules are deterministic: User inherits from its primary Role (or
// Default when the role is missing), Role and Visitor inherit from
// Default, Default has no parent.
func (r *Resolver) GetParent(ctx context.Context, level entities.AccessLevel) (entities.AccessLevel, error) {
	switch l := level.(type) {
	case *entities.DefaultLevel:
		return nil, nil
	case *entities.RoleLevel, *entities.VisitorLevel:
		return &entities.DefaultLevel{}, nil
	case *entities.UserLevel:
		return r.userParent(ctx, l)
	default:
		return nil, fmt.Errorf("unknown access level type %T", level)
	}
}

// userParent builds the user's parent role, attaching the user's
// secondary roles as siblings under multi-role support
func (r *Resolver) userParent(ctx context.Context, user *entities.UserLevel) (entities.AccessLevel, error) {
	primary := user.PrimaryRole()
	if primary == "" {
		return &entities.DefaultLevel{}, nil
	}
	role, err := r.directory.GetRole(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("failed to look up role %s: %w", primary, err)
	}
	if role == nil {
		return &entities.DefaultLevel{}, nil
	}
	if r.multiRole && len(user.SecondaryRoles()) > 0 {
		// Work on a copy: the directory may hand out a shared record, and
		// siblings are specific to this user's resolution.
		role = &entities.RoleLevel{Slug: role.Slug, Name: role.Name, Capabilities: role.Capabilities}
		for _, slug := range user.SecondaryRoles() {
			sibling, err := r.directory.GetRole(ctx, slug)
			if err != nil {
				return nil, fmt.Errorf("failed to look up role %s: %w", slug, err)
			}
			if sibling == nil {
				r.logf("skipping unknown sibling role %s of user %s", slug, user.LevelID())
				continue
			}
			if err := role.AddSibling(sibling); err != nil {
				r.logf("skipping sibling role %s: %v", slug, err)
			}
		}
	}
	return role, nil
}

// Resolve loads the resource for the access level and computes its
// effective permissions by walking up the hierarchy. Results are cached
// in the resolution context per (level, type, ID) tuple.
//
// With skipInheritance the resource's own working set becomes its
// effective set and the result is not cached.
func (r *Resolver) Resolve(
	ctx context.Context,
	rctx *Context,
	level entities.AccessLevel,
	rtype entities.ResourceType,
	resourceID string,
	skipInheritance bool,
) (resource.Resource, error) {
	if !skipInheritance {
		if cached, ok := rctx.lookup(level, rtype, resourceID); ok {
			return cached, nil
		}
	}
	return r.resolve(ctx, rctx, level, rtype, resourceID, skipInheritance, 0)
}

func (r *Resolver) resolve(
	ctx context.Context,
	rctx *Context,
	level entities.AccessLevel,
	rtype entities.ResourceType,
	resourceID string,
	skipInheritance bool,
	depth int,
) (resource.Resource, error) {
	if !skipInheritance {
		if cached, ok := rctx.lookup(level, rtype, resourceID); ok {
			return cached, nil
		}
	}
	if depth > r.maxDepth {
		// Surface a warning and stop expanding rather than failing the
		// whole resolution for one pathological chain.
		r.logf("resolution depth limit %d exceeded at %s/%s", r.maxDepth, entities.LevelKey(level), rtype)
		return nil, nil
	}

	own, err := r.registry.New(ctx, level, rtype, resourceID, rctx.Runtime())
	if err != nil {
		return nil, err
	}
	if own == nil {
		// No handler registered for the type: "no resource".
		return nil, nil
	}

	if skipInheritance {
		own.SetEffectivePermissions(entities.CopySettings(own.Permissions()))
		return own, nil
	}

	parent, err := r.GetParent(ctx, level)
	if err != nil {
		return nil, err
	}

	effective := entities.CopySettings(own.Permissions())
	if parent != nil {
		parentRes, err := r.resolve(ctx, rctx, parent, rtype, resourceID, false, depth+1)
		if err != nil {
			return nil, err
		}
		if parentRes != nil {
			parentSettings := entities.CopySettings(parentRes.EffectivePermissions())
			if role, ok := parent.(*entities.RoleLevel); ok && r.multiRole && role.HasSiblings() {
				parentSettings, err = r.mergeSiblings(ctx, rctx, role, rtype, resourceID, parentRes, parentSettings, depth)
				if err != nil {
					return nil, err
				}
			}
			effective = entities.MergeSettings(parentSettings, own.Permissions())
		}
	}

	own.SetEffectivePermissions(effective)
	rctx.store(level, rtype, resourceID, own)
	return own, nil
}

// mergeSiblings folds each sibling role's resolved permissions into the
// accumulated parent set: sibling versus accumulated, never sibling
// versus the child's own settings
func (r *Resolver) mergeSiblings(
	ctx context.Context,
	rctx *Context,
	parent *entities.RoleLevel,
	rtype entities.ResourceType,
	resourceID string,
	parentRes resource.Resource,
	accumulated map[string]interface{},
	depth int,
) (map[string]interface{}, error) {
	for _, sibling := range parent.Siblings() {
		siblingRes, err := r.resolve(ctx, rctx, sibling, rtype, resourceID, false, depth+1)
		if err != nil {
			return nil, err
		}
		if siblingRes == nil {
			continue
		}
		accumulated = parentRes.MergeSettings(siblingRes.EffectivePermissions(), accumulated)
	}
	return accumulated, nil
}

func (r *Resolver) logf(format string, v ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, v...)
	}
}
