// Package resource implements the typed resource classes of the engine
// and the registry that constructs them per access level.
package resource

import (
	"context"
	"fmt"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/services/marker"
)

// Resource is one governed object type bound to one access level.
// Initialization loads the level's explicit permissions and folds in
// policy-derived permissions through the registered post-processors; no
// inheritance is applied at this stage.
type Resource interface {
	// Type returns the resource type constant
	Type() entities.ResourceType
	// ID returns the internal resource ID ("" for singleton resources)
	ID() string
	// Level returns the access level this instance is bound to
	Level() entities.AccessLevel

	// Initialize loads explicit permissions and runs post-processors
	Initialize(ctx context.Context, rc *marker.RuntimeContext) error

	// ExplicitPermissions returns what was stored directly for this level
	ExplicitPermissions() map[string]interface{}
	// Permissions returns the working permission set for this level only
	// (explicit plus policy-derived, no inheritance)
	Permissions() map[string]interface{}
	// EffectivePermissions returns the fully inherited permission set.
	// Nil until the resolver has computed it.
	EffectivePermissions() map[string]interface{}
	// SetEffectivePermissions stores the resolver's merged result
	SetEffectivePermissions(settings map[string]interface{})

	// SetPermissions persists a new explicit permission map for this level
	SetPermissions(ctx context.Context, settings map[string]interface{}) error

	// MergeSettings combines two permission maps that sit at the same
	// hierarchical level, using this resource type's merge preference
	MergeSettings(incoming, current map[string]interface{}) map[string]interface{}
}

// base carries the state and behavior shared by every resource type
type base struct {
	registry *Registry
	rtype    entities.ResourceType
	id       string
	level    entities.AccessLevel

	explicit  map[string]interface{}
	working   map[string]interface{}
	effective map[string]interface{}

	// normalize rewrites the raw stored map into the type's canonical
	// shape; set by the concrete type when needed
	normalize func(raw map[string]interface{}) map[string]interface{}
}

func (b *base) Type() entities.ResourceType { return b.rtype }
func (b *base) ID() string                  { return b.id }
func (b *base) Level() entities.AccessLevel { return b.level }

// Initialize implements the load half of the Resource contract
func (b *base) Initialize(ctx context.Context, rc *marker.RuntimeContext) error {
	raw, err := b.registry.store.Read(ctx, b.level.LevelType(), b.level.LevelID(), b.rtype, b.id)
	if err != nil {
		return fmt.Errorf("failed to read %s settings for %s: %w", b.rtype, entities.LevelKey(b.level), err)
	}
	if raw == nil {
		raw = make(map[string]interface{})
	}
	if b.normalize != nil {
		raw = b.normalize(raw)
	}
	b.explicit = raw
	working := entities.CopySettings(raw)

	for _, processor := range b.registry.processors[b.rtype] {
		working, err = processor.Process(ctx, b.level, b.rtype, b.id, working, rc)
		if err != nil {
			// A failing post-processor skips its contribution only.
			b.registry.logf("post-processor for %s/%s failed: %v", b.rtype, entities.LevelKey(b.level), err)
		}
	}
	b.working = working
	return nil
}

// ExplicitPermissions implements Resource
func (b *base) ExplicitPermissions() map[string]interface{} { return b.explicit }

// Permissions implements Resource
func (b *base) Permissions() map[string]interface{} { return b.working }

// EffectivePermissions implements Resource
func (b *base) EffectivePermissions() map[string]interface{} { return b.effective }

// SetEffectivePermissions implements Resource
func (b *base) SetEffectivePermissions(settings map[string]interface{}) {
	b.effective = settings
}

// SetPermissions implements Resource. The write replaces the stored blob;
// on success the explicit and working sets reset to the new value and any
// computed effective set is dropped.
func (b *base) SetPermissions(ctx context.Context, settings map[string]interface{}) error {
	if b.normalize != nil {
		settings = b.normalize(entities.CopySettings(settings))
	}
	err := b.registry.store.Write(ctx, b.level.LevelType(), b.level.LevelID(), b.rtype, b.id, settings)
	if err != nil {
		return fmt.Errorf("failed to write %s settings for %s: %w", b.rtype, entities.LevelKey(b.level), err)
	}
	b.explicit = settings
	b.working = entities.CopySettings(settings)
	b.effective = nil
	b.registry.notifyWrite(b.level, b.rtype, b.id)
	return nil
}

// MergeSettings implements Resource using the registry's merge preference
// for this type
func (b *base) MergeSettings(incoming, current map[string]interface{}) map[string]interface{} {
	return entities.MergeConflicting(incoming, current, b.registry.Preference(b.rtype))
}

// settings returns the map query methods should read: the effective set
// when resolved, the working set otherwise
func (b *base) settings() map[string]interface{} {
	if b.effective != nil {
		return b.effective
	}
	return b.working
}

// permission looks up and parses one entry of the settings map.
// Returns (nil, false) when the key is not governed.
func (b *base) permission(key string) (*entities.Permission, bool) {
	raw, ok := b.settings()[key]
	if !ok {
		return nil, false
	}
	perm, err := entities.ParsePermission(raw)
	if err != nil {
		b.registry.logf("malformed %s permission %q for %s: %v", b.rtype, key, entities.LevelKey(b.level), err)
		return nil, false
	}
	return perm, true
}

// denied reports whether the entry under key exists, applies to the area
// and carries a deny effect
func (b *base) denied(key string, area entities.Area) bool {
	perm, ok := b.permission(key)
	if !ok {
		return false
	}
	if area != "" && !perm.AppliesTo(area) {
		return false
	}
	return perm.Effect == entities.EffectDeny
}
