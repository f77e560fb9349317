package resource

import (
	"context"
	"fmt"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
	"github.com/hokkyo/monban/internal/services/marker"
)

// Logger is the minimal logging facility the registry reports skipped
// malformed data through
type Logger interface {
	Printf(format string, v ...interface{})
}

// PostProcessor is an explicit extension point invoked after a resource's
// explicit settings load. The policy evaluator's output is folded in
// through one of these; hosts may register their own.
type PostProcessor interface {
	Process(
		ctx context.Context,
		level entities.AccessLevel,
		rtype entities.ResourceType,
		resourceID string,
		settings map[string]interface{},
		rc *marker.RuntimeContext,
	) (map[string]interface{}, error)
}

// Factory constructs an uninitialized resource instance for a level
type Factory func(registry *Registry, level entities.AccessLevel, resourceID string) Resource

// WriteListener is notified after a resource persists new explicit
// permissions, so caches keyed on settings state can invalidate
type WriteListener func(level entities.AccessLevel, rtype entities.ResourceType, resourceID string)

// Registry owns the resource type table, the per-type post-processor
// chains and the per-type merge preferences.
type Registry struct {
	store   repositories.SettingsStore
	content repositories.ContentLookup
	logger  Logger

	factories   map[entities.ResourceType]Factory
	processors  map[entities.ResourceType][]PostProcessor
	preferences map[entities.ResourceType]entities.MergePreference
	defaultPref entities.MergePreference
	listeners   []WriteListener
}

// NewRegistry creates a registry with all built-in resource types
// registered and deny-wins merge preference
func NewRegistry(store repositories.SettingsStore, content repositories.ContentLookup, logger Logger) *Registry {
	r := &Registry{
		store:       store,
		content:     content,
		logger:      logger,
		factories:   make(map[entities.ResourceType]Factory),
		processors:  make(map[entities.ResourceType][]PostProcessor),
		preferences: make(map[entities.ResourceType]entities.MergePreference),
		defaultPref: entities.PreferDeny,
	}
	r.factories[entities.ResourcePost] = newPostResource
	r.factories[entities.ResourceURL] = newURLResource
	r.factories[entities.ResourceRoute] = newRouteResource
	r.factories[entities.ResourceMetabox] = newMetaboxResource
	r.factories[entities.ResourceToolbar] = newToolbarResource
	r.factories[entities.ResourceHook] = newHookResource
	r.factories[entities.ResourceWidget] = newWidgetResource
	r.factories[entities.ResourceIdentity] = newIdentityResource
	for _, rtype := range []entities.ResourceType{
		entities.ResourceLoginRedirect,
		entities.ResourceLogoutRedirect,
		entities.ResourceNotFoundRedirect,
		entities.ResourceAccessDenied,
	} {
		r.factories[rtype] = redirectFactoryFor(rtype)
	}
	return r
}

// RegisterType registers a custom resource type factory
func (r *Registry) RegisterType(rtype entities.ResourceType, factory Factory) error {
	if _, exists := r.factories[rtype]; exists {
		return fmt.Errorf("resource type %s is already registered", rtype)
	}
	r.factories[rtype] = factory
	return nil
}

// RegisterPostProcessor appends a post-processor to the given resource
// types (all registered types when none are named). Processors run in
// registration order.
func (r *Registry) RegisterPostProcessor(processor PostProcessor, types ...entities.ResourceType) {
	if len(types) == 0 {
		for rtype := range r.factories {
			r.processors[rtype] = append(r.processors[rtype], processor)
		}
		return
	}
	for _, rtype := range types {
		r.processors[rtype] = append(r.processors[rtype], processor)
	}
}

// OnWrite registers a listener notified after explicit permission writes
func (r *Registry) OnWrite(listener WriteListener) {
	r.listeners = append(r.listeners, listener)
}

// SetDefaultPreference sets the module-wide merge preference
func (r *Registry) SetDefaultPreference(pref entities.MergePreference) {
	r.defaultPref = pref
}

// SetTypePreference overrides the merge preference for one resource type
func (r *Registry) SetTypePreference(rtype entities.ResourceType, pref entities.MergePreference) {
	r.preferences[rtype] = pref
}

// Preference returns the merge preference effective for a resource type
func (r *Registry) Preference(rtype entities.ResourceType) entities.MergePreference {
	if pref, ok := r.preferences[rtype]; ok {
		return pref
	}
	return r.defaultPref
}

// New constructs and initializes a resource for the access level.
// An unregistered type returns (nil, nil): "no resource", which callers
// must handle explicitly.
func (r *Registry) New(
	ctx context.Context,
	level entities.AccessLevel,
	rtype entities.ResourceType,
	resourceID string,
	rc *marker.RuntimeContext,
) (Resource, error) {
	factory, ok := r.factories[rtype]
	if !ok {
		return nil, nil
	}
	res := factory(r, level, resourceID)
	if err := res.Initialize(ctx, rc); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Registry) notifyWrite(level entities.AccessLevel, rtype entities.ResourceType, resourceID string) {
	for _, listener := range r.listeners {
		listener(level, rtype, resourceID)
	}
}

func (r *Registry) logf(format string, v ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, v...)
	}
}
