package resource

import (
	"github.com/hokkyo/monban/internal/entities"
)

// RedirectConfig is the singleton resource backing the login, logout,
// 404 and access-denied redirect types. Settings hold either one flat
// redirect payload or one payload per area.
type RedirectConfig struct {
	base
}

// redirectFactoryFor binds the shared redirect implementation to one of
// the redirect resource types
func redirectFactoryFor(rtype entities.ResourceType) Factory {
	return func(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
		r := &RedirectConfig{}
		r.base = base{registry: registry, rtype: rtype, id: resourceID, level: level}
		return r
	}
}

// GetRedirect returns the redirect configured for an area, falling back
// to the flat (area-less) payload. ok=false means this level configures
// no redirect, and the host applies its default behavior.
func (r *RedirectConfig) GetRedirect(area entities.Area) (*entities.Redirect, bool) {
	settings := r.settings()
	if raw, ok := settings[string(area)]; ok {
		return r.parsePayload(raw)
	}
	if _, hasType := settings["type"]; hasType {
		var flat interface{} = settings
		return r.parsePayload(flat)
	}
	return nil, false
}

func (r *RedirectConfig) parsePayload(raw interface{}) (*entities.Redirect, bool) {
	redirect, err := entities.RedirectFromMap(raw)
	if err != nil {
		r.registry.logf("malformed %s payload for %s: %v", r.rtype, entities.LevelKey(r.level), err)
		return nil, false
	}
	return redirect, true
}
