package resource

import (
	"strings"

	"github.com/hokkyo/monban/internal/entities"
)

// Metabox governs editor metaboxes for an access level. Entries are keyed
// by slug or "screen|slug"; keys are lower-cased on load.
type Metabox struct {
	base
}

func newMetaboxResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	m := &Metabox{}
	m.base = base{registry: registry, rtype: entities.ResourceMetabox, id: resourceID, level: level}
	m.base.normalize = lowercaseKeys
	return m
}

// IsHidden reports whether the metabox is hidden. When a screen is given,
// a screen-specific entry wins over the generic slug entry.
func (m *Metabox) IsHidden(slug string, screen ...string) bool {
	slug = strings.ToLower(slug)
	if len(screen) > 0 && screen[0] != "" {
		key := strings.ToLower(screen[0]) + "|" + slug
		if perm, ok := m.permission(key); ok {
			return perm.Effect == entities.EffectDeny
		}
	}
	if perm, ok := m.permission(slug); ok {
		return perm.Effect == entities.EffectDeny
	}
	return false
}
