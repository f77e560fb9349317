package resource

import (
	"strings"

	"github.com/hokkyo/monban/internal/entities"
)

// Toolbar governs admin toolbar items for an access level. Keys are
// lower-cased on load. An item with no direct entry falls back to its
// parent menu entry, recursively through the supplied menu tree.
type Toolbar struct {
	base
	parents map[string]string // item ID -> parent item ID
}

func newToolbarResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	t := &Toolbar{}
	t.base = base{registry: registry, rtype: entities.ResourceToolbar, id: resourceID, level: level}
	t.base.normalize = lowercaseKeys
	return t
}

// SetMenuTree supplies the item-to-parent mapping of the host's toolbar,
// used by the parent fallback. Keys are case-normalized.
func (t *Toolbar) SetMenuTree(parents map[string]string) {
	t.parents = make(map[string]string, len(parents))
	for child, parent := range parents {
		t.parents[strings.ToLower(child)] = strings.ToLower(parent)
	}
}

// IsHidden reports whether the toolbar item is hidden, consulting parent
// menu entries when the item itself is not governed
func (t *Toolbar) IsHidden(itemID string) bool {
	seen := make(map[string]bool)
	for current := strings.ToLower(itemID); current != ""; current = t.parents[current] {
		if seen[current] {
			break
		}
		seen[current] = true
		if perm, ok := t.permission(current); ok {
			return perm.Effect == entities.EffectDeny
		}
	}
	return false
}
