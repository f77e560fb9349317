package resource

import (
	"strings"

	"github.com/hokkyo/monban/internal/entities"
)

// Identity governs what the access level may do to other users and roles
// (identity governance). Entries are keyed "scope|identifier" (e.g.
// "role|editor", "user|10", "role|*") with per-action permissions.
type Identity struct {
	base
}

func newIdentityResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	i := &Identity{}
	i.base = base{registry: registry, rtype: entities.ResourceIdentity, id: resourceID, level: level}
	i.base.normalize = lowercaseKeys
	return i
}

// IsDenied reports whether the action on the identified subject is
// denied. A "scope|*" wildcard entry applies when no specific entry
// governs the action.
func (i *Identity) IsDenied(scope, identifier, action string) bool {
	action = strings.ToLower(action)
	if verdict, governed := i.actionEffect(strings.ToLower(scope+"|"+identifier), action); governed {
		return verdict
	}
	if verdict, governed := i.actionEffect(strings.ToLower(scope)+"|*", action); governed {
		return verdict
	}
	return false
}

// actionEffect returns (denied, governed) for one compound key and action
func (i *Identity) actionEffect(key, action string) (bool, bool) {
	raw, ok := i.settings()[key]
	if !ok {
		return false, false
	}
	sub, ok := raw.(map[string]interface{})
	if !ok {
		i.registry.logf("malformed identity entry %q for %s: %T", key, entities.LevelKey(i.level), raw)
		return false, false
	}
	value, ok := sub[action]
	if !ok {
		return false, false
	}
	perm, err := entities.ParsePermission(value)
	if err != nil {
		i.registry.logf("malformed identity permission %q/%q for %s: %v", key, action, entities.LevelKey(i.level), err)
		return false, false
	}
	return perm.Effect == entities.EffectDeny, true
}
