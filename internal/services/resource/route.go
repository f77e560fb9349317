package resource

import (
	"strings"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/services/policy"
)

// Route governs RESTful API routes for an access level. Entries are keyed
// "method|path"; the method may be the "*" wildcard. Keys are lower-cased
// on load so differently-cased duplicates collapse to one entry.
type Route struct {
	base
}

func newRouteResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	r := &Route{}
	r.base = base{registry: registry, rtype: entities.ResourceRoute, id: resourceID, level: level}
	r.base.normalize = lowercaseKeys
	return r
}

// IsRestricted reports whether the method/path pair is denied. Exact
// method entries win over "*" entries; glob patterns in the path are
// honored for both.
func (r *Route) IsRestricted(method, path string) bool {
	method = strings.ToLower(method)
	path = strings.ToLower(normalizeURI(path))

	if perm, ok := r.permission(method + "|" + path); ok {
		return perm.Effect == entities.EffectDeny
	}
	if perm, ok := r.permission("*|" + path); ok {
		return perm.Effect == entities.EffectDeny
	}

	verdict := false
	for key := range r.settings() {
		keyMethod, keyPath, ok := splitRouteKey(key)
		if !ok {
			continue
		}
		if keyMethod != "*" && keyMethod != method {
			continue
		}
		re, err := policy.CompileGlob(keyPath)
		if err != nil || !re.MatchString(path) {
			continue
		}
		perm, ok := r.permission(key)
		if !ok {
			continue
		}
		if perm.Effect == entities.EffectDeny {
			return true
		}
		verdict = false
	}
	return verdict
}

func splitRouteKey(key string) (method, path string, ok bool) {
	i := strings.IndexByte(key, '|')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// lowercaseKeys is the normalize hook shared by the case-insensitive
// resource types
func lowercaseKeys(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		out[strings.ToLower(key)] = value
	}
	return out
}
