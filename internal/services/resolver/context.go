package resolver

import (
	"strings"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/services/marker"
	"github.com/hokkyo/monban/internal/services/resource"
)

// Context is the per-request resolution context. It owns the cache of
// resolved resources so one request never resolves the same chain twice,
// and it is discarded at end of request. It replaces any process-wide
// static cache: create one per inbound request.
type Context struct {
	runtime *marker.RuntimeContext
	cache   map[string]resource.Resource
}

// NewContext creates a resolution context for one request. The runtime
// context may be nil when no request data backs marker resolution.
func NewContext(rc *marker.RuntimeContext) *Context {
	if rc == nil {
		rc = &marker.RuntimeContext{}
	}
	return &Context{
		runtime: rc,
		cache:   make(map[string]resource.Resource),
	}
}

// Runtime returns the marker runtime context of this request
func (c *Context) Runtime() *marker.RuntimeContext { return c.runtime }

func cacheKey(level entities.AccessLevel, rtype entities.ResourceType, resourceID string) string {
	return entities.LevelKey(level) + "|" + string(rtype) + "|" + resourceID
}

func (c *Context) lookup(level entities.AccessLevel, rtype entities.ResourceType, resourceID string) (resource.Resource, bool) {
	res, ok := c.cache[cacheKey(level, rtype, resourceID)]
	return res, ok
}

func (c *Context) store(level entities.AccessLevel, rtype entities.ResourceType, resourceID string, res resource.Resource) {
	c.cache[cacheKey(level, rtype, resourceID)] = res
}

// Invalidate drops the cached resolution for one tuple. Called on
// explicit writes and reload requests.
func (c *Context) Invalidate(level entities.AccessLevel, rtype entities.ResourceType, resourceID string) {
	delete(c.cache, cacheKey(level, rtype, resourceID))
}

// InvalidateResource drops the cached resolution for a resource at every
// access level. A write at one level changes the effective set of every
// level below it, so the whole column goes.
func (c *Context) InvalidateResource(rtype entities.ResourceType, resourceID string) {
	suffix := "|" + string(rtype) + "|" + resourceID
	for key := range c.cache {
		if strings.HasSuffix(key, suffix) {
			delete(c.cache, key)
		}
	}
}

// Reset drops every cached resolution
func (c *Context) Reset() {
	c.cache = make(map[string]resource.Resource)
}
