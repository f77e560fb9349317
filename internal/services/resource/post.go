package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/services/marker"
)

// postProperties are the structured property keys of the Post resource.
// Bool shorthands normalize to {"enabled": v} on load so the Is accessor
// has one shape to read.
var postProperties = map[string]bool{
	"hidden":     true,
	"restricted": true,
	"teaser":     true,
	"redirected": true,
	"protected":  true,
	"ceased":     true,
}

// Post governs one content item for an access level
type Post struct {
	base
	content *entities.ContentItem
}

func newPostResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	p := &Post{}
	p.base = base{registry: registry, rtype: entities.ResourcePost, id: resourceID, level: level}
	p.base.normalize = p.normalizeSettings
	return p
}

// Initialize loads the content attributes alongside the permission map
func (p *Post) Initialize(ctx context.Context, rc *marker.RuntimeContext) error {
	if p.registry.content != nil {
		id, contentType, err := entities.ParseContentKey(p.id)
		if err != nil {
			return fmt.Errorf("invalid post resource ID: %w", err)
		}
		item, err := p.registry.content.GetContent(ctx, id, contentType)
		if err != nil {
			return fmt.Errorf("failed to look up content %s: %w", p.id, err)
		}
		p.content = item
	}
	return p.base.Initialize(ctx, rc)
}

// Content returns the content item's attributes (nil when unknown)
func (p *Post) Content() *entities.ContentItem { return p.content }

func (p *Post) normalizeSettings(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		key = strings.ToLower(key)
		if postProperties[key] {
			switch v := value.(type) {
			case bool:
				out[key] = map[string]interface{}{"enabled": v}
			case map[string]interface{}:
				out[key] = v
			default:
				p.registry.logf("malformed post property %q for %s: %T", key, entities.LevelKey(p.level), value)
			}
			continue
		}
		switch value.(type) {
		case bool, map[string]interface{}:
			out[key] = value
		default:
			p.registry.logf("malformed post permission %q for %s: %T", key, entities.LevelKey(p.level), value)
		}
	}
	return out
}

// Is reports whether the named property is asserted. Boolean properties
// return their raw value; structured properties return their enabled
// sub-field. Unknown or unset properties are false.
func (p *Post) Is(property string) bool {
	raw, ok := p.settings()[strings.ToLower(property)]
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case map[string]interface{}:
		enabled, _ := v["enabled"].(bool)
		return enabled
	default:
		return false
	}
}

// Property returns the structured payload of a property ("teaser",
// "redirected", ...) when it is asserted
func (p *Post) Property(name string) (map[string]interface{}, bool) {
	raw, ok := p.settings()[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, false
	}
	if enabled, ok := m["enabled"].(bool); ok && !enabled {
		return nil, false
	}
	return m, true
}

// IsDenied reports whether an action ("list", "read", "edit", ...) is
// explicitly denied in the given area. False covers both allow and
// ungoverned; use Permission to distinguish them.
func (p *Post) IsDenied(action string, area entities.Area) bool {
	return p.denied(strings.ToLower(action), area)
}

// Permission returns the normalized entry for an action. ok=false means
// the action is not governed at this level.
func (p *Post) Permission(action string) (*entities.Permission, bool) {
	return p.permission(strings.ToLower(action))
}

// IsRestricted reports whether reading the content is restricted, either
// through the "restricted" property or a deny on the "read" action
func (p *Post) IsRestricted() bool {
	if p.Is("restricted") {
		return true
	}
	return p.denied("read", "")
}

// IsHiddenOn reports whether the content is hidden from listings in an
// area. The "hidden" property may carry an "on" list narrowing its scope.
func (p *Post) IsHiddenOn(area entities.Area) bool {
	payload, ok := p.Property("hidden")
	if !ok {
		return p.denied("list", area)
	}
	if areas, ok := payload["on"]; ok {
		parsed, err := entities.ParseAreaList(areas)
		if err != nil {
			p.registry.logf("malformed hidden.on for %s: %v", entities.LevelKey(p.level), err)
			return false
		}
		for _, a := range parsed {
			if a == area {
				return true
			}
		}
		return false
	}
	return true
}

// GetRedirect returns the redirect configured through the "redirected"
// property or a deny entry carrying a redirect payload
func (p *Post) GetRedirect() (*entities.Redirect, bool) {
	if payload, ok := p.Property("redirected"); ok {
		redirect, err := entities.RedirectFromMap(payload)
		if err != nil {
			p.registry.logf("malformed post redirect for %s: %v", entities.LevelKey(p.level), err)
			return nil, false
		}
		return redirect, true
	}
	if perm, ok := p.permission("read"); ok && perm.Redirect != nil {
		return perm.Redirect, true
	}
	return nil, false
}

// GetTeaser returns the teaser message shown instead of restricted content
func (p *Post) GetTeaser() (string, bool) {
	payload, ok := p.Property("teaser")
	if !ok {
		return "", false
	}
	message, _ := payload["message"].(string)
	return message, message != ""
}

// GetPassword returns the password protecting the content
func (p *Post) GetPassword() (string, bool) {
	payload, ok := p.Property("protected")
	if !ok {
		return "", false
	}
	password, _ := payload["password"].(string)
	return password, password != ""
}

// CeaseAfter returns the expiration timestamp of the "ceased" property
func (p *Post) CeaseAfter() (int64, bool) {
	payload, ok := p.Property("ceased")
	if !ok {
		return 0, false
	}
	switch v := payload["after"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
