package entities

import (
	"fmt"
)

// Effect is a binary permission outcome
type Effect string

const (
	// EffectAllow grants the governed action
	EffectAllow Effect = "allow"
	// EffectDeny restricts the governed action
	EffectDeny Effect = "deny"
)

// Area scopes a permission to a part of the host application
type Area string

const (
	// AreaFrontend is the public-facing site
	AreaFrontend Area = "frontend"
	// AreaBackend is the administration area
	AreaBackend Area = "backend"
	// AreaAPI is the RESTful API surface
	AreaAPI Area = "api"
)

// Redirect describes where a restricted subject is sent instead of the resource
type Redirect struct {
	Type       string // "default", "login", "page", "url", "message", "callback"
	Target     string // Page slug, URL, message text or callback name depending on Type
	StatusCode int    // Optional HTTP status code (0 = host default)
}

// Permission is one governed action's entry after normalization
// Absence of an entry means "not governed" and is distinct from either effect
type Permission struct {
	Effect   Effect    // allow or deny
	On       []Area    // Areas the entry applies to (empty = all areas)
	Redirect *Redirect // Optional redirect applied on deny
}

// AppliesTo returns whether the permission governs the given area
func (p *Permission) AppliesTo(area Area) bool {
	if len(p.On) == 0 {
		return true
	}
	for _, a := range p.On {
		if a == area {
			return true
		}
	}
	return false
}

// ParseEffect normalizes a raw effect string
func ParseEffect(raw string) (Effect, error) {
	switch Effect(raw) {
	case EffectAllow, EffectDeny:
		return Effect(raw), nil
	default:
		return "", fmt.Errorf("unknown effect %q", raw)
	}
}

// ParsePermission normalizes one stored permission value into a Permission.
// Accepted shapes:
//   - bool: true = allow, false = deny
//   - map with "effect" and optional "on" / "redirect"
//
// Any other shape is a data error the caller should log and skip.
func ParsePermission(raw interface{}) (*Permission, error) {
	switch v := raw.(type) {
	case bool:
		if v {
			return &Permission{Effect: EffectAllow}, nil
		}
		return &Permission{Effect: EffectDeny}, nil
	case map[string]interface{}:
		effectRaw, ok := v["effect"].(string)
		if !ok {
			return nil, fmt.Errorf("permission object has no effect field")
		}
		effect, err := ParseEffect(effectRaw)
		if err != nil {
			return nil, err
		}
		perm := &Permission{Effect: effect}
		if onRaw, ok := v["on"]; ok {
			areas, err := parseAreas(onRaw)
			if err != nil {
				return nil, err
			}
			perm.On = areas
		}
		if redirectRaw, ok := v["redirect"]; ok {
			redirect, err := parseRedirect(redirectRaw)
			if err != nil {
				return nil, err
			}
			perm.Redirect = redirect
		}
		return perm, nil
	default:
		return nil, fmt.Errorf("unsupported permission value of type %T", raw)
	}
}

// ParseAreaList normalizes a stored "on" value into areas
func ParseAreaList(raw interface{}) ([]Area, error) {
	return parseAreas(raw)
}

// RedirectFromMap normalizes a stored redirect payload
func RedirectFromMap(raw interface{}) (*Redirect, error) {
	return parseRedirect(raw)
}

func parseAreas(raw interface{}) ([]Area, error) {
	list, ok := raw.([]interface{})
	if !ok {
		if s, ok := raw.(string); ok {
			list = []interface{}{s}
		} else {
			return nil, fmt.Errorf("on field must be a string or an array of strings")
		}
	}
	areas := make([]Area, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("area must be a string, got %T", item)
		}
		switch Area(s) {
		case AreaFrontend, AreaBackend, AreaAPI:
			areas = append(areas, Area(s))
		default:
			return nil, fmt.Errorf("unknown area %q", s)
		}
	}
	return areas, nil
}

func parseRedirect(raw interface{}) (*Redirect, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("redirect must be an object, got %T", raw)
	}
	redirect := &Redirect{Type: "default"}
	if t, ok := m["type"].(string); ok {
		redirect.Type = t
	}
	// The target key varies with the redirect type in stored data.
	for _, key := range []string{"slug", "url", "callback", "message", "page"} {
		if v, ok := m[key]; ok {
			redirect.Target = fmt.Sprintf("%v", v)
			break
		}
	}
	if code, ok := m["status_code"]; ok {
		switch c := code.(type) {
		case float64:
			redirect.StatusCode = int(c)
		case int:
			redirect.StatusCode = c
		default:
			return nil, fmt.Errorf("status_code must be numeric, got %T", code)
		}
	}
	return redirect, nil
}
