package entities

import (
	"fmt"
	"strings"
)

// ResourceType identifies one governed object type
type ResourceType string

const (
	ResourcePost             ResourceType = "post"
	ResourceURL              ResourceType = "url"
	ResourceRoute            ResourceType = "route"
	ResourceMetabox          ResourceType = "metabox"
	ResourceToolbar          ResourceType = "toolbar"
	ResourceHook             ResourceType = "hook"
	ResourceWidget           ResourceType = "widget"
	ResourceIdentity         ResourceType = "identity"
	ResourceLoginRedirect    ResourceType = "login_redirect"
	ResourceLogoutRedirect   ResourceType = "logout_redirect"
	ResourceNotFoundRedirect ResourceType = "not_found_redirect"
	ResourceAccessDenied     ResourceType = "access_denied_redirect"
)

// ResourceRef is a parsed policy resource reference
// Examples: "Post:post:123", "Url:/blog/*", "Hook:the_content:10", "Route:GET:/posts"
type ResourceRef struct {
	Type ResourceType // Normalized resource type
	ID   string       // Remainder of the reference ("post:123", "/blog/*", ...)
}

// refTypeNames maps the reference prefixes used inside policy documents to
// resource types. Matching is case-insensitive.
var refTypeNames = map[string]ResourceType{
	"post":     ResourcePost,
	"url":      ResourceURL,
	"route":    ResourceRoute,
	"metabox":  ResourceMetabox,
	"toolbar":  ResourceToolbar,
	"hook":     ResourceHook,
	"widget":   ResourceWidget,
	"identity": ResourceIdentity,
}

// ParseResourceRef splits a policy resource reference into type and ID
func ParseResourceRef(raw string) (*ResourceRef, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, fmt.Errorf("malformed resource reference %q", raw)
	}
	rtype, ok := refTypeNames[strings.ToLower(parts[0])]
	if !ok {
		return nil, fmt.Errorf("unknown resource type %q in reference %q", parts[0], raw)
	}
	return &ResourceRef{Type: rtype, ID: parts[1]}, nil
}

// String renders the reference back into its policy form
func (r *ResourceRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Matches reports whether the reference covers the given type and ID.
// The ID comparison supports the "*" wildcard per colon-separated segment
// and a trailing "*" that covers any remainder.
func (r *ResourceRef) Matches(rtype ResourceType, id string) bool {
	if r.Type != rtype {
		return false
	}
	return WildcardMatch(r.ID, id)
}

// WildcardMatch compares a pattern with "*" segment wildcards against a
// value, both split on ":". A trailing "*" matches all remaining segments.
func WildcardMatch(pattern, value string) bool {
	if pattern == value {
		return true
	}
	pparts := strings.Split(pattern, ":")
	vparts := strings.Split(value, ":")
	for i, p := range pparts {
		if p == "*" && i == len(pparts)-1 {
			return true
		}
		if i >= len(vparts) {
			return false
		}
		if p != "*" && !strings.EqualFold(p, vparts[i]) {
			return false
		}
	}
	return len(pparts) == len(vparts)
}
