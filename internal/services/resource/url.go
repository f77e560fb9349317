package resource

import (
	"net/url"
	"sort"
	"strings"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/services/policy"
)

// URLRule is one evaluated rule of the Url resource
type URLRule struct {
	Pattern  string // Stored pattern, may contain "*" wildcards
	Effect   entities.Effect
	Redirect *entities.Redirect
}

// URL governs raw request paths for an access level. The resource is a
// singleton: all rules live in one permission map keyed by pattern.
type URL struct {
	base
}

func newURLResource(registry *Registry, level entities.AccessLevel, resourceID string) Resource {
	u := &URL{}
	u.base = base{registry: registry, rtype: entities.ResourceURL, id: resourceID, level: level}
	return u
}

// Rules returns the parsed rules ordered with every deny before every
// allow, preserving storage order within each class. This ordering is a
// hard requirement: a generic deny plus a specific allow must compose as
// "deny except this one case".
func (u *URL) Rules() []URLRule {
	settings := u.settings()
	patterns := make([]string, 0, len(settings))
	for pattern := range settings {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	rules := make([]URLRule, 0, len(patterns))
	for _, pattern := range patterns {
		perm, ok := u.permission(pattern)
		if !ok {
			continue
		}
		rules = append(rules, URLRule{Pattern: pattern, Effect: perm.Effect, Redirect: perm.Redirect})
	}
	sort.SliceStable(rules, func(i, j int) bool {
		denyI := rules[i].Effect == entities.EffectDeny
		denyJ := rules[j].Effect == entities.EffectDeny
		if denyI != denyJ {
			return denyI
		}
		// Within a class, less specific patterns first so FindMatch's
		// last-match-wins picks the most specific rule.
		return patternSpecificity(rules[i].Pattern) < patternSpecificity(rules[j].Pattern)
	})
	return rules
}

// patternSpecificity ranks patterns by their literal length: the more
// non-wildcard characters, the more specific the rule
func patternSpecificity(pattern string) int {
	return len(strings.ReplaceAll(pattern, "*", ""))
}

// FindMatch returns the rule governing a URI, or (nil, false) when the
// URI is not governed. Denies are checked first, so a later matching
// allow overrides a broader deny.
func (u *URL) FindMatch(uri string, params url.Values) (*URLRule, bool) {
	target := normalizeURI(uri)
	var match *URLRule
	for _, rule := range u.Rules() {
		rule := rule
		if matchURLPattern(rule.Pattern, target, params) {
			match = &rule
		}
	}
	return match, match != nil
}

// IsDenied reports whether access to the URI is denied for this level
func (u *URL) IsDenied(uri string, params url.Values) bool {
	rule, ok := u.FindMatch(uri, params)
	return ok && rule.Effect == entities.EffectDeny
}

// GetRedirect returns the redirect of the denying rule for a URI
func (u *URL) GetRedirect(uri string, params url.Values) (*entities.Redirect, bool) {
	rule, ok := u.FindMatch(uri, params)
	if !ok || rule.Effect != entities.EffectDeny || rule.Redirect == nil {
		return nil, false
	}
	return rule.Redirect, true
}

// matchURLPattern compares a stored pattern against a normalized URI.
// A pattern may carry its own query string; every pattern parameter must
// then be present with the same value in the request parameters.
func matchURLPattern(pattern, target string, params url.Values) bool {
	patternPath, patternQuery := pattern, ""
	if i := strings.IndexByte(pattern, '?'); i >= 0 {
		patternPath, patternQuery = pattern[:i], pattern[i+1:]
	}
	re, err := policy.CompileGlob(normalizeURI(patternPath))
	if err != nil {
		return false
	}
	if !re.MatchString(target) {
		return false
	}
	if patternQuery == "" {
		return true
	}
	wanted, err := url.ParseQuery(patternQuery)
	if err != nil {
		return false
	}
	for key, values := range wanted {
		if params.Get(key) != values[0] {
			return false
		}
	}
	return true
}

// normalizeURI strips the query string and any trailing slash so stored
// patterns and request paths compare in one canonical form
func normalizeURI(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	if len(uri) > 1 {
		uri = strings.TrimRight(uri, "/")
	}
	if uri == "" {
		uri = "/"
	}
	return uri
}
