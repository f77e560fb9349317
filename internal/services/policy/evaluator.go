package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories"
	"github.com/hokkyo/monban/internal/services/marker"
)

// Evaluator derives effective permission grants from the policy documents
// attached to an access level. Statements evaluate in declaration order
// per document and documents in attachment order; for a single
// resource/action pair the last applicable statement wins.
type Evaluator struct {
	source     repositories.PolicySource
	resolver   *marker.Resolver
	conditions *ConditionEvaluator
	logger     Logger
}

// NewEvaluator creates a policy evaluator
func NewEvaluator(source repositories.PolicySource, resolver *marker.Resolver, conditions *ConditionEvaluator, logger Logger) *Evaluator {
	return &Evaluator{
		source:     source,
		resolver:   resolver,
		conditions: conditions,
		logger:     logger,
	}
}

// Conditions exposes the condition evaluator for operator registration
func (e *Evaluator) Conditions() *ConditionEvaluator { return e.conditions }

// Apply folds policy-derived permissions for one resource into the given
// explicit settings map and returns the combined map. Malformed statements
// and unsatisfied conditions are skipped; an indeterminate condition never
// applies its statement.
func (e *Evaluator) Apply(
	ctx context.Context,
	level entities.AccessLevel,
	rtype entities.ResourceType,
	resourceID string,
	settings map[string]interface{},
	rc *marker.RuntimeContext,
) (map[string]interface{}, error) {
	policies, err := e.source.GetAttached(ctx, level)
	if err != nil {
		return settings, fmt.Errorf("failed to load policies for %s: %w", entities.LevelKey(level), err)
	}
	if settings == nil {
		settings = make(map[string]interface{})
	}
	if rc == nil {
		rc = &marker.RuntimeContext{}
	}

	for _, policy := range policies {
		scoped := *rc
		scoped.PolicyParams = policy.Params
		scoped.PolicyMeta = map[string]interface{}{
			"id":      policy.ID,
			"version": policy.Version,
		}
		for i, stmt := range policy.Statements {
			if err := e.applyStatement(ctx, stmt, rtype, resourceID, settings, &scoped); err != nil {
				e.logf("policy %s statement %d skipped: %v", policy.ID, i, err)
			}
		}
	}
	return settings, nil
}

func (e *Evaluator) applyStatement(
	ctx context.Context,
	stmt *entities.Statement,
	rtype entities.ResourceType,
	resourceID string,
	settings map[string]interface{},
	rc *marker.RuntimeContext,
) error {
	var matched []*entities.ResourceRef
	for _, raw := range stmt.Resources {
		refString, err := e.resolveRefMarkers(ctx, raw, rc)
		if err != nil {
			return err
		}
		if refString == "" {
			continue
		}
		ref, err := entities.ParseResourceRef(refString)
		if err != nil {
			return err
		}
		if !refMatches(ref, rtype, resourceID) {
			continue
		}
		matched = append(matched, ref)
	}
	if len(matched) == 0 {
		return nil
	}

	if e.conditions.Evaluate(ctx, stmt.Condition, rc) != VerdictTrue {
		return nil
	}

	entry := statementEntry(stmt)
	for _, ref := range matched {
		applyEntry(settings, rtype, ref, stmt, entry)
	}
	return nil
}

// resolveRefMarkers expands markers inside a resource reference string.
// A reference whose marker resolves to nothing is skipped, not an error.
func (e *Evaluator) resolveRefMarkers(ctx context.Context, raw string, rc *marker.RuntimeContext) (string, error) {
	if !strings.Contains(raw, "${") {
		return raw, nil
	}
	resolved, err := e.resolver.Resolve(ctx, raw, rc)
	if err != nil {
		return "", fmt.Errorf("failed to resolve resource reference %q: %w", raw, err)
	}
	if resolved == nil {
		return "", nil
	}
	s, ok := resolved.(string)
	if !ok {
		return "", fmt.Errorf("resource reference %q resolved to non-string %T", raw, resolved)
	}
	return s, nil
}

// refMatches reports whether a reference targets the resource being
// initialized. Keyed resources (Post) match on their compound ID; keyed-by-
// entry resources (Url, Route, ...) match on type alone and contribute an
// entry per reference.
func refMatches(ref *entities.ResourceRef, rtype entities.ResourceType, resourceID string) bool {
	if ref.Type != rtype {
		return false
	}
	if rtype != entities.ResourcePost {
		return true
	}
	// ref.ID is "<type>:<id>" while the resource ID is "<id>|<type>".
	id, contentType, err := entities.ParseContentKey(resourceID)
	if err != nil {
		return false
	}
	return entities.WildcardMatch(ref.ID, fmt.Sprintf("%s:%d", contentType, id))
}

// statementEntry builds the stored permission entry a statement asserts
func statementEntry(stmt *entities.Statement) map[string]interface{} {
	entry := map[string]interface{}{"effect": stmt.Effect}
	if len(stmt.On) > 0 {
		areas := make([]interface{}, 0, len(stmt.On))
		for _, a := range stmt.On {
			areas = append(areas, string(a))
		}
		entry["on"] = areas
	}
	if stmt.Redirect != nil {
		redirect := map[string]interface{}{"type": stmt.Redirect.Type}
		if stmt.Redirect.Target != "" {
			redirect["url"] = stmt.Redirect.Target
		}
		if stmt.Redirect.StatusCode != 0 {
			redirect["status_code"] = stmt.Redirect.StatusCode
		}
		entry["redirect"] = redirect
	}
	if stmt.Response != nil {
		entry["response"] = stmt.Response
	}
	return entry
}

// applyEntry writes the statement's entry into the settings map using the
// resource type's key-naming scheme
func applyEntry(
	settings map[string]interface{},
	rtype entities.ResourceType,
	ref *entities.ResourceRef,
	stmt *entities.Statement,
	entry map[string]interface{},
) {
	switch rtype {
	case entities.ResourcePost:
		for _, action := range actionsOrDefault(stmt.Actions, "read") {
			settings[strings.ToLower(action)] = entities.CopySettings(entry)
		}
	case entities.ResourceURL:
		settings[ref.ID] = entities.CopySettings(entry)
	case entities.ResourceRoute:
		settings[routeKey(ref.ID)] = entities.CopySettings(entry)
	case entities.ResourceMetabox, entities.ResourceToolbar, entities.ResourceWidget:
		settings[strings.ToLower(ref.ID)] = entities.CopySettings(entry)
	case entities.ResourceHook:
		settings[ref.ID] = entities.CopySettings(entry)
	case entities.ResourceIdentity:
		key := strings.ToLower(strings.Replace(ref.ID, ":", "|", 1))
		sub, _ := settings[key].(map[string]interface{})
		if sub == nil {
			sub = make(map[string]interface{})
		}
		for _, action := range actionsOrDefault(stmt.Actions, "list") {
			sub[strings.ToLower(action)] = entities.CopySettings(entry)
		}
		settings[key] = sub
	}
}

func actionsOrDefault(actions []string, fallback string) []string {
	if len(actions) == 0 {
		return []string{fallback}
	}
	return actions
}

// routeKey normalizes a Route reference ("GET:/posts") into the stored
// "method|path" form
func routeKey(refID string) string {
	method, path := "*", refID
	if i := strings.IndexByte(refID, ':'); i >= 0 {
		method, path = refID[:i], refID[i+1:]
	}
	return strings.ToLower(method + "|" + path)
}

func (e *Evaluator) logf(format string, v ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, v...)
	}
}
