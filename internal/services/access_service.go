package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/infrastructure/metrics"
	"github.com/hokkyo/monban/internal/repositories"
	"github.com/hokkyo/monban/internal/services/marker"
	"github.com/hokkyo/monban/internal/services/policy"
	"github.com/hokkyo/monban/internal/services/resolver"
	"github.com/hokkyo/monban/internal/services/resource"
	"github.com/hokkyo/monban/pkg/cache"
)

// Logger is the minimal logging interface used by the service layer
type Logger interface {
	Printf(format string, v ...interface{})
}

// Config holds the tunables of the access service
type Config struct {
	// MaxDepth bounds inheritance chain traversal
	MaxDepth int
	// MultiRole enables sibling-role resolution for users with more
	// than one role
	MultiRole bool
	// MergePreference is the default preference for sibling merges
	MergePreference entities.MergePreference
	// PreferenceOverrides sets per-resource-type merge preferences
	PreferenceOverrides map[entities.ResourceType]entities.MergePreference
	// CacheTTL is the TTL for shared decision cache entries
	CacheTTL time.Duration
}

// AccessService is the host-facing entry point. It wires the marker
// resolver, policy evaluator, resource registry and hierarchy resolver
// together and exposes resolution and decision queries.
type AccessService struct {
	registry  *resource.Registry
	resolver  *resolver.Resolver
	markers   *marker.Resolver
	policies  *policy.Evaluator
	directory repositories.SubjectDirectory
	logger    Logger

	cache    cache.Cache
	cacheTTL time.Duration
	tokens   TokenSource

	collector *metrics.Collector
	exporter  *metrics.PrometheusExporter

	// generation advances on every settings write and versions the
	// shared decision cache keys when no external token source is set
	generation uint64
}

// TokenSource supplies an external revision token for decision cache
// versioning, typically backed by database change notifications. When
// set, it replaces the in-process write generation counter so cached
// decisions stay consistent across instances.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NewAccessService creates an AccessService over the given stores. The
// policy evaluator is registered as a post-processor for every resource
// type, so policy statements fold into explicit settings before the
// hierarchy merge.
func NewAccessService(
	store repositories.SettingsStore,
	source repositories.PolicySource,
	content repositories.ContentLookup,
	directory repositories.SubjectDirectory,
	cfg Config,
	logger Logger,
) (*AccessService, error) {
	markers := marker.NewResolver(directory)

	celEngine, err := policy.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression engine: %w", err)
	}
	conditions := policy.NewConditionEvaluator(markers, celEngine, logger)
	evaluator := policy.NewEvaluator(source, markers, conditions, logger)

	registry := resource.NewRegistry(store, content, logger)
	registry.RegisterPostProcessor(policyProcessor{evaluator: evaluator})
	if cfg.MergePreference != "" {
		registry.SetDefaultPreference(cfg.MergePreference)
	}
	for rtype, pref := range cfg.PreferenceOverrides {
		registry.SetTypePreference(rtype, pref)
	}

	hierarchy := resolver.NewResolver(registry, directory, resolver.Config{
		MaxDepth:  cfg.MaxDepth,
		MultiRole: cfg.MultiRole,
	}, logger)

	s := &AccessService{
		registry:  registry,
		resolver:  hierarchy,
		markers:   markers,
		policies:  evaluator,
		directory: directory,
		logger:    logger,
		cacheTTL:  cfg.CacheTTL,
	}
	registry.OnWrite(func(level entities.AccessLevel, rtype entities.ResourceType, resourceID string) {
		atomic.AddUint64(&s.generation, 1)
	})
	return s, nil
}

// WithCache enables the shared decision cache. Entries are versioned by
// a generation token that advances on every settings write, so stale
// decisions are never served after a write.
func (s *AccessService) WithCache(c cache.Cache, ttl time.Duration) *AccessService {
	s.cache = c
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	if s.collector != nil {
		s.collector.SetCache(c)
	}
	return s
}

// WithMetrics records operation counts, durations and errors through the
// collector. The exporter is optional; when set, the same events are
// published to Prometheus and decision cache hits and misses are counted.
func (s *AccessService) WithMetrics(collector *metrics.Collector, exporter *metrics.PrometheusExporter) *AccessService {
	s.collector = collector
	s.exporter = exporter
	if collector != nil && s.cache != nil {
		collector.SetCache(s.cache)
	}
	return s
}

// WithTokenSource versions the decision cache with an external revision
// token instead of the in-process write counter. Use when more than one
// process writes settings.
func (s *AccessService) WithTokenSource(source TokenSource) *AccessService {
	s.tokens = source
	return s
}

// Registry returns the resource registry for host-side type and
// post-processor registration
func (s *AccessService) Registry() *resource.Registry { return s.registry }

// Markers returns the marker resolver for host-side namespace
// registration
func (s *AccessService) Markers() *marker.Resolver { return s.markers }

// Policies returns the policy evaluator
func (s *AccessService) Policies() *policy.Evaluator { return s.policies }

// NewRequest creates a per-request resolution context around the given
// runtime data. Create one per inbound request and discard it afterward.
func (s *AccessService) NewRequest(rc *marker.RuntimeContext) *resolver.Context {
	return resolver.NewContext(rc)
}

// GetResource resolves the resource for an access level. With
// skipInheritance the resource carries only its own explicit and
// policy-derived settings. Returns (nil, nil) when no handler is
// registered for the type.
func (s *AccessService) GetResource(
	ctx context.Context,
	rctx *resolver.Context,
	level entities.AccessLevel,
	rtype entities.ResourceType,
	resourceID string,
	skipInheritance bool,
) (resource.Resource, error) {
	done := s.instrument("resolve")
	if level == nil {
		err := fmt.Errorf("access level must not be nil")
		done(err)
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, rctx, level, rtype, resourceID, skipInheritance)
	done(err)
	return res, err
}

// GetParent returns the parent access level per the deterministic
// hierarchy rules, or nil for the root
func (s *AccessService) GetParent(ctx context.Context, level entities.AccessLevel) (entities.AccessLevel, error) {
	return s.resolver.GetParent(ctx, level)
}

// User loads a user access level from the subject directory
func (s *AccessService) User(ctx context.Context, id int64) (*entities.UserLevel, error) {
	user, err := s.directory.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	if user == nil {
		return nil, fmt.Errorf("unknown user %d", id)
	}
	return user, nil
}

// Role loads a role access level from the subject directory
func (s *AccessService) Role(ctx context.Context, slug string) (*entities.RoleLevel, error) {
	role, err := s.directory.GetRole(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to load role %s: %w", slug, err)
	}
	if role == nil {
		return nil, fmt.Errorf("unknown role %s", slug)
	}
	return role, nil
}

// Visitor returns the unauthenticated visitor level
func (s *AccessService) Visitor() entities.AccessLevel { return &entities.VisitorLevel{} }

// Default returns the root access level
func (s *AccessService) Default() entities.AccessLevel { return &entities.DefaultLevel{} }

// SetPermissions writes a resource's explicit settings through the
// store and invalidates the request context for that resource at every
// level, since child effective sets depend on the written level.
func (s *AccessService) SetPermissions(
	ctx context.Context,
	rctx *resolver.Context,
	res resource.Resource,
	settings map[string]interface{},
) error {
	if err := res.SetPermissions(ctx, settings); err != nil {
		return err
	}
	if rctx != nil {
		rctx.InvalidateResource(res.Type(), res.ID())
	}
	return nil
}

// Decision is the outcome of an access check
type Decision struct {
	// Allowed reports whether the action is permitted
	Allowed bool
	// Governed reports whether any setting covered the check; when
	// false, Allowed is the default-allow fallback
	Governed bool
	// Redirect is the configured denial redirect, if any
	Redirect *entities.Redirect
}

// CheckPostAction checks an action on a content item for an access
// level. postKey is the content key in "id|type" form. Results are
// served from the shared decision cache when one is configured.
func (s *AccessService) CheckPostAction(
	ctx context.Context,
	rctx *resolver.Context,
	level entities.AccessLevel,
	postKey string,
	action string,
	area entities.Area,
) (*Decision, error) {
	done := s.instrument("check_post_action")
	dec, err := s.checkPostAction(ctx, rctx, level, postKey, action, area)
	done(err)
	return dec, err
}

func (s *AccessService) checkPostAction(
	ctx context.Context,
	rctx *resolver.Context,
	level entities.AccessLevel,
	postKey string,
	action string,
	area entities.Area,
) (*Decision, error) {
	key := s.decisionKey(ctx, level, entities.ResourcePost, postKey, action+"@"+string(area))
	if dec, ok := s.cachedDecision(ctx, key); ok {
		return dec, nil
	}

	res, err := s.GetResource(ctx, rctx, level, entities.ResourcePost, postKey, false)
	if err != nil {
		return nil, err
	}
	dec := &Decision{Allowed: true}
	if post, ok := res.(*resource.Post); ok && post != nil {
		_, governed := post.Permission(action)
		dec.Governed = governed
		dec.Allowed = !post.IsDenied(action, area)
		if !dec.Allowed {
			if redirect, ok := post.GetRedirect(); ok {
				dec.Redirect = redirect
			}
		}
	}

	s.storeDecision(ctx, key, dec)
	return dec, nil
}

// CheckURL checks a request URI against the URL rules of an access
// level. resourceID selects the rule set; most hosts keep a single set
// under an empty ID.
func (s *AccessService) CheckURL(
	ctx context.Context,
	rctx *resolver.Context,
	level entities.AccessLevel,
	resourceID string,
	uri string,
	params url.Values,
) (*Decision, error) {
	done := s.instrument("check_url")
	dec, err := s.checkURL(ctx, rctx, level, resourceID, uri, params)
	done(err)
	return dec, err
}

func (s *AccessService) checkURL(
	ctx context.Context,
	rctx *resolver.Context,
	level entities.AccessLevel,
	resourceID string,
	uri string,
	params url.Values,
) (*Decision, error) {
	key := s.decisionKey(ctx, level, entities.ResourceURL, resourceID, uri+"?"+params.Encode())
	if dec, ok := s.cachedDecision(ctx, key); ok {
		return dec, nil
	}

	res, err := s.GetResource(ctx, rctx, level, entities.ResourceURL, resourceID, false)
	if err != nil {
		return nil, err
	}
	dec := &Decision{Allowed: true}
	if rules, ok := res.(*resource.URL); ok && rules != nil {
		if match, found := rules.FindMatch(uri, params); found {
			dec.Governed = true
			dec.Allowed = match.Effect != entities.EffectDeny
			dec.Redirect = match.Redirect
		}
	}

	s.storeDecision(ctx, key, dec)
	return dec, nil
}

// ApplyCapabilityBoundaries narrows a user's roles and capabilities per
// the identity governance resource resolved for that user. Role slugs
// denied the "assume" action are removed, capabilities denied the "use"
// action are removed. The denied set is computed against the user's
// roles as loaded, before any removal takes effect. The input is not
// mutated; a bounded copy is returned.
func (s *AccessService) ApplyCapabilityBoundaries(
	ctx context.Context,
	rctx *resolver.Context,
	user *entities.UserLevel,
) (*entities.UserLevel, error) {
	if user == nil {
		return nil, fmt.Errorf("user must not be nil")
	}
	res, err := s.GetResource(ctx, rctx, user, entities.ResourceIdentity, user.LevelID(), false)
	if err != nil {
		return nil, err
	}
	identity, ok := res.(*resource.Identity)
	if !ok || identity == nil {
		return user, nil
	}

	bounded := *user
	bounded.Roles = make([]string, 0, len(user.Roles))
	for _, slug := range user.Roles {
		if !identity.IsDenied("role", slug, "assume") {
			bounded.Roles = append(bounded.Roles, slug)
		}
	}
	bounded.Capabilities = make(map[string]bool, len(user.Capabilities))
	for cap, granted := range user.Capabilities {
		if identity.IsDenied("capability", cap, "use") {
			continue
		}
		bounded.Capabilities[cap] = granted
	}
	return &bounded, nil
}

// decisionKey builds a versioned cache key for one check. An empty key
// disables caching for the call, used when the token source is
// unavailable.
func (s *AccessService) decisionKey(ctx context.Context, level entities.AccessLevel, rtype entities.ResourceType, resourceID, query string) string {
	token := strconv.FormatUint(atomic.LoadUint64(&s.generation), 10)
	if s.tokens != nil {
		external, err := s.tokens.Token(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("failed to fetch revision token, skipping decision cache: %v", err)
			}
			return ""
		}
		token = external
	}
	keyData := fmt.Sprintf("%s:%s:%s:%s:%s",
		entities.LevelKey(level), rtype, resourceID, query, token)
	hash := sha256.Sum256([]byte(keyData))
	return hex.EncodeToString(hash[:])
}

// instrument starts timing one operation when a collector is attached.
// The returned func must be called with the operation's error.
func (s *AccessService) instrument(operation string) func(error) {
	if s.collector == nil {
		return func(error) {}
	}
	return metrics.Instrument(s.collector, s.exporter, operation)
}

func (s *AccessService) cachedDecision(ctx context.Context, key string) (*Decision, bool) {
	if s.cache == nil || key == "" {
		return nil, false
	}
	cached, found := s.cache.Get(ctx, key)
	if !found {
		if s.exporter != nil {
			s.exporter.RecordCacheMiss()
		}
		return nil, false
	}
	dec, ok := cached.(Decision)
	if !ok {
		return nil, false
	}
	if s.exporter != nil {
		s.exporter.RecordCacheHit()
	}
	return &dec, true
}

func (s *AccessService) storeDecision(ctx context.Context, key string, dec *Decision) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.Set(ctx, key, *dec, s.cacheTTL); err != nil && s.logger != nil {
		s.logger.Printf("failed to cache decision: %v", err)
	}
}

// policyProcessor adapts the policy evaluator to the registry's
// post-processor extension point
type policyProcessor struct {
	evaluator *policy.Evaluator
}

func (p policyProcessor) Process(
	ctx context.Context,
	level entities.AccessLevel,
	rtype entities.ResourceType,
	resourceID string,
	settings map[string]interface{},
	rc *marker.RuntimeContext,
) (map[string]interface{}, error) {
	return p.evaluator.Apply(ctx, level, rtype, resourceID, settings, rc)
}
