// Package monban is the host-facing surface of the access-policy
// resolution engine. Hosts import this package to construct an
// AccessService over their own stores (or the bundled in-memory store),
// resolve resources per access level, and run access checks. The
// PostgreSQL-backed stores live in the postgres subpackage.
package monban

import (
	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/infrastructure/metrics"
	"github.com/hokkyo/monban/internal/repositories"
	"github.com/hokkyo/monban/internal/repositories/memory"
	"github.com/hokkyo/monban/internal/services"
	"github.com/hokkyo/monban/internal/services/marker"
	"github.com/hokkyo/monban/internal/services/policy"
	"github.com/hokkyo/monban/internal/services/resolver"
	"github.com/hokkyo/monban/internal/services/resource"
	"github.com/hokkyo/monban/pkg/cache"
)

// Service types.
type (
	// AccessService is the entry point for resolution and decision queries
	AccessService = services.AccessService
	// Config holds the service tunables
	Config = services.Config
	// Decision is the outcome of an access check
	Decision = services.Decision
	// TokenSource supplies external revision tokens for the decision cache
	TokenSource = services.TokenSource
	// Logger is the minimal logging interface accepted throughout
	Logger = services.Logger
)

// Access level types.
type (
	AccessLevel  = entities.AccessLevel
	DefaultLevel = entities.DefaultLevel
	RoleLevel    = entities.RoleLevel
	UserLevel    = entities.UserLevel
	VisitorLevel = entities.VisitorLevel
	LevelType    = entities.LevelType
)

// Permission and policy types.
type (
	Permission      = entities.Permission
	Redirect        = entities.Redirect
	Policy          = entities.Policy
	Statement       = entities.Statement
	Effect          = entities.Effect
	Area            = entities.Area
	ResourceType    = entities.ResourceType
	ContentItem     = entities.ContentItem
	MergePreference = entities.MergePreference
)

// Resolution types.
type (
	// RuntimeContext carries the per-request data markers resolve against
	RuntimeContext = marker.RuntimeContext
	// CallbackFunc backs the CALLBACK marker namespace
	CallbackFunc = marker.CallbackFunc
	// RequestContext is the per-request resolution cache
	RequestContext = resolver.Context
	// Resource is the resolved per-type permission view
	Resource = resource.Resource
	// Registry manages resource type handlers and post-processors
	Registry = resource.Registry
	// PostProcessor is the extension point run after explicit settings load
	PostProcessor = resource.PostProcessor
)

// Resolved resource views.
type (
	Post     = resource.Post
	URL      = resource.URL
	URLRule  = resource.URLRule
	Route    = resource.Route
	Metabox  = resource.Metabox
	Toolbar  = resource.Toolbar
	Hook     = resource.Hook
	Widget   = resource.Widget
	Identity = resource.Identity
)

// Store contracts consumed by the service. Hosts may implement these
// directly or use the bundled memory/postgres implementations.
type (
	SettingsStore    = repositories.SettingsStore
	PolicySource     = repositories.PolicySource
	ContentLookup    = repositories.ContentLookup
	SubjectDirectory = repositories.SubjectDirectory
)

// Cache and metrics types.
type (
	// Cache is the pluggable decision cache contract
	Cache = cache.Cache
	// MetricsCollector aggregates operation and cache statistics
	MetricsCollector = metrics.Collector
	// PrometheusExporter publishes collector events to Prometheus
	PrometheusExporter = metrics.PrometheusExporter
)

// MemoryStore is the bundled in-process store. It implements every store
// contract the service consumes.
type MemoryStore = memory.Store

// Operator identifiers for custom condition operators.
type (
	Verdict      = policy.Verdict
	OperatorFunc = policy.OperatorFunc
)

// Access level type constants.
const (
	LevelDefault = entities.LevelDefault
	LevelRole    = entities.LevelRole
	LevelUser    = entities.LevelUser
	LevelVisitor = entities.LevelVisitor
)

// Resource type constants.
const (
	ResourcePost             = entities.ResourcePost
	ResourceURL              = entities.ResourceURL
	ResourceRoute            = entities.ResourceRoute
	ResourceMetabox          = entities.ResourceMetabox
	ResourceToolbar          = entities.ResourceToolbar
	ResourceHook             = entities.ResourceHook
	ResourceWidget           = entities.ResourceWidget
	ResourceIdentity         = entities.ResourceIdentity
	ResourceLoginRedirect    = entities.ResourceLoginRedirect
	ResourceLogoutRedirect   = entities.ResourceLogoutRedirect
	ResourceNotFoundRedirect = entities.ResourceNotFoundRedirect
	ResourceAccessDenied     = entities.ResourceAccessDenied
)

// Effect, area and merge preference constants.
const (
	EffectAllow = entities.EffectAllow
	EffectDeny  = entities.EffectDeny

	AreaFrontend = entities.AreaFrontend
	AreaBackend  = entities.AreaBackend
	AreaAPI      = entities.AreaAPI

	PreferDeny  = entities.PreferDeny
	PreferAllow = entities.PreferAllow
)

// Condition verdicts, for custom operators.
const (
	VerdictIndeterminate = policy.VerdictIndeterminate
	VerdictFalse         = policy.VerdictFalse
	VerdictTrue          = policy.VerdictTrue
)

// New creates an AccessService over the given stores. Pass the same
// value for several parameters when one store implements multiple
// contracts, as MemoryStore does.
func New(
	store SettingsStore,
	source PolicySource,
	content ContentLookup,
	directory SubjectDirectory,
	cfg Config,
	logger Logger,
) (*AccessService, error) {
	return services.NewAccessService(store, source, content, directory, cfg, logger)
}

// NewMemoryStore creates the bundled in-process store
func NewMemoryStore() *MemoryStore {
	return memory.NewStore()
}

// NewMetricsCollector creates a metrics collector for use with
// AccessService.WithMetrics
func NewMetricsCollector() *MetricsCollector {
	return metrics.NewCollector()
}

// NewPrometheusExporter creates a Prometheus exporter over a collector.
// Construct at most one per process; the underlying metrics register
// against the default Prometheus registry.
func NewPrometheusExporter(collector *MetricsCollector) *PrometheusExporter {
	return metrics.NewPrometheusExporter(collector)
}

// ContentKey builds the compound settings key for a content item
func ContentKey(id int64, contentType string) string {
	return entities.ContentKey(id, contentType)
}

// ParsePolicyDocument parses and validates a policy document body
func ParsePolicyDocument(id string, body []byte) (*Policy, error) {
	return entities.ParsePolicyDocument(id, body)
}
