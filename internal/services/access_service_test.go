package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/infrastructure/metrics"
	"github.com/hokkyo/monban/internal/repositories/memory"
	"github.com/hokkyo/monban/pkg/cache/memorycache"
)

func newTestService(t *testing.T, cfg Config) (*AccessService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc, err := NewAccessService(store, store, store, store, cfg, nil)
	if err != nil {
		t.Fatalf("NewAccessService() error = %v", err)
	}
	return svc, store
}

func seedPost(t *testing.T, store *memory.Store, id int64) string {
	t.Helper()
	store.AddContent(&entities.ContentItem{ID: id, Type: "post", Status: "publish"})
	return entities.ContentKey(id, "post")
}

func TestCheckPostAction_DefaultAllow(t *testing.T) {
	svc, store := newTestService(t, Config{})
	key := seedPost(t, store, 1)

	dec, err := svc.CheckPostAction(context.Background(), svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if !dec.Allowed {
		t.Error("ungoverned content must default to allowed")
	}
	if dec.Governed {
		t.Error("no settings cover the check, Governed must be false")
	}
}

func TestCheckPostAction_Inheritance(t *testing.T) {
	svc, store := newTestService(t, Config{})
	key := seedPost(t, store, 2)
	ctx := context.Background()

	err := store.Write(ctx, entities.LevelDefault, "", entities.ResourcePost, key, map[string]interface{}{
		"read": false,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	err = store.Write(ctx, entities.LevelRole, "editor", entities.ResourcePost, key, map[string]interface{}{
		"read": true,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	store.AddRole(&entities.RoleLevel{Slug: "editor"})
	store.AddUser(&entities.UserLevel{UserID: 7, Login: "alice", Roles: []string{"editor"}})

	// Visitor inherits the default deny.
	dec, err := svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed || !dec.Governed {
		t.Errorf("visitor decision = %+v, want governed deny", dec)
	}

	// The editor role's allow overrides it for the user.
	user, err := svc.User(ctx, 7)
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	dec, err = svc.CheckPostAction(ctx, svc.NewRequest(nil), user, key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if !dec.Allowed {
		t.Errorf("editor decision = %+v, want allow", dec)
	}
}

func TestCheckPostAction_Redirect(t *testing.T) {
	svc, store := newTestService(t, Config{})
	key := seedPost(t, store, 3)
	ctx := context.Background()

	err := store.Write(ctx, entities.LevelVisitor, "", entities.ResourcePost, key, map[string]interface{}{
		"read": map[string]interface{}{
			"effect":   "deny",
			"redirect": map[string]interface{}{"type": "url", "url": "/login"},
		},
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	dec, err := svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed {
		t.Fatal("decision should be deny")
	}
	if dec.Redirect == nil || dec.Redirect.Target != "/login" {
		t.Errorf("redirect = %+v, want /login", dec.Redirect)
	}
}

func TestCheckURL(t *testing.T) {
	svc, store := newTestService(t, Config{})
	ctx := context.Background()

	err := store.Write(ctx, entities.LevelVisitor, "", entities.ResourceURL, "", map[string]interface{}{
		"/members/*":     map[string]interface{}{"effect": "deny"},
		"/members/about": true,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	tests := []struct {
		uri      string
		allowed  bool
		governed bool
	}{
		{uri: "/members/archive", allowed: false, governed: true},
		{uri: "/members/about", allowed: true, governed: true},
		{uri: "/blog", allowed: true, governed: false},
	}
	for _, tt := range tests {
		dec, err := svc.CheckURL(ctx, svc.NewRequest(nil), svc.Visitor(), "", tt.uri, nil)
		if err != nil {
			t.Fatalf("CheckURL(%s) error = %v", tt.uri, err)
		}
		if dec.Allowed != tt.allowed || dec.Governed != tt.governed {
			t.Errorf("CheckURL(%s) = %+v, want allowed=%v governed=%v", tt.uri, dec, tt.allowed, tt.governed)
		}
	}
}

func TestPolicyFoldsIntoDecisions(t *testing.T) {
	svc, store := newTestService(t, Config{})
	key := seedPost(t, store, 4)
	ctx := context.Background()
	level := &entities.RoleLevel{Slug: "subscriber"}
	store.AddRole(level)

	if err := store.SavePolicy("p1", []byte(`{
		"Statement": {"Effect": "deny", "Resource": "Post:post:4", "Action": "read"}
	}`)); err != nil {
		t.Fatalf("SavePolicy() error = %v", err)
	}
	if err := store.Attach(ctx, level, "p1"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	dec, err := svc.CheckPostAction(ctx, svc.NewRequest(nil), level, key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed || !dec.Governed {
		t.Errorf("decision = %+v, attached policy should deny read", dec)
	}
}

func newDecisionCache(t *testing.T) *memorycache.Cache {
	t.Helper()
	c, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("memorycache.New() error = %v", err)
	}
	return c
}

func TestDecisionCache_InvalidatedByWrites(t *testing.T) {
	svc, store := newTestService(t, Config{})
	svc.WithCache(newDecisionCache(t), time.Minute)
	key := seedPost(t, store, 5)
	ctx := context.Background()

	dec, err := svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if !dec.Allowed {
		t.Fatal("initial decision should be allow")
	}

	// Cached: same decision comes back without re-resolution.
	dec, err = svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if !dec.Allowed {
		t.Fatal("cached decision should match")
	}

	// A write through the registry advances the generation and the stale
	// cached allow is no longer served.
	rctx := svc.NewRequest(nil)
	res, err := svc.GetResource(ctx, rctx, svc.Visitor(), entities.ResourcePost, key, true)
	if err != nil {
		t.Fatalf("GetResource() error = %v", err)
	}
	err = svc.SetPermissions(ctx, rctx, res, map[string]interface{}{"read": false})
	if err != nil {
		t.Fatalf("SetPermissions() error = %v", err)
	}

	dec, err = svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed {
		t.Error("decision after the write must reflect the new deny")
	}
}

type staticTokens struct {
	token string
	err   error
}

func (s *staticTokens) Token(ctx context.Context) (string, error) { return s.token, s.err }

func TestDecisionCache_ExternalTokenSource(t *testing.T) {
	svc, store := newTestService(t, Config{})
	svc.WithCache(newDecisionCache(t), time.Minute)
	tokens := &staticTokens{token: "rev-1"}
	svc.WithTokenSource(tokens)
	key := seedPost(t, store, 6)
	ctx := context.Background()

	dec, err := svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if !dec.Allowed {
		t.Fatal("initial decision should be allow")
	}

	// A deny lands in the store without going through this process.
	err = store.Write(ctx, entities.LevelVisitor, "", entities.ResourcePost, key, map[string]interface{}{"read": false})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Same token: the stale cached allow is still served.
	dec, err = svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if !dec.Allowed {
		t.Fatal("unchanged token keeps serving the cached decision")
	}

	// Token advance invalidates every cached decision.
	tokens.token = "rev-2"
	dec, err = svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed {
		t.Error("new token must force a fresh resolution")
	}

	// A failing token source disables caching instead of serving stale data.
	tokens.err = fmt.Errorf("connection lost")
	dec, err = svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed {
		t.Error("with the token source down decisions must resolve fresh")
	}
}

func TestWithMetrics_RecordsOperations(t *testing.T) {
	svc, store := newTestService(t, Config{})
	key := seedPost(t, store, 30)
	ctx := context.Background()

	collector := metrics.NewCollector()
	c, err := memorycache.New(&memorycache.Config{
		MaxSizeBytes:  1 << 20,
		DefaultTTL:    time.Minute,
		EnableMetrics: true,
	})
	if err != nil {
		t.Fatalf("memorycache.New() error = %v", err)
	}
	svc.WithCache(c, time.Minute).WithMetrics(collector, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", entities.AreaFrontend)
		if err != nil {
			t.Fatalf("CheckPostAction() error = %v", err)
		}
	}

	m := collector.GetOperationMetrics()
	if m.RequestCounts["check_post_action"] != 2 {
		t.Errorf("check_post_action requests = %v, want 2", m.RequestCounts["check_post_action"])
	}
	// Only the first check resolves; the second is served from the cache.
	if m.RequestCounts["resolve"] != 1 {
		t.Errorf("resolve requests = %v, want 1", m.RequestCounts["resolve"])
	}
	if m.TotalDurationSeconds["check_post_action"] <= 0 {
		t.Errorf("check_post_action duration = %v, want > 0", m.TotalDurationSeconds["check_post_action"])
	}

	cm := collector.GetCacheMetrics()
	if cm.Hits != 1 || cm.Misses != 1 {
		t.Errorf("cache hits/misses = %d/%d, want 1/1", cm.Hits, cm.Misses)
	}
}

func TestWithMetrics_RecordsErrors(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	collector := metrics.NewCollector()
	svc.WithMetrics(collector, nil)

	_, err := svc.GetResource(context.Background(), svc.NewRequest(nil), nil, entities.ResourcePost, "1|post", false)
	if err == nil {
		t.Fatal("GetResource() with a nil level should error")
	}

	m := collector.GetOperationMetrics()
	if m.ErrorCounts["resolve"] != 1 {
		t.Errorf("resolve errors = %v, want 1", m.ErrorCounts["resolve"])
	}
}

func TestApplyCapabilityBoundaries(t *testing.T) {
	svc, store := newTestService(t, Config{})
	ctx := context.Background()

	user := &entities.UserLevel{
		UserID: 10,
		Login:  "carol",
		Roles:  []string{"editor", "administrator"},
		Capabilities: map[string]bool{
			"edit_posts":     true,
			"manage_options": true,
		},
	}
	store.AddUser(user)
	store.AddRole(&entities.RoleLevel{Slug: "editor"})
	store.AddRole(&entities.RoleLevel{Slug: "administrator"})

	err := store.Write(ctx, entities.LevelUser, "10", entities.ResourceIdentity, "10", map[string]interface{}{
		"role|administrator": map[string]interface{}{
			"assume": map[string]interface{}{"effect": "deny"},
		},
		"capability|manage_options": map[string]interface{}{
			"use": map[string]interface{}{"effect": "deny"},
		},
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	bounded, err := svc.ApplyCapabilityBoundaries(ctx, svc.NewRequest(nil), user)
	if err != nil {
		t.Fatalf("ApplyCapabilityBoundaries() error = %v", err)
	}

	if len(bounded.Roles) != 1 || bounded.Roles[0] != "editor" {
		t.Errorf("bounded roles = %v, want [editor]", bounded.Roles)
	}
	if _, ok := bounded.Capabilities["manage_options"]; ok {
		t.Error("manage_options should be removed")
	}
	if !bounded.Capabilities["edit_posts"] {
		t.Error("edit_posts should survive")
	}

	// The input user is never mutated.
	if len(user.Roles) != 2 || len(user.Capabilities) != 2 {
		t.Errorf("input user mutated: roles=%v caps=%v", user.Roles, user.Capabilities)
	}
}

func TestApplyCapabilityBoundaries_Ungoverned(t *testing.T) {
	svc, store := newTestService(t, Config{})
	user := &entities.UserLevel{UserID: 11, Roles: []string{"editor"}, Capabilities: map[string]bool{"read": true}}
	store.AddUser(user)
	store.AddRole(&entities.RoleLevel{Slug: "editor"})

	bounded, err := svc.ApplyCapabilityBoundaries(context.Background(), svc.NewRequest(nil), user)
	if err != nil {
		t.Fatalf("ApplyCapabilityBoundaries() error = %v", err)
	}
	if len(bounded.Roles) != 1 || !bounded.Capabilities["read"] {
		t.Errorf("ungoverned user should pass through unchanged: %+v", bounded)
	}
}

func TestUserAndRoleLookups(t *testing.T) {
	svc, store := newTestService(t, Config{})
	store.AddUser(&entities.UserLevel{UserID: 1, Login: "alice"})
	store.AddRole(&entities.RoleLevel{Slug: "editor"})
	ctx := context.Background()

	if _, err := svc.User(ctx, 1); err != nil {
		t.Errorf("User(1) error = %v", err)
	}
	if _, err := svc.User(ctx, 99); err == nil {
		t.Error("User(99) should fail for unknown users")
	}
	if _, err := svc.Role(ctx, "editor"); err != nil {
		t.Errorf("Role(editor) error = %v", err)
	}
	if _, err := svc.Role(ctx, "ghost"); err == nil {
		t.Error("Role(ghost) should fail for unknown roles")
	}
}

func TestGetResource_NilLevel(t *testing.T) {
	svc, _ := newTestService(t, Config{})
	if _, err := svc.GetResource(context.Background(), svc.NewRequest(nil), nil, entities.ResourcePost, "", false); err == nil {
		t.Error("GetResource() should reject a nil level")
	}
}

func TestMergePreferenceConfig(t *testing.T) {
	setup := func(t *testing.T, cfg Config) (*AccessService, *memory.Store, *entities.UserLevel) {
		svc, store := newTestService(t, cfg)
		store.AddContent(&entities.ContentItem{ID: 20, Type: "post"})
		store.AddRole(&entities.RoleLevel{Slug: "editor"})
		store.AddRole(&entities.RoleLevel{Slug: "moderator"})
		ctx := context.Background()
		postKey := entities.ContentKey(20, "post")
		_ = store.Write(ctx, entities.LevelRole, "editor", entities.ResourcePost, postKey, map[string]interface{}{"edit": true})
		_ = store.Write(ctx, entities.LevelRole, "moderator", entities.ResourcePost, postKey, map[string]interface{}{"edit": false})
		user := &entities.UserLevel{UserID: 20, Roles: []string{"editor", "moderator"}}
		store.AddUser(user)
		return svc, store, user
	}

	t.Run("deny wins by default", func(t *testing.T) {
		svc, store, user := setup(t, Config{MultiRole: true})
		_ = store
		dec, err := svc.CheckPostAction(context.Background(), svc.NewRequest(nil), user, entities.ContentKey(20, "post"), "edit", entities.AreaBackend)
		if err != nil {
			t.Fatalf("CheckPostAction() error = %v", err)
		}
		if dec.Allowed {
			t.Error("conflicting role entries should resolve to deny")
		}
	})

	t.Run("allow preference flips the outcome", func(t *testing.T) {
		svc, store, user := setup(t, Config{MultiRole: true, MergePreference: entities.PreferAllow})
		_ = store
		dec, err := svc.CheckPostAction(context.Background(), svc.NewRequest(nil), user, entities.ContentKey(20, "post"), "edit", entities.AreaBackend)
		if err != nil {
			t.Fatalf("CheckPostAction() error = %v", err)
		}
		if !dec.Allowed {
			t.Error("allow preference should resolve the conflict to allow")
		}
	})
}
