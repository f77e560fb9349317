package policy

import (
	"context"
	"testing"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories/memory"
	"github.com/hokkyo/monban/internal/services/marker"
)

func newTestEvaluator(t *testing.T, store *memory.Store) *Evaluator {
	t.Helper()
	markers := marker.NewResolver(store)
	engine, err := NewCELEngine()
	if err != nil {
		t.Fatalf("NewCELEngine() error = %v", err)
	}
	return NewEvaluator(store, markers, NewConditionEvaluator(markers, engine, nil), nil)
}

func attachPolicy(t *testing.T, store *memory.Store, level entities.AccessLevel, id, body string) {
	t.Helper()
	if err := store.SavePolicy(id, []byte(body)); err != nil {
		t.Fatalf("SavePolicy() error = %v", err)
	}
	if err := store.Attach(context.Background(), level, id); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
}

func TestApply_PostStatement(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "subscriber"}

	attachPolicy(t, store, level, "p1", `{
		"Statement": {
			"Effect": "deny",
			"Resource": "Post:post:123",
			"Action": ["read", "comment"],
			"On": "frontend"
		}
	}`)

	settings, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(123, "post"), nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	for _, action := range []string{"read", "comment"} {
		entry, ok := settings[action].(map[string]interface{})
		if !ok {
			t.Fatalf("settings[%s] = %T, want map", action, settings[action])
		}
		if entry["effect"] != entities.StatementDeny {
			t.Errorf("%s effect = %v, want deny", action, entry["effect"])
		}
	}

	// Other content is untouched.
	other, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(124, "post"), nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated content settings = %v, want empty", other)
	}
}

func TestApply_WildcardResource(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "subscriber"}

	attachPolicy(t, store, level, "p1", `{
		"Statement": {"Effect": "deny", "Resource": "Post:post:*"}
	}`)

	settings, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(55, "post"), nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	// Default action for Post statements is "read".
	if _, ok := settings["read"]; !ok {
		t.Errorf("settings = %v, wildcard reference should govern every post", settings)
	}

	pages, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(55, "page"), nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("page settings = %v, the post:* reference excludes pages", pages)
	}
}

func TestApply_LastStatementWins(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "subscriber"}

	attachPolicy(t, store, level, "p1", `{
		"Statement": [
			{"Effect": "deny", "Resource": "Post:post:1", "Action": "read"},
			{"Effect": "allow", "Resource": "Post:post:1", "Action": "read"}
		]
	}`)

	settings, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(1, "post"), nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	entry := settings["read"].(map[string]interface{})
	if entry["effect"] != entities.StatementAllow {
		t.Errorf("read effect = %v, the later statement must win", entry["effect"])
	}
}

func TestApply_ConditionGate(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "subscriber"}

	attachPolicy(t, store, level, "p1", `{
		"Statement": {
			"Effect": "deny",
			"Resource": "Post:post:1",
			"Condition": {"NotLike": {"${USER.email}": "*@example.com"}}
		}
	}`)

	inside := &marker.RuntimeContext{User: &entities.UserLevel{UserID: 1, Email: "alice@example.com"}}
	outside := &marker.RuntimeContext{User: &entities.UserLevel{UserID: 2, Email: "mallory@other.net"}}
	key := entities.ContentKey(1, "post")

	settings, err := ev.Apply(context.Background(), level, entities.ResourcePost, key, nil, inside)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("settings = %v, a false condition must not apply the statement", settings)
	}

	settings, err = ev.Apply(context.Background(), level, entities.ResourcePost, key, nil, outside)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := settings["read"]; !ok {
		t.Errorf("settings = %v, a true condition must apply the statement", settings)
	}

	// A visitor cannot resolve USER.email: indeterminate, statement skipped.
	settings, err = ev.Apply(context.Background(), level, entities.ResourcePost, key, nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("settings = %v, an indeterminate condition must not apply the statement", settings)
	}
}

func TestApply_PolicyParamMarker(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "subscriber"}

	attachPolicy(t, store, level, "p1", `{
		"Param": {"blocked": "post:9"},
		"Statement": {"Effect": "deny", "Resource": "Post:${POLICY_PARAM.blocked}"}
	}`)

	settings, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(9, "post"), nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := settings["read"]; !ok {
		t.Errorf("settings = %v, the param-driven reference should match", settings)
	}
}

func TestApply_URLStatement(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.VisitorLevel{}

	attachPolicy(t, store, level, "p1", `{
		"Statement": {
			"Effect": "deny",
			"Resource": ["Url:/members/*", "Url:/downloads/*"],
			"Redirect": {"type": "url", "url": "/login", "status_code": 302}
		}
	}`)

	settings, err := ev.Apply(context.Background(), level, entities.ResourceURL, "", nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(settings) != 2 {
		t.Fatalf("settings = %v, want one entry per reference", settings)
	}
	entry := settings["/members/*"].(map[string]interface{})
	if entry["effect"] != entities.StatementDeny {
		t.Errorf("effect = %v, want deny", entry["effect"])
	}
	redirect := entry["redirect"].(map[string]interface{})
	if redirect["url"] != "/login" || redirect["status_code"] != 302 {
		t.Errorf("redirect = %v, want /login with 302", redirect)
	}
}

func TestApply_RouteAndIdentityStatements(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "shop_manager"}

	attachPolicy(t, store, level, "p1", `{
		"Statement": [
			{"Effect": "deny", "Resource": "Route:DELETE:/wp/v2/posts/*"},
			{"Effect": "deny", "Resource": "Identity:role:administrator", "Action": ["assume", "edit"]}
		]
	}`)

	routes, err := ev.Apply(context.Background(), level, entities.ResourceRoute, "", nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, ok := routes["delete|/wp/v2/posts/*"]; !ok {
		t.Errorf("route settings = %v, want a delete|... key", routes)
	}

	identity, err := ev.Apply(context.Background(), level, entities.ResourceIdentity, "", nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	sub, ok := identity["role|administrator"].(map[string]interface{})
	if !ok {
		t.Fatalf("identity settings = %v, want a role|administrator entry", identity)
	}
	for _, action := range []string{"assume", "edit"} {
		if _, ok := sub[action]; !ok {
			t.Errorf("identity entry missing action %q: %v", action, sub)
		}
	}
}

func TestApply_DetachedPolicyIgnored(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "subscriber"}

	attachPolicy(t, store, level, "p1", `{
		"Statement": {"Effect": "deny", "Resource": "Post:post:1"}
	}`)
	if err := store.Detach(context.Background(), level, "p1"); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}

	settings, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(1, "post"), nil, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("settings = %v, detached policies must not contribute", settings)
	}
}

func TestApply_PreservesExplicitSettings(t *testing.T) {
	store := memory.NewStore()
	ev := newTestEvaluator(t, store)
	level := &entities.RoleLevel{Slug: "subscriber"}

	attachPolicy(t, store, level, "p1", `{
		"Statement": {"Effect": "deny", "Resource": "Post:post:1", "Action": "comment"}
	}`)

	explicit := map[string]interface{}{"read": true}
	settings, err := ev.Apply(context.Background(), level, entities.ResourcePost, entities.ContentKey(1, "post"), explicit, nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if v, ok := settings["read"].(bool); !ok || !v {
		t.Errorf("read = %v, explicit entries must survive", settings["read"])
	}
	if _, ok := settings["comment"]; !ok {
		t.Errorf("comment entry missing: %v", settings)
	}
}
