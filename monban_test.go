package monban_test

import (
	"context"
	"testing"

	monban "github.com/hokkyo/monban"
)

// The engine is consumed as a library; everything a host needs has to be
// reachable from this package alone.
func TestHostFacingSurface(t *testing.T) {
	ctx := context.Background()

	store := monban.NewMemoryStore()
	store.AddRole(&monban.RoleLevel{Slug: "editor", Name: "Editor"})
	store.AddUser(&monban.UserLevel{UserID: 1, Login: "alice", Roles: []string{"editor"}})
	store.AddContent(&monban.ContentItem{ID: 5, Type: "post", Status: "publish"})

	svc, err := monban.New(store, store, store, store, monban.Config{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := monban.ContentKey(5, "post")
	err = store.Write(ctx, monban.LevelDefault, "", monban.ResourcePost, key, map[string]interface{}{
		"read": false,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	err = store.Write(ctx, monban.LevelRole, "editor", monban.ResourcePost, key, map[string]interface{}{
		"read": true,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	dec, err := svc.CheckPostAction(ctx, svc.NewRequest(nil), svc.Visitor(), key, "read", monban.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed {
		t.Error("visitor must inherit the default deny")
	}

	alice, err := svc.User(ctx, 1)
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	dec, err = svc.CheckPostAction(ctx, svc.NewRequest(nil), alice, key, "read", monban.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if !dec.Allowed {
		t.Error("the editor role allow must flow to the user")
	}
}

func TestHostFacingSurface_Policies(t *testing.T) {
	ctx := context.Background()

	store := monban.NewMemoryStore()
	store.AddRole(&monban.RoleLevel{Slug: "subscriber"})
	store.AddUser(&monban.UserLevel{UserID: 2, Login: "bob", Roles: []string{"subscriber"}})
	store.AddContent(&monban.ContentItem{ID: 9, Type: "post"})

	svc, err := monban.New(store, store, store, store, monban.Config{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	body := []byte(`{
		"Statement": {
			"Effect": "deny",
			"Resource": "Post:post:9",
			"Action": "comment"
		}
	}`)
	if _, err := monban.ParsePolicyDocument("no-comments", body); err != nil {
		t.Fatalf("ParsePolicyDocument() error = %v", err)
	}
	if err := store.SavePolicy("no-comments", body); err != nil {
		t.Fatalf("SavePolicy() error = %v", err)
	}
	if err := store.Attach(ctx, &monban.RoleLevel{Slug: "subscriber"}, "no-comments"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	bob, err := svc.User(ctx, 2)
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	rc := &monban.RuntimeContext{User: bob}
	dec, err := svc.CheckPostAction(ctx, svc.NewRequest(rc), bob, monban.ContentKey(9, "post"), "comment", monban.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if dec.Allowed || !dec.Governed {
		t.Errorf("decision = %+v, want governed deny from the attached policy", dec)
	}
}

func TestHostFacingSurface_Metrics(t *testing.T) {
	store := monban.NewMemoryStore()
	store.AddContent(&monban.ContentItem{ID: 3, Type: "post"})

	svc, err := monban.New(store, store, store, store, monban.Config{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	collector := monban.NewMetricsCollector()
	svc.WithMetrics(collector, nil)

	_, err = svc.CheckPostAction(context.Background(), svc.NewRequest(nil), svc.Visitor(), monban.ContentKey(3, "post"), "read", monban.AreaFrontend)
	if err != nil {
		t.Fatalf("CheckPostAction() error = %v", err)
	}
	if m := collector.GetOperationMetrics(); m.RequestCounts["check_post_action"] != 1 {
		t.Errorf("check_post_action requests = %v, want 1", m.RequestCounts["check_post_action"])
	}
}
