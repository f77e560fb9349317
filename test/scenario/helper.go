package scenario

import (
	"context"
	"testing"

	"github.com/hokkyo/monban/internal/entities"
	"github.com/hokkyo/monban/internal/repositories/memory"
	"github.com/hokkyo/monban/internal/services"
)

// Env bundles the access service and its backing store for one scenario
type Env struct {
	Service *services.AccessService
	Store   *memory.Store
}

// Setup wires an AccessService over an in-memory store seeded with a
// small site: two roles and a user per role.
func Setup(t *testing.T) *Env {
	t.Helper()

	store := memory.NewStore()
	svc, err := services.NewAccessService(store, store, store, store, services.Config{MultiRole: true}, nil)
	if err != nil {
		t.Fatalf("failed to create access service: %v", err)
	}

	store.AddRole(&entities.RoleLevel{Slug: "subscriber", Name: "Subscriber"})
	store.AddRole(&entities.RoleLevel{
		Slug: "editor",
		Name: "Editor",
		Capabilities: map[string]bool{
			"edit_posts":     true,
			"manage_options": true,
		},
	})
	store.AddUser(&entities.UserLevel{
		UserID: 11,
		Login:  "alice",
		Email:  "alice@example.com",
		Roles:  []string{"editor"},
		Capabilities: map[string]bool{
			"edit_posts":     true,
			"manage_options": true,
		},
	})
	store.AddUser(&entities.UserLevel{
		UserID: 12,
		Login:  "bob",
		Email:  "bob@example.com",
		Roles:  []string{"subscriber"},
	})

	return &Env{Service: svc, Store: store}
}

// SeedPost registers a content item and returns its content key
func (e *Env) SeedPost(t *testing.T, id int64) string {
	t.Helper()
	e.Store.AddContent(&entities.ContentItem{ID: id, Type: "post", Status: "publish"})
	return entities.ContentKey(id, "post")
}

// WriteSettings stores explicit settings for a level and resource
func (e *Env) WriteSettings(t *testing.T, level entities.AccessLevel, rtype entities.ResourceType, resourceID string, settings map[string]interface{}) {
	t.Helper()
	err := e.Store.Write(context.Background(), level.LevelType(), level.LevelID(), rtype, resourceID, settings)
	if err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}
}

// AttachPolicy stores a policy document and attaches it to a level
func (e *Env) AttachPolicy(t *testing.T, level entities.AccessLevel, id, body string) {
	t.Helper()
	if err := e.Store.SavePolicy(id, []byte(body)); err != nil {
		t.Fatalf("failed to save policy %s: %v", id, err)
	}
	if err := e.Store.Attach(context.Background(), level, id); err != nil {
		t.Fatalf("failed to attach policy %s: %v", id, err)
	}
}
