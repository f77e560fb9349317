package repositories

import (
	"context"

	"github.com/hokkyo/monban/internal/entities"
)

// SettingsStore persists explicit permission blobs, namespaced by access
// level and object type. It is a flat key/value store: no merge or
// inheritance logic lives behind this interface.
type SettingsStore interface {
	// Read returns the stored permission map, or (nil, nil) when the key
	// has never been written. A missing key is not an error.
	Read(ctx context.Context, levelType entities.LevelType, levelID string, objectType entities.ResourceType, objectID string) (map[string]interface{}, error)

	// Write replaces the stored permission map for the key. On error the
	// mutation must be treated as not applied (no partial writes).
	Write(ctx context.Context, levelType entities.LevelType, levelID string, objectType entities.ResourceType, objectID string, settings map[string]interface{}) error

	// Delete removes the stored permission map for the key
	Delete(ctx context.Context, levelType entities.LevelType, levelID string, objectType entities.ResourceType, objectID string) error
}
