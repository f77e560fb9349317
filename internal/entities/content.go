package entities

import (
	"fmt"
	"strconv"
	"strings"
)

// ContentItem is the small attribute set of a post-like object the core
// needs for Post resource initialization. The host owns the full model.
type ContentItem struct {
	ID       int64  // Content ID
	Type     string // Content type (e.g., "post", "page")
	Slug     string // URL slug
	Status   string // Publication status
	AuthorID int64  // Author user ID
}

// Key returns the compound settings key for the item: "<id>|<type>"
func (c *ContentItem) Key() string {
	return ContentKey(c.ID, c.Type)
}

// ContentKey builds the compound settings key for a content ID and type
func ContentKey(id int64, contentType string) string {
	return fmt.Sprintf("%d|%s", id, contentType)
}

// ParseContentKey splits a compound "<id>|<type>" settings key
func ParseContentKey(key string) (int64, string, error) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed content key %q", key)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed content ID in key %q: %w", key, err)
	}
	return id, parts[1], nil
}
