package repositories

import (
	"context"

	"github.com/hokkyo/monban/internal/entities"
)

// ContentLookup resolves an opaque content ID and type to its attributes
// for Post resource initialization. The host application owns the data.
type ContentLookup interface {
	// GetContent returns the content item, or (nil, nil) when it does not exist
	GetContent(ctx context.Context, id int64, contentType string) (*entities.ContentItem, error)
}
