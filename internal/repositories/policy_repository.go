package repositories

import (
	"context"

	"github.com/hokkyo/monban/internal/entities"
)

// PolicyAttachment records that a policy document applies to an access level
type PolicyAttachment struct {
	PolicyID string // Document identifier
	Order    int    // Attachment order (evaluation order)
	Enforce  bool   // False = detached bookkeeping entry, skipped on read
}

// PolicySource supplies the ordered list of policy documents attached to an
// access level. Documents are read-only to the core except for the
// attach/detach bookkeeping.
type PolicySource interface {
	// GetAttached returns the enforced policy documents for the level in
	// attachment order. Levels with no attachments return an empty slice.
	GetAttached(ctx context.Context, level entities.AccessLevel) ([]*entities.Policy, error)

	// Attach binds a policy document to an access level
	Attach(ctx context.Context, level entities.AccessLevel, policyID string) error

	// Detach marks the attachment as no longer enforced
	Detach(ctx context.Context, level entities.AccessLevel, policyID string) error
}
