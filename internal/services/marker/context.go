package marker

import (
	"context"
	"net/http"
	"time"

	"github.com/hokkyo/monban/internal/entities"
)

// CallbackFunc is a host-registered function invokable through the
// CALLBACK marker namespace
type CallbackFunc func(ctx context.Context, arg string) (interface{}, error)

// RuntimeContext carries the request-scoped data marker expressions
// resolve against. Every field is optional; a namespace whose backing
// field is absent resolves to nil (indeterminate), never to an error.
type RuntimeContext struct {
	User *entities.UserLevel // Current user (nil for visitors)

	Request *http.Request          // Inbound HTTP request, if any
	Server  map[string]interface{} // Extra server parameters beyond the request line

	Args         map[string]interface{} // Inline call arguments (ARGS namespace)
	Config       map[string]interface{} // Host configuration store (CONFIG/CONST)
	Site         map[string]interface{} // Multi-site parameters (SITE namespace)
	Claims       map[string]interface{} // Auth-token claims (JWT namespace)
	PolicyMeta   map[string]interface{} // Metadata of the policy under evaluation
	PolicyParams map[string]interface{} // Param section of the policy under evaluation

	Callbacks map[string]CallbackFunc // Registered CALLBACK functions

	// Now pins the DATETIME namespace for deterministic evaluation.
	// Zero means time.Now in UTC.
	Now time.Time
}

func (rc *RuntimeContext) now() time.Time {
	if rc.Now.IsZero() {
		return time.Now().UTC()
	}
	return rc.Now.UTC()
}
