package authn

import (
	"context"

	"github.com/r3e-network/gateway-core/infrastructure/logging"
)

// Principal is the verified identity of a caller on the request context,
// regardless of which credential family authenticated it.
type Principal struct {
	Kind        string // "user", "api_key", "internal_service"
	Subject     string // user_id, key_id, or service_name
	Roles       []string
	Permissions []string
}

type principalKey struct{}

// WithPrincipal stores the verified principal on the context, and also
// populates the ambient logging context keys (user_id / service) so
// structured logs automatically carry caller identity.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	switch p.Kind {
	case "user":
		ctx = logging.WithUserID(ctx, p.Subject)
	case "internal_service":
		ctx = logging.WithService(ctx, p.Subject)
	}
	if len(p.Roles) > 0 {
		ctx = logging.WithRole(ctx, p.Roles[0])
	}
	return ctx
}

// GetPrincipal retrieves the verified principal from context, if any.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
