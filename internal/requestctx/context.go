package requestctx

import (
	"context"

	"github.com/ncecere/llm_gateway/internal/auth"
)

type contextKey string

// Key is the typed context key used for storing the resolved principal.
var Key contextKey = "llm-gateway/principal"

// WithPrincipal embeds the resolved caller into the parent context.
func WithPrincipal(parent context.Context, p auth.Principal) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, p)
}

// Principal retrieves the resolved caller if present.
func Principal(ctx context.Context) (auth.Principal, bool) {
	if ctx == nil {
		return auth.Principal{}, false
	}
	p, ok := ctx.Value(Key).(auth.Principal)
	return p, ok
}
