package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Identity is the caller as asserted by the upstream gateway. It is trusted
// as-is; role policy beyond RequireRole lives upstream.
type Identity struct {
	UserID    string
	ProjectID string
	Role      string
}

type ctxKey int

const identityCtxKey ctxKey = 1

func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityCtxKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityCtxKey).(Identity)
	return id, ok
}

func FromGin(c *gin.Context) (Identity, bool) {
	if c == nil || c.Request == nil {
		return Identity{}, false
	}
	return FromContext(c.Request.Context())
}
