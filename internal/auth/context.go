// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/homedecor/support-gateway/internal/store"
)

// AuthContext holds the authenticated user extracted from a request.
type AuthContext struct {
	UserID    int64
	Name      string
	Email     string
	IsSupport bool
	IsAdmin   bool
}

func newAuthContext(u *store.User) *AuthContext {
	return &AuthContext{
		UserID:    u.ID,
		Name:      u.Name,
		Email:     u.Email,
		IsSupport: u.IsSupport,
		IsAdmin:   u.IsAdmin,
	}
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
