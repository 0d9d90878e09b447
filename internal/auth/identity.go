package auth

import "context"

// Principal is the authenticated caller, produced by session or API-token
// validation. Immutable for the duration of a request.
type Principal struct {
	UserID string
	Email  string
}

// AuthContext is the resolved identity and tenant scope handed to business
// actions. OrganizationID is empty only for a super-admin with no membership.
// Business code must derive all tenant filtering from OrganizationID and must
// never trust a client-supplied organization id.
type AuthContext struct {
	UserID         string
	OrganizationID string
	Role           string // "owner", "admin", "member", or "super_admin"
	IsSuperAdmin   bool
}

type contextKey struct{}

// WithAuthContext stores an AuthContext in the context.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// AuthContextFromContext retrieves the AuthContext from the context.
// Returns nil if no auth context is set.
func AuthContextFromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(contextKey{}).(*AuthContext)
	return ac
}
