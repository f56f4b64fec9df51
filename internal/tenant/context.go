// Package tenant carries the authenticated caller's identity through
// context. The repository refuses tenant-isolated operations when no tenant
// is present, so every request path must pass through WithTenantID.
package tenant

import "context"

type contextKey string

const (
	// TenantIDKey is the context key for the tenant identifier.
	TenantIDKey contextKey = "tenant_id"
	// UserIDKey is the context key for the authenticated principal.
	UserIDKey contextKey = "user_id"
	// ScopesKey is the context key for the space-separated token scopes.
	ScopesKey contextKey = "scopes"
)

// WithTenantID returns a new context with the tenant ID set.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithUserID returns a new context with the principal set.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithScopes returns a new context with the token scopes set.
func WithScopes(ctx context.Context, scopes string) context.Context {
	return context.WithValue(ctx, ScopesKey, scopes)
}

// GetTenantID extracts the tenant ID from the context.
func GetTenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(TenantIDKey).(string)
	return v, ok && v != ""
}

// GetUserID extracts the principal from the context.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(UserIDKey).(string)
	return v, ok
}

// GetScopes extracts the token scopes from the context.
func GetScopes(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ScopesKey).(string)
	return v, ok
}
