package auth

import "context"

type orgIDKey struct{}

// WithOrgID returns a copy of ctx carrying the caller's organization.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

// OrgID returns the organization set by RequireAuth, if any.
func OrgID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(orgIDKey{}).(string)
	return id, ok && id != ""
}
