package guardspan

import "context"

type identityContextKey struct{}
type clientAddrContextKey struct{}

// WithIdentity attaches the authenticated caller to ctx. The Engine uses it
// to derive tenant-scoped rate-limit keys, so an anonymous caller can never
// drain another tenant's quota.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by [WithIdentity], if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// WithClientAddr attaches the caller's network address to ctx. It is the
// rate-limit key fallback for unauthenticated traffic and is recorded on
// audit events.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddrContextKey{}, addr)
}

func clientAddrFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	addr, _ := ctx.Value(clientAddrContextKey{}).(string)
	return addr
}
