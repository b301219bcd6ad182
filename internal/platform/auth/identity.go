package auth

import "context"

// Identity is the authenticated caller as every handler sees it, regardless
// of which Authenticator produced it.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

// IdentityFromContext reports false when the request never passed through
// the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return identity, ok
}
