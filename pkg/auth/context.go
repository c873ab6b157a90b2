package auth

import "context"

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const principalKey contextKey = iota

// Principal is the authenticated caller attached to a request context by
// [HTTPMiddleware] and the gRPC interceptors.
type Principal struct {
	// Token is the raw bearer token, for forwarding to downstream calls.
	Token string

	// Claims are the validated token claims. Nil if a pre-check accepted
	// the request without running the pipeline.
	Claims *Claims

	// Profile is the identity provider profile. Nil if it could not be
	// fetched and the degrade policy is in effect.
	Profile Profile
}

// ContextWithPrincipal returns a new context with p attached.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal attached to ctx, if any.
//
// Example:
//
//	p, ok := auth.PrincipalFromContext(r.Context())
//	if !ok {
//	    return errors.Unauthorized("no principal in context")
//	}
//	log.Info("request from", "subject", p.Claims.Subject)
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// principalFromRequest converts an accepted request into its principal.
func principalFromRequest(req *Request) *Principal {
	return &Principal{
		Token:   req.Token,
		Claims:  req.Claims,
		Profile: req.Profile,
	}
}
