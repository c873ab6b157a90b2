package auth

import (
	"net/http"
)

// rejectBody is the only response body a rejected caller sees.
const rejectBody = "authentication failed"

// HTTPMiddleware returns an HTTP middleware that runs every request
// through g.
//
// Accepted requests continue to next with a [Principal] in their context.
// Rejected requests get g's reject status (400 by default) and a fixed
// body; the reason is logged by the gatekeeper but never written to the
// response.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("/alive", auth.AliveHandler())
//	mux.Handle("/api/", auth.HTTPMiddleware(gk)(api))
//	http.ListenAndServe(":8080", mux)
func HTTPMiddleware(g *Gatekeeper) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := &Request{Headers: r.Header}
			if err := g.Authenticate(r.Context(), req); err != nil {
				http.Error(w, rejectBody, g.rejectStatus)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principalFromRequest(req))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AliveHandler answers liveness probes with 200 "OK". Mount it outside
// [HTTPMiddleware].
func AliveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// ForwardingRoundTripper wraps an [http.RoundTripper] to forward the
// bearer token of the request context's [Principal] to downstream
// services. Requests without a principal, or that already carry an
// Authorization header, pass through unchanged.
//
// Example:
//
//	client := &http.Client{
//	    Transport: auth.NewForwardingRoundTripper(http.DefaultTransport),
//	}
//	resp, err := client.Do(req.WithContext(r.Context()))
type ForwardingRoundTripper struct {
	wrapped http.RoundTripper
}

// NewForwardingRoundTripper wraps transport. If transport is nil,
// [http.DefaultTransport] is used.
func NewForwardingRoundTripper(transport http.RoundTripper) *ForwardingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &ForwardingRoundTripper{wrapped: transport}
}

// RoundTrip implements the [http.RoundTripper] interface.
func (t *ForwardingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok || p.Token == "" || r.Header.Get(HeaderAuthorization) != "" {
		return t.wrapped.RoundTrip(r)
	}

	// Clone the request to avoid mutating the original.
	clone := r.Clone(r.Context())
	clone.Header.Set(HeaderAuthorization, bearerScheme+" "+p.Token)
	return t.wrapped.RoundTrip(clone)
}
