package auth

import "strings"

const (
	// HeaderAuthorization carries the bearer token. gRPC metadata keys are
	// lower case; [net/http.Header.Get] canonicalizes, so one constant
	// serves both transports.
	HeaderAuthorization = "authorization"

	// HeaderResetCache, when present with a non-empty value and cache
	// reset is enabled, clears the credential cache before the request is
	// authenticated.
	HeaderResetCache = "reset-authorization-cache"

	bearerScheme = "Bearer"
)

// Headers is the read-only view of request headers the gatekeeper needs.
// [net/http.Header] satisfies it with case-insensitive lookup.
type Headers interface {
	Get(key string) string
}

// ExtractBearerToken returns the token from an "Authorization: Bearer
// <token>" header. The header is split on single spaces; the first segment
// must be exactly "Bearer" (case-sensitive) and the second segment is
// returned verbatim. Anything after the second segment is ignored.
//
// Returns a MissingAuthorization error when the header is absent, uses
// another scheme, or carries no token.
func ExtractBearerToken(h Headers) (string, error) {
	if h == nil {
		return "", errMissingAuthorization("no headers")
	}
	value := h.Get(HeaderAuthorization)
	if value == "" {
		return "", errMissingAuthorization("header absent")
	}

	parts := strings.Split(value, " ")
	if parts[0] != bearerScheme {
		return "", errMissingAuthorization("scheme is not Bearer")
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", errMissingAuthorization("token segment absent")
	}
	return parts[1], nil
}
