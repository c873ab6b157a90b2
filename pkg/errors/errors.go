// Package errors provides the coded error type used across the gatekeeper.
//
// Every failure produced by the authentication pipeline is an [*Error]
// carrying a stable machine-readable [Code], a message that is safe to show
// to callers, and an optional Cause that holds the internal detail (for
// example the JWT library's verification error). Callers log the full error
// and respond with the message or a uniform rejection; the cause is never
// echoed back over the wire.
//
// Codes follow the pattern CATEGORY_XXX:
//
//	VAL_xxx     - configuration and input validation
//	AUTH_xxx    - authentication (missing or invalid credentials)
//	AUTHZ_xxx   - authorization (valid credentials, insufficient scope)
//	INT_xxx     - internal failures
//	UNAVAIL_xxx - unavailable dependencies (identity provider)
//	TIMEOUT_xxx - dependency timeouts
//
// Usage:
//
//	err := errors.Wrap(cause, errors.CodeAuthenticationInvalid, "auth: token is invalid")
//	if errors.IsAuthorization(err) {
//	    // scope denied, not an authentication failure
//	}
package errors
