package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// errMissingAuthorization reports a request without a usable bearer header.
func errMissingAuthorization(reason string) *sserr.Error {
	return sserr.New(sserr.CodeAuthenticationMissing,
		"auth: request must carry an 'Authorization: Bearer <token>' header").
		WithDetail("reason", reason)
}

// errScopeDenied reports a valid token whose scope lacks the service.
func errScopeDenied(required string) *sserr.Error {
	return sserr.Newf(sserr.CodeAuthorizationInsufficientScope,
		"auth: token scope does not grant %q", required).
		WithDetail("required_scope", required)
}

// IsMissingAuthorization reports whether err means the request carried no
// well-formed bearer token.
func IsMissingAuthorization(err error) bool {
	return sserr.HasCode(err, sserr.CodeAuthenticationMissing)
}

// IsTokenInvalid reports whether err means the token was present but could
// not be verified: bad signature, malformed, expired or not yet valid.
func IsTokenInvalid(err error) bool {
	switch sserr.GetCode(err) {
	case sserr.CodeAuthenticationInvalid, sserr.CodeAuthenticationExpired, sserr.CodeAuthentication:
		return true
	}
	return false
}

// IsScopeDenied reports whether err means the token was valid but its
// scope does not include the required service name.
func IsScopeDenied(err error) bool {
	return sserr.HasCode(err, sserr.CodeAuthorizationInsufficientScope)
}

// IsProfileFetch reports whether err means the identity provider could not
// supply a profile, including a timeout while waiting for it.
func IsProfileFetch(err error) bool {
	switch sserr.GetCode(err) {
	case sserr.CodeProfileFetch, sserr.CodeTimeoutDependency:
		return true
	}
	return false
}

// classifyError maps an error from the verification path to a platform
// error. Errors that are already *sserr.Error pass through unchanged.
func classifyError(err error) *sserr.Error {
	if err == nil {
		return nil
	}

	var ssError *sserr.Error
	if errors.As(err, &ssError) {
		return ssError
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is malformed")
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is unverifiable")
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is missing a required claim")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token claims are invalid")
	}

	return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token validation failed")
}
