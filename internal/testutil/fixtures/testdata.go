// Package fixtures provides shared test data constants for the gatekeeper
// test suite.
//
// Using common constants for service names and claims prevents magic
// strings in tests and keeps the auth, config and example tests in step.
package fixtures

import "time"

// Standard service and claim values used in auth tests.
const (
	// ServiceName is the service protected in unit tests. Tokens must carry
	// it in their scope to be accepted.
	ServiceName = "orders-service"

	// OtherService is a service name that test tokens are not scoped for.
	OtherService = "billing-service"

	// Subject is the default "sub" claim of test tokens.
	Subject = "user-abc-123"

	// Issuer is the default "iss" claim of test tokens.
	Issuer = "https://oidc-provider.test"

	// Audience is the default "aud" claim of test tokens.
	Audience = "gatekeeper"
)

// Scope returns the default scope string of test tokens: the OpenID
// scopes plus [ServiceName].
func Scope() string {
	return "openid profile " + ServiceName
}

// Standard timing values used in cache and validation tests.
const (
	// TokenLifetime is the default lifetime of signed test tokens.
	TokenLifetime = 2 * time.Hour

	// CacheTTL is a short cache TTL that tests move past with a fake clock.
	CacheTTL = time.Minute
)

// Standard configuration values used in config loader tests.
const (
	// EnvPrefix is the environment prefix for gatekeeper configuration.
	EnvPrefix = "GATEKEEPER"
)
