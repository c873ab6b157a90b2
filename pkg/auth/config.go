package auth

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// ProfilePolicy selects what happens when the identity provider cannot
// supply a profile for an otherwise valid token.
type ProfilePolicy string

const (
	// ProfilePolicyReject rejects the request with a ProfileFetch error.
	ProfilePolicyReject ProfilePolicy = "reject"

	// ProfilePolicyDegrade accepts the request with a nil profile.
	ProfilePolicyDegrade ProfilePolicy = "degrade"
)

// Config holds the gatekeeper settings. It is loaded with
// [github.com/StricklySoft/gatekeeper/pkg/config] using the GATEKEEPER
// environment prefix, for example GATEKEEPER_SERVICE_NAME.
type Config struct {
	// ServiceName is the scope value a token must carry to be accepted.
	ServiceName string `env:"SERVICE_NAME" json:"service_name" yaml:"service_name" required:"true"`

	// PublicKeyPath is a PEM public key or certificate used to verify
	// token signatures.
	PublicKeyPath string `env:"PUBLIC_KEY_PATH" json:"public_key_path" yaml:"public_key_path" required:"true"`

	// Issuer, when set, must match the token's "iss" claim.
	Issuer string `env:"ISSUER" json:"issuer" yaml:"issuer"`

	// Audience, when set, must appear in the token's "aud" claim.
	Audience string `env:"AUDIENCE" json:"audience" yaml:"audience"`

	// ClockSkew is the tolerance applied to time-based claims.
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"30s" json:"clock_skew" yaml:"clock_skew"`

	// ClaimsCacheTTL is the upper bound on how long validated claims are
	// served from cache. The token's own expiry may shorten it.
	ClaimsCacheTTL time.Duration `env:"CLAIMS_CACHE_TTL" envDefault:"1h" json:"claims_cache_ttl" yaml:"claims_cache_ttl"`

	// ProfileCacheTTL is how long fetched profiles are served from cache.
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"1h" json:"profile_cache_ttl" yaml:"profile_cache_ttl"`

	// CacheCapacity bounds each credential cache store.
	CacheCapacity int `env:"CACHE_CAPACITY" envDefault:"1000" json:"cache_capacity" yaml:"cache_capacity"`

	// ProfileURL is the identity provider's profile endpoint.
	ProfileURL string `env:"PROFILE_URL" json:"profile_url" yaml:"profile_url" required:"true"`

	// ProfileTimeout bounds one profile fetch.
	ProfileTimeout time.Duration `env:"PROFILE_TIMEOUT" envDefault:"10s" json:"profile_timeout" yaml:"profile_timeout"`

	// ProfileCAFile optionally adds PEM certificates trusted when calling
	// the identity provider over TLS.
	ProfileCAFile string `env:"PROFILE_CA_FILE" json:"profile_ca_file" yaml:"profile_ca_file"`

	// ProfileFailurePolicy is "reject" or "degrade".
	ProfileFailurePolicy ProfilePolicy `env:"PROFILE_FAILURE_POLICY" envDefault:"reject" json:"profile_failure_policy" yaml:"profile_failure_policy"`

	// AllowCacheReset enables the reset-authorization-cache header and the
	// seeded test credential. Leave disabled in production.
	AllowCacheReset bool `env:"ALLOW_CACHE_RESET" envDefault:"false" json:"allow_cache_reset" yaml:"allow_cache_reset"`

	// TestToken fixes the seeded test credential's token. Empty generates
	// one at startup.
	TestToken string `env:"TEST_TOKEN" json:"test_token" yaml:"test_token"`

	// TestCredentialTTL is the lifetime of the seeded test credential.
	TestCredentialTTL time.Duration `env:"TEST_CREDENTIAL_TTL" envDefault:"24h" json:"test_credential_ttl" yaml:"test_credential_ttl"`

	// RejectStatus is the HTTP status written for every rejection.
	RejectStatus int `env:"REJECT_STATUS" envDefault:"400" json:"reject_status" yaml:"reject_status"`

	// HTTPClient overrides the identity provider client. It cannot be
	// loaded from the environment.
	HTTPClient HTTPClient `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with defaults for everything but the
// required fields.
func DefaultConfig() Config {
	return Config{
		ClockSkew:            30 * time.Second,
		ClaimsCacheTTL:       time.Hour,
		ProfileCacheTTL:      time.Hour,
		CacheCapacity:        1000,
		ProfileTimeout:       10 * time.Second,
		ProfileFailurePolicy: ProfilePolicyReject,
		TestCredentialTTL:    24 * time.Hour,
		RejectStatus:         http.StatusBadRequest,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() *sserr.Error {
	if c.ServiceName == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: service name is required")
	}
	if strings.ContainsAny(c.ServiceName, " \t\r\n") {
		return sserr.New(sserr.CodeValidation, "auth: service name must be a single scope value without whitespace")
	}
	if c.PublicKeyPath == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: public key path is required")
	}
	if c.ProfileURL == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: profile URL is required")
	}
	u, err := url.Parse(c.ProfileURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return sserr.New(sserr.CodeValidationFormat, "auth: profile URL must be an absolute http or https URL")
	}
	if c.ClockSkew < 0 {
		return sserr.New(sserr.CodeValidation, "auth: clock skew must not be negative")
	}
	if c.ClaimsCacheTTL <= 0 || c.ProfileCacheTTL <= 0 {
		return sserr.New(sserr.CodeValidation, "auth: cache TTLs must be positive")
	}
	if c.CacheCapacity <= 0 {
		return sserr.New(sserr.CodeValidation, "auth: cache capacity must be positive")
	}
	if c.ProfileTimeout <= 0 {
		return sserr.New(sserr.CodeValidation, "auth: profile timeout must be positive")
	}
	switch c.ProfileFailurePolicy {
	case ProfilePolicyReject, ProfilePolicyDegrade:
	default:
		return sserr.Newf(sserr.CodeValidation,
			"auth: profile failure policy must be %q or %q", ProfilePolicyReject, ProfilePolicyDegrade)
	}
	if c.AllowCacheReset && c.TestCredentialTTL <= 0 {
		return sserr.New(sserr.CodeValidation, "auth: test credential TTL must be positive when cache reset is allowed")
	}
	if c.RejectStatus < 400 || c.RejectStatus > 599 {
		return sserr.New(sserr.CodeValidation, "auth: reject status must be a 4xx or 5xx code")
	}
	return nil
}
