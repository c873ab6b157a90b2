package auth

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/StricklySoft/gatekeeper/pkg/cache"
	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// maxTokenSize is the maximum accepted length of a raw token in bytes.
const maxTokenSize = 8192

// SignatureVerifier verifies a raw token and returns its claims. It is
// called only on a claims-cache miss.
//
// Implementations must be safe for concurrent use.
type SignatureVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// VerifierOptions tune [NewJWTVerifier].
type VerifierOptions struct {
	// Issuer, when non-empty, must equal the token's "iss" claim.
	Issuer string

	// Audience, when non-empty, must appear in the token's "aud" claim.
	Audience string

	// ClockSkew is the leeway applied to "exp", "nbf" and "iat".
	ClockSkew time.Duration

	// Now overrides the verification clock. Nil means time.Now.
	Now func() time.Time
}

// JWTVerifier verifies JWS-signed JWTs against a single public key.
type JWTVerifier struct {
	key    crypto.PublicKey
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for key. Only the algorithms of the
// key's family are accepted, "exp" is required, and "iat" must not be in
// the future.
func NewJWTVerifier(key crypto.PublicKey, opts VerifierOptions) (*JWTVerifier, error) {
	methods, err := signingMethodsFor(key)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "auth: cannot verify tokens with this key")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(opts.ClockSkew),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}

	return &JWTVerifier{
		key:    key,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Verify parses token, checks its signature and registered claims, and
// returns the decoded claims.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	tc := &tokenClaims{}
	_, err := v.parser.ParseWithClaims(token, tc, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return tc.toClaims(), nil
}

// Validator is the token validation stage. It answers from the claims
// cache when possible and otherwise verifies the token and checks its
// scope.
type Validator struct {
	verifier SignatureVerifier
	claims   *cache.Store[*Claims]
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group
	tracer   trace.Tracer
}

// ValidatorOption configures a [Validator].
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the clock used to compute remaining token
// lifetime when caching.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a validator that caches successful results in
// claims for at most ttl.
func NewValidator(verifier SignatureVerifier, claims *cache.Store[*Claims], ttl time.Duration, opts ...ValidatorOption) *Validator {
	v := &Validator{
		verifier: verifier,
		claims:   claims,
		ttl:      ttl,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the claims of token if its signature is valid and its
// scope contains requiredScope.
//
// A cached result is returned without signature verification; the scope
// is still checked against requiredScope. On a miss the token is verified,
// and on full success the claims are cached for the shorter of the
// configured TTL and the token's remaining lifetime. Concurrent misses for
// the same token and scope share one verification. A result that arrives
// after a cache reset is returned but not cached.
func (v *Validator) Validate(ctx context.Context, token, requiredScope string) (*Claims, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Validate", attrService.String(requiredScope))
	defer span.End()

	if len(token) > maxTokenSize {
		err := sserr.New(sserr.CodeAuthenticationInvalid, "auth: token exceeds maximum allowed size")
		finishSpan(span, err)
		return nil, err
	}

	key := tokenHash(token)
	gen := v.claims.Generation()
	if claims, ok := v.claims.Get(key); ok {
		span.SetAttributes(attrCacheHit.Bool(true))
		if !claims.Scope.Has(requiredScope) {
			err := errScopeDenied(requiredScope)
			finishSpan(span, err)
			return nil, err
		}
		return claims, nil
	}
	span.SetAttributes(attrCacheHit.Bool(false))

	flight := key + "\x00" + requiredScope + "\x00" + strconv.FormatUint(gen, 10)
	result, err, _ := v.group.Do(flight, func() (any, error) {
		claims, err := v.verifier.Verify(ctx, token)
		if err != nil {
			return nil, classifyError(err)
		}
		if !claims.Scope.Has(requiredScope) {
			return nil, errScopeDenied(requiredScope)
		}
		v.claims.SetIfGeneration(key, claims, v.cacheTTL(claims), gen)
		return claims, nil
	})
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	return result.(*Claims), nil
}

// cacheTTL bounds the configured TTL by the token's remaining lifetime so
// a cached entry never outlives the token.
func (v *Validator) cacheTTL(claims *Claims) time.Duration {
	ttl := v.ttl
	if !claims.ExpiresAt.IsZero() {
		if remaining := claims.ExpiresAt.Sub(v.now()); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// tokenHash returns the hex SHA-256 of token. Raw tokens are never used as
// cache keys or logged.
func tokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
