package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/gatekeeper/internal/testutil"
	"github.com/StricklySoft/gatekeeper/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// ---------------------------------------------------------------------------
// JWTVerifier
// ---------------------------------------------------------------------------

func TestJWTVerifier_ValidToken(t *testing.T) {
	t.Parallel()
	key := testutil.NewECKey(t)
	v, err := NewJWTVerifier(key.Public(), VerifierOptions{
		Issuer:   fixtures.Issuer,
		Audience: fixtures.Audience,
	})
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), key.Sign(t, testutil.Claims(time.Now())))
	require.NoError(t, err)
	assert.Equal(t, fixtures.Subject, claims.Subject)
	assert.Equal(t, fixtures.Issuer, claims.Issuer)
	assert.Equal(t, []string{fixtures.Audience}, claims.Audience)
	assert.True(t, claims.Scope.Has(fixtures.ServiceName))
	assert.False(t, claims.ExpiresAt.IsZero())
}

func TestJWTVerifier_Rejections(t *testing.T) {
	t.Parallel()
	key := testutil.NewRSAKey(t)
	other := testutil.NewRSAKey(t)
	now := time.Now()

	v, err := NewJWTVerifier(key.Public(), VerifierOptions{
		Issuer:    fixtures.Issuer,
		Audience:  fixtures.Audience,
		ClockSkew: 30 * time.Second,
	})
	require.NoError(t, err)

	sign := func(mutate func(jwt.MapClaims)) string {
		c := testutil.Claims(now)
		mutate(c)
		return key.Sign(t, c)
	}

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testutil.Claims(now)).
		SignedString([]byte("this-is-a-32-byte-test-signing-k"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  sserr.Code
	}{
		{name: "garbage", token: "not-a-jwt", code: sserr.CodeAuthenticationInvalid},
		{name: "wrong key", token: other.Sign(t, testutil.Claims(now)), code: sserr.CodeAuthenticationInvalid},
		{name: "algorithm substitution", token: hmacToken, code: sserr.CodeAuthenticationInvalid},
		{
			name:  "expired",
			token: sign(func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Minute).Unix() }),
			code:  sserr.CodeAuthenticationExpired,
		},
		{
			name:  "missing exp",
			token: sign(func(c jwt.MapClaims) { delete(c, "exp") }),
			code:  sserr.CodeAuthenticationInvalid,
		},
		{
			name:  "issued in the future",
			token: sign(func(c jwt.MapClaims) { c["iat"] = now.Add(time.Hour).Unix() }),
			code:  sserr.CodeAuthenticationInvalid,
		},
		{
			name:  "wrong issuer",
			token: sign(func(c jwt.MapClaims) { c["iss"] = "https://evil.test" }),
			code:  sserr.CodeAuthenticationInvalid,
		},
		{
			name:  "wrong audience",
			token: sign(func(c jwt.MapClaims) { c["aud"] = "someone-else" }),
			code:  sserr.CodeAuthenticationInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := v.Verify(context.Background(), tt.token)
			testutil.RequireErrorCode(t, err, tt.code)
			assert.True(t, IsTokenInvalid(err))
			ssErr, _ := sserr.AsError(err)
			assert.NotNil(t, ssErr.Cause, "library error should be kept as cause")
		})
	}
}

func TestJWTVerifier_ClockSkewTolerated(t *testing.T) {
	t.Parallel()
	key := testutil.NewRSAKey(t)
	now := time.Now()
	v, err := NewJWTVerifier(key.Public(), VerifierOptions{ClockSkew: time.Minute})
	require.NoError(t, err)

	c := testutil.Claims(now)
	c["exp"] = now.Add(-20 * time.Second).Unix()
	_, err = v.Verify(context.Background(), key.Sign(t, c))
	assert.NoError(t, err)
}

func TestNewJWTVerifier_UnsupportedKey(t *testing.T) {
	t.Parallel()
	_, err := NewJWTVerifier("secret", VerifierOptions{})
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

// ---------------------------------------------------------------------------
// Validator
// ---------------------------------------------------------------------------

func TestValidator_CachesAndSkipsVerification(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.token(t)

	first, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)
	second, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), h.verifier.calls.Load())
}

func TestValidator_ReverifiesAfterTTL(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.token(t)

	_, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)

	h.clock.Advance(time.Hour + time.Second)
	_, err = h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.verifier.calls.Load())
}

func TestValidator_CacheTTLBoundedByTokenExpiry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.token(t, func(c jwt.MapClaims) {
		c["exp"] = h.clock.Now().Add(10 * time.Minute).Unix()
	})

	_, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)

	// Still inside the configured hour, but past the token's own expiry.
	h.clock.Advance(11 * time.Minute)
	_, err = h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationExpired)
	assert.Equal(t, int64(2), h.verifier.calls.Load())
}

func TestValidator_ScopeDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.token(t, withScope("openid profile"))

	_, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthorizationInsufficientScope)
	assert.True(t, IsScopeDenied(err))
	assert.False(t, IsTokenInvalid(err))

	// Not cached: a second attempt verifies again.
	_, err = h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	assert.True(t, IsScopeDenied(err))
	assert.Equal(t, int64(2), h.verifier.calls.Load())
	assert.Equal(t, 0, h.caches.Claims.Len())
}

func TestValidator_CachedClaimsStillCheckScope(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.token(t)

	_, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)

	_, err = h.validator.Validate(context.Background(), tok, fixtures.OtherService)
	assert.True(t, IsScopeDenied(err))
	assert.Equal(t, int64(1), h.verifier.calls.Load())
}

func TestValidator_ScopeAsArray(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := h.token(t, func(c jwt.MapClaims) {
		c["scope"] = []string{"openid", fixtures.ServiceName}
	})

	claims, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)
	assert.True(t, claims.Scope.Has("openid"))
}

func TestValidator_InvalidSignatureNotCached(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	forged := testutil.NewRSAKey(t).Sign(t, testutil.Claims(h.clock.Now()))

	_, err := h.validator.Validate(context.Background(), forged, fixtures.ServiceName)
	assert.True(t, IsTokenInvalid(err))
	assert.Equal(t, 0, h.caches.Claims.Len())
}

func TestValidator_OversizedToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.validator.Validate(context.Background(), strings.Repeat("a", maxTokenSize+1), fixtures.ServiceName)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationInvalid)
	assert.Equal(t, int64(0), h.verifier.calls.Load())
}

func TestValidator_ConcurrentMissesShareVerification(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.verifier.delay = 50 * time.Millisecond
	tok := h.token(t)

	const workers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), h.verifier.calls.Load())
}

func TestValidator_Tracing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h.validator.tracer = tp.Tracer(tracerName)
	tok := h.token(t)

	_, err := h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)
	_, err = h.validator.Validate(context.Background(), tok, fixtures.ServiceName)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	hits := make([]bool, 0, 2)
	for _, s := range spans {
		assert.Equal(t, "auth.Validate", s.Name())
		for _, kv := range s.Attributes() {
			switch kv.Key {
			case attrCacheHit:
				hits = append(hits, kv.Value.AsBool())
			case attrService:
				assert.Equal(t, fixtures.ServiceName, kv.Value.AsString())
			}
		}
	}
	assert.Equal(t, []bool{false, true}, hits)
}
