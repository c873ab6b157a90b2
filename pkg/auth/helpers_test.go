package auth

import (
	"bytes"
	"context"
	"encoding/pem"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/gatekeeper/internal/testutil"
	"github.com/StricklySoft/gatekeeper/internal/testutil/fixtures"
	"github.com/StricklySoft/gatekeeper/pkg/cache"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// fakeClock is a manually advanced clock shared by the caches, the
// validator and the JWT parser.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingVerifier counts signature verifications.
type countingVerifier struct {
	inner SignatureVerifier
	delay time.Duration
	calls atomic.Int64
}

func (c *countingVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.Verify(ctx, token)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func encodeCertPEM(w io.Writer, der []byte) error {
	return pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// mapHeaders is a case-sensitive [Headers] for unit tests.
type mapHeaders map[string]string

func (m mapHeaders) Get(key string) string { return m[key] }

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// harness wires a full pipeline against a fake identity provider, with
// every clock driven by one fakeClock.
type harness struct {
	key       testutil.SigningKey
	idp       *testutil.IdentityProvider
	clock     *fakeClock
	verifier  *countingVerifier
	caches    *Caches
	validator *Validator
	resolver  *ProfileResolver
	gk        *Gatekeeper
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		key:   testutil.NewRSAKey(t),
		idp:   testutil.NewIdentityProvider(t),
		clock: newFakeClock(),
	}

	jv, err := NewJWTVerifier(h.key.Public(), VerifierOptions{
		ClockSkew: 30 * time.Second,
		Now:       h.clock.Now,
	})
	require.NoError(t, err)
	h.verifier = &countingVerifier{inner: jv}

	h.caches, err = NewCaches(100, cache.WithClock(h.clock.Now))
	require.NoError(t, err)

	h.validator = NewValidator(h.verifier, h.caches.Claims, time.Hour, WithValidatorClock(h.clock.Now))
	h.resolver, err = NewProfileResolver(ResolverConfig{
		URL:      h.idp.URL(),
		Timeout:  2 * time.Second,
		CacheTTL: time.Hour,
	}, h.caches.Profiles)
	require.NoError(t, err)

	all := append([]Option{WithLogger(discardLogger()), WithClock(h.clock.Now)}, opts...)
	h.gk, err = NewGatekeeper(fixtures.ServiceName, h.validator, h.resolver, h.caches, all...)
	require.NoError(t, err)
	return h
}

// token signs a token valid at the harness clock, after applying mutate
// to the standard claims.
func (h *harness) token(t *testing.T, mutate ...func(jwt.MapClaims)) string {
	t.Helper()
	claims := testutil.Claims(h.clock.Now())
	for _, m := range mutate {
		m(claims)
	}
	return h.key.Sign(t, claims)
}

// issue signs a standard token and registers a profile for it.
func (h *harness) issue(t *testing.T, mutate ...func(jwt.MapClaims)) string {
	t.Helper()
	tok := h.token(t, mutate...)
	h.idp.SetProfile(tok, map[string]any{
		"sub":   fixtures.Subject,
		"email": "user@example.com",
		"roles": []any{"viewer"},
	})
	return tok
}

func bearer(token string) mapHeaders {
	return mapHeaders{HeaderAuthorization: "Bearer " + token}
}

func withScope(scope string) func(jwt.MapClaims) {
	return func(c jwt.MapClaims) { c["scope"] = scope }
}
