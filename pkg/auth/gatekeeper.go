package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/gatekeeper/pkg/cache"
	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// Stage is a step of the authentication pipeline.
type Stage string

const (
	StageStart          Stage = "start"
	StageExtractToken   Stage = "extract_token"
	StageValidate       Stage = "validate"
	StageResolveProfile Stage = "resolve_profile"
	StageAccept         Stage = "accept"
)

// Request is the transport-neutral view of an inbound request.
//
// On success the gatekeeper fills Token, Claims and Profile (Profile may be
// nil under [ProfilePolicyDegrade]). On rejection they are left unset.
type Request struct {
	// Headers are the inbound request headers.
	Headers Headers

	// Validated is set by a [PreCheck] to skip the pipeline, and by the
	// gatekeeper once the request is accepted.
	Validated bool

	// Stage is the last pipeline stage entered.
	Stage Stage

	Token   string
	Claims  *Claims
	Profile Profile
}

// PreCheck runs before token extraction. Setting req.Validated to true
// accepts the request without running the pipeline.
type PreCheck func(ctx context.Context, req *Request)

// PostCheck runs after the pipeline with its result (nil on success) and
// returns the final result. It may turn an acceptance into a rejection or
// the reverse.
type PostCheck func(ctx context.Context, req *Request, err error) error

// Caches is the credential cache used by the gatekeeper.
type Caches = cache.Credentials[*Claims, Profile]

// NewCaches creates a credential cache with capacity entries per store.
func NewCaches(capacity int, opts ...cache.Option) (*Caches, error) {
	return cache.New[*Claims, Profile](capacity, opts...)
}

// TestCredential is a token seeded into the cache on every reset so that
// test clients can authenticate without a real identity provider.
type TestCredential struct {
	Token   string
	Claims  *Claims
	Profile Profile
	TTL     time.Duration
}

// NewTestCredential builds a credential whose scope grants serviceName. An
// empty token generates a random one.
func NewTestCredential(serviceName, token string, ttl time.Duration) TestCredential {
	if token == "" {
		token = "TEST" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	now := time.Now()
	subject := "test-" + serviceName
	return TestCredential{
		Token: token,
		Claims: &Claims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
			Scope:     NewScope("openid", "profile", serviceName),
		},
		Profile: Profile{
			"sub":          subject,
			"name":         "Test User",
			"roles":        []any{},
			"entitlements": []any{},
		},
		TTL: ttl,
	}
}

// Option configures a [Gatekeeper].
type Option func(*Gatekeeper)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gatekeeper) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces time.Now for dating the test credential on reset.
func WithClock(now func() time.Time) Option {
	return func(g *Gatekeeper) {
		if now != nil {
			g.now = now
		}
	}
}

// WithPreCheck installs a hook that runs before extraction.
func WithPreCheck(fn PreCheck) Option {
	return func(g *Gatekeeper) {
		if fn != nil {
			g.pre = fn
		}
	}
}

// WithPostCheck installs a hook that decides the final result.
func WithPostCheck(fn PostCheck) Option {
	return func(g *Gatekeeper) {
		if fn != nil {
			g.post = fn
		}
	}
}

// WithProfilePolicy selects the behaviour on profile fetch failure.
func WithProfilePolicy(policy ProfilePolicy) Option {
	return func(g *Gatekeeper) { g.policy = policy }
}

// WithRejectStatus sets the HTTP status used by [HTTPMiddleware].
func WithRejectStatus(status int) Option {
	return func(g *Gatekeeper) { g.rejectStatus = status }
}

// WithCacheReset enables the reset-authorization-cache header. Every
// reset reseeds cred. The credential is also seeded at construction.
func WithCacheReset(cred TestCredential) Option {
	return func(g *Gatekeeper) {
		g.allowReset = true
		g.testCred = &cred
	}
}

// Gatekeeper authenticates requests for one service.
type Gatekeeper struct {
	serviceName  string
	validator    *Validator
	resolver     *ProfileResolver
	caches       *Caches
	policy       ProfilePolicy
	allowReset   bool
	mu           sync.Mutex // guards testCred
	testCred     *TestCredential
	now          func() time.Time
	pre          PreCheck
	post         PostCheck
	rejectStatus int
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewGatekeeper assembles a gatekeeper from its stages. validator and
// resolver must use caches' stores.
func NewGatekeeper(serviceName string, validator *Validator, resolver *ProfileResolver, caches *Caches, opts ...Option) (*Gatekeeper, error) {
	if serviceName == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: service name is required")
	}
	if validator == nil || resolver == nil || caches == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration,
			"auth: validator, profile resolver and caches are required")
	}

	g := &Gatekeeper{
		serviceName:  serviceName,
		validator:    validator,
		resolver:     resolver,
		caches:       caches,
		policy:       ProfilePolicyReject,
		pre:          func(context.Context, *Request) {},
		post:         func(_ context.Context, _ *Request, err error) error { return err },
		rejectStatus: http.StatusBadRequest,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.allowReset {
		g.ResetCaches()
	}
	return g, nil
}

// NewFromConfig builds the full pipeline described by cfg: verification
// key, credential cache, validator and profile resolver.
func NewFromConfig(cfg Config, opts ...Option) (*Gatekeeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := LoadVerificationKeyFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	verifier, err := NewJWTVerifier(key, VerifierOptions{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		ClockSkew: cfg.ClockSkew,
	})
	if err != nil {
		return nil, err
	}

	caches, err := NewCaches(cfg.CacheCapacity)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "auth: failed to create credential cache")
	}

	client := cfg.HTTPClient
	if client == nil {
		c, err := NewIdentityProviderClient(cfg.ProfileCAFile)
		if err != nil {
			return nil, err
		}
		client = c
	}
	resolver, err := NewProfileResolver(ResolverConfig{
		URL:        cfg.ProfileURL,
		Timeout:    cfg.ProfileTimeout,
		CacheTTL:   cfg.ProfileCacheTTL,
		HTTPClient: client,
	}, caches.Profiles)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithProfilePolicy(cfg.ProfileFailurePolicy),
		WithRejectStatus(cfg.RejectStatus),
	}
	if cfg.AllowCacheReset {
		base = append(base, WithCacheReset(NewTestCredential(cfg.ServiceName, cfg.TestToken, cfg.TestCredentialTTL)))
	}
	return NewGatekeeper(cfg.ServiceName,
		NewValidator(verifier, caches.Claims, cfg.ClaimsCacheTTL),
		resolver, caches, append(base, opts...)...)
}

// ServiceName returns the scope value required by [Gatekeeper.Authenticate].
func (g *Gatekeeper) ServiceName() string { return g.serviceName }

// TestCredential returns the seeded test credential and true when cache
// reset is enabled. Its claims are dated from the most recent reset.
func (g *Gatekeeper) TestCredential() (TestCredential, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.testCred == nil {
		return TestCredential{}, false
	}
	return *g.testCred, true
}

// ResetCaches empties both credential stores and reseeds the test
// credential, if any, as one atomic step. The reseeded claims are issued
// now and expire after the credential's TTL.
func (g *Gatekeeper) ResetCaches() {
	g.mu.Lock()
	defer g.mu.Unlock()

	var seeds []cache.Seed[*Claims, Profile]
	if g.testCred != nil {
		if g.testCred.Claims != nil {
			now := g.now()
			claims := *g.testCred.Claims
			claims.IssuedAt = now
			claims.ExpiresAt = now.Add(g.testCred.TTL)
			g.testCred.Claims = &claims
		}
		seeds = append(seeds, cache.Seed[*Claims, Profile]{
			Key:     tokenHash(g.testCred.Token),
			Claims:  g.testCred.Claims,
			Profile: g.testCred.Profile,
			TTL:     g.testCred.TTL,
		})
	}
	g.caches.ResetAll(seeds...)
}

// Authenticate runs the pipeline for the gatekeeper's own service name.
func (g *Gatekeeper) Authenticate(ctx context.Context, req *Request) error {
	return g.AuthenticateFor(ctx, req, g.serviceName)
}

// AuthenticateFor runs the pipeline requiring serviceName in the token's
// scope. It returns nil if the request is accepted; otherwise one of the
// MissingAuthorization, TokenInvalid, ScopeDenied or ProfileFetch errors,
// or whatever the post-check returned.
func (g *Gatekeeper) AuthenticateFor(ctx context.Context, req *Request, serviceName string) error {
	ctx, span := startSpan(ctx, g.tracer, "auth.Authenticate", attrService.String(serviceName))
	defer span.End()

	req.Stage = StageStart
	g.pre(ctx, req)

	var err error
	if !req.Validated {
		err = g.run(ctx, req, serviceName)
	}
	err = g.post(ctx, req, err)
	span.SetAttributes(attrStage.String(string(req.Stage)))

	if err != nil {
		req.Validated = false
		req.Token, req.Claims, req.Profile = "", nil, nil
		coded := classifyRejection(err)
		finishSpan(span, coded)
		g.logger.WarnContext(ctx, "auth: request rejected",
			"error", coded,
			"code", coded.Code,
			"stage", req.Stage,
			"service", serviceName,
		)
		return coded
	}

	req.Validated = true
	g.logger.DebugContext(ctx, "auth: request accepted",
		"stage", req.Stage,
		"service", serviceName,
	)
	return nil
}

// run executes EXTRACT_TOKEN -> VALIDATE -> RESOLVE_PROFILE -> ACCEPT and
// returns at the first failure. The stage reached is left in req.Stage.
func (g *Gatekeeper) run(ctx context.Context, req *Request, serviceName string) error {
	if req.Headers != nil && req.Headers.Get(HeaderResetCache) != "" {
		if g.allowReset {
			g.ResetCaches()
			g.logger.InfoContext(ctx, "auth: credential cache reset by request header",
				"service", serviceName,
			)
		} else {
			g.logger.WarnContext(ctx, "auth: ignoring cache reset header, reset is disabled",
				"service", serviceName,
			)
		}
	}

	req.Stage = StageExtractToken
	token, err := ExtractBearerToken(req.Headers)
	if err != nil {
		return err
	}

	req.Stage = StageValidate
	claims, err := g.validator.Validate(ctx, token, serviceName)
	if err != nil {
		return err
	}

	req.Stage = StageResolveProfile
	profile, err := g.resolver.Resolve(ctx, token)
	if err != nil {
		if g.policy != ProfilePolicyDegrade {
			return err
		}
		g.logger.WarnContext(ctx, "auth: accepting request without profile",
			"error", err,
			"service", serviceName,
			"subject", claims.Subject,
		)
		profile = nil
	}

	req.Stage = StageAccept
	req.Token = token
	req.Claims = claims
	req.Profile = profile
	return nil
}

// classifyRejection ensures a rejection carries a platform error code.
// Errors from a custom post-check that are not already coded are treated
// as authorization failures.
func classifyRejection(err error) *sserr.Error {
	if coded, ok := sserr.AsError(err); ok {
		return coded
	}
	return sserr.Wrap(err, sserr.CodeAuthorization, "auth: request rejected")
}
