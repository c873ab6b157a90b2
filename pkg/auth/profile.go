package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/StricklySoft/gatekeeper/pkg/cache"
	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// maxProfileSize caps the identity provider response body.
const maxProfileSize = 1 << 20

// Profile is the user profile document returned by the identity provider.
// Its shape is provider-defined. Profiles are cached and shared between
// requests and must be treated as read-only.
type Profile map[string]any

// Subject returns the profile's "sub" member, or "" if absent.
func (p Profile) Subject() string {
	s, _ := p["sub"].(string)
	return s
}

// HTTPClient abstracts the HTTP client used to call the identity
// provider. The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ResolverConfig configures a [ProfileResolver].
type ResolverConfig struct {
	// URL is the identity provider's profile ("/me") endpoint.
	URL string

	// Timeout bounds a single profile fetch. Defaults to 10s.
	Timeout time.Duration

	// CacheTTL is how long a fetched profile is served from cache.
	CacheTTL time.Duration

	// HTTPClient performs the fetch. Defaults to an [http.Client].
	HTTPClient HTTPClient
}

// ProfileResolver is the profile resolution stage.
type ProfileResolver struct {
	url      string
	timeout  time.Duration
	cacheTTL time.Duration
	client   HTTPClient
	profiles *cache.Store[Profile]
	group    singleflight.Group
	tracer   trace.Tracer
}

// NewProfileResolver creates a resolver that caches fetched profiles in
// profiles.
func NewProfileResolver(cfg ResolverConfig, profiles *cache.Store[Profile]) (*ProfileResolver, error) {
	if cfg.URL == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: profile URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &ProfileResolver{
		url:      cfg.URL,
		timeout:  cfg.Timeout,
		cacheTTL: cfg.CacheTTL,
		client:   cfg.HTTPClient,
		profiles: profiles,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Resolve returns the profile for token, from cache or from the identity
// provider. Concurrent misses for the same token share one fetch.
func (r *ProfileResolver) Resolve(ctx context.Context, token string) (Profile, error) {
	ctx, span := startSpan(ctx, r.tracer, "auth.ResolveProfile")
	defer span.End()

	key := tokenHash(token)
	gen := r.profiles.Generation()
	if profile, ok := r.profiles.Get(key); ok {
		span.SetAttributes(attrCacheHit.Bool(true))
		return profile, nil
	}
	span.SetAttributes(attrCacheHit.Bool(false))

	// Callers on either side of a cache reset never share a fetch.
	ch := r.group.DoChan(key+"\x00"+strconv.FormatUint(gen, 10), func() (any, error) {
		// The fetch is shared, so one caller's cancellation must not fail
		// the others. The timeout still bounds it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		profile, err := r.fetch(fetchCtx, token)
		if err != nil {
			return nil, err
		}
		r.profiles.SetIfGeneration(key, profile, r.cacheTTL, gen)
		return profile, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			finishSpan(span, res.Err)
			return nil, res.Err
		}
		return res.Val.(Profile), nil
	case <-ctx.Done():
		err := sserr.Wrap(ctx.Err(), sserr.CodeProfileFetch, "auth: profile lookup abandoned by caller")
		finishSpan(span, err)
		return nil, err
	}
}

func (r *ProfileResolver) fetch(ctx context.Context, token string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeProfileFetch, "auth: failed to build profile request")
	}
	req.Header.Set("Authorization", bearerScheme+" "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, sserr.Wrapf(err, sserr.CodeTimeoutDependency,
				"auth: profile fetch timed out after %s", r.timeout)
		}
		return nil, sserr.Wrap(err, sserr.CodeProfileFetch, "auth: profile fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, sserr.Newf(sserr.CodeProfileFetch,
			"auth: identity provider returned status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize+1))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, sserr.Wrapf(err, sserr.CodeTimeoutDependency,
				"auth: profile fetch timed out after %s", r.timeout)
		}
		return nil, sserr.Wrap(err, sserr.CodeProfileFetch, "auth: failed to read profile response")
	}
	if len(body) > maxProfileSize {
		return nil, sserr.Newf(sserr.CodeProfileFetch,
			"auth: profile response exceeds %d bytes", maxProfileSize)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeProfileFetch, "auth: profile response is not valid JSON")
	}
	if profile == nil {
		return nil, sserr.New(sserr.CodeProfileFetch, "auth: profile response is not a JSON object")
	}
	return profile, nil
}

// NewIdentityProviderClient returns an HTTP client for the identity
// provider that trusts the PEM certificates in caFile in addition to the
// system roots. An empty caFile returns a client with default TLS.
func NewIdentityProviderClient(caFile string) (*http.Client, error) {
	if caFile == "" {
		return &http.Client{}, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"auth: failed to read identity provider CA file %q", caFile)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"auth: no PEM certificates found in %q", caFile)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	return &http.Client{Transport: transport}, nil
}
