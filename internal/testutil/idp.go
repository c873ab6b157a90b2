package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// IdentityProvider is a fake identity provider profile endpoint backed by
// [httptest.Server]. It answers GET requests with the profile registered
// for the request's bearer token, or 401 for unknown tokens.
type IdentityProvider struct {
	Server *httptest.Server

	mu       sync.Mutex
	profiles map[string]map[string]any
	status   int
	body     string
	delay    time.Duration
	calls    atomic.Int64
}

// NewIdentityProvider starts a fake identity provider that is closed when
// the test finishes.
func NewIdentityProvider(t testing.TB) *IdentityProvider {
	t.Helper()
	idp := &IdentityProvider{profiles: make(map[string]map[string]any)}
	idp.Server = httptest.NewServer(http.HandlerFunc(idp.serve))
	t.Cleanup(idp.Server.Close)
	return idp
}

// URL returns the profile endpoint.
func (p *IdentityProvider) URL() string { return p.Server.URL + "/me" }

// SetProfile registers the profile returned for token.
func (p *IdentityProvider) SetProfile(token string, profile map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[token] = profile
}

// FailWith makes every request answer status with body. A zero status
// restores normal behaviour.
func (p *IdentityProvider) FailWith(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status, p.body = status, body
}

// SetDelay makes every request wait d before answering.
func (p *IdentityProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Calls returns the number of requests served.
func (p *IdentityProvider) Calls() int64 { return p.calls.Load() }

func (p *IdentityProvider) serve(w http.ResponseWriter, r *http.Request) {
	p.calls.Add(1)

	p.mu.Lock()
	status, body, delay := p.status, p.body, p.delay
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	profile, ok := p.profiles[token]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}
	if r.Method != http.MethodGet || !ok {
		http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(profile)
}
