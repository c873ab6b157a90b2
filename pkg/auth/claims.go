package auth

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope is an immutable set of scope values decoded from a token's space
// separated "scope" claim.
type Scope struct {
	values map[string]struct{}
}

// ParseScope splits a space-separated scope string into a set. Repeated
// and empty segments are ignored.
func ParseScope(s string) Scope {
	return NewScope(strings.Fields(s)...)
}

// NewScope builds a set from individual scope values.
func NewScope(values ...string) Scope {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return Scope{values: set}
}

// Has reports whether the set contains value. Matching is exact.
func (s Scope) Has(value string) bool {
	_, ok := s.values[value]
	return ok
}

// Len returns the number of distinct values.
func (s Scope) Len() int { return len(s.values) }

// Values returns the scope values in sorted order.
func (s Scope) Values() []string {
	out := make([]string, 0, len(s.values))
	for v := range s.values {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// String renders the set as a space-separated scope string.
func (s Scope) String() string { return strings.Join(s.Values(), " ") }

// Claims are the verified contents of an access token. Claims are cached
// and shared between requests and must not be modified after validation.
type Claims struct {
	// ID is the "jti" claim, if any.
	ID string

	// Subject is the "sub" claim.
	Subject string

	// Issuer is the "iss" claim.
	Issuer string

	// Audience is the "aud" claim, normalized to a list.
	Audience []string

	// IssuedAt is the "iat" claim. Zero if the token carried none.
	IssuedAt time.Time

	// ExpiresAt is the "exp" claim.
	ExpiresAt time.Time

	// Scope is the decoded "scope" claim.
	Scope Scope
}

// scopeClaim decodes a "scope" claim that is either a space-separated
// string or, as some providers emit it, an array of strings.
type scopeClaim []string

func (s *scopeClaim) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = strings.Fields(str)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scope claim must be a string or an array of strings: %w", err)
	}
	*s = list
	return nil
}

// tokenClaims is the JWT payload shape handed to the parser.
type tokenClaims struct {
	Scope scopeClaim `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// toClaims copies the parsed payload into the immutable [Claims] form.
func (tc *tokenClaims) toClaims() *Claims {
	c := &Claims{
		ID:       tc.ID,
		Subject:  tc.Subject,
		Issuer:   tc.Issuer,
		Audience: slices.Clone([]string(tc.RegisteredClaims.Audience)),
		Scope:    NewScope(tc.Scope...),
	}
	if tc.IssuedAt != nil {
		c.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c
}
