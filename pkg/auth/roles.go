package auth

import (
	"context"
	"slices"

	sserr "github.com/StricklySoft/gatekeeper/pkg/errors"
)

// Roles returns the string entries of the profile's "roles" member.
// Non-string entries are skipped; a missing or malformed member yields an
// empty slice.
func (p Profile) Roles() []string {
	switch raw := p["roles"].(type) {
	case []string:
		return slices.Clone(raw)
	case []any:
		roles := make([]string, 0, len(raw))
		for _, entry := range raw {
			if s, ok := entry.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return []string{}
	}
}

// RequireProfileRole returns a [PostCheck] that rejects an accepted request
// unless its profile lists at least one of roles. Requests already rejected
// keep their error; requests accepted by a [PreCheck] without claims pass
// through.
//
// Example:
//
//	gk, err := auth.NewFromConfig(cfg, auth.WithPostCheck(auth.RequireProfileRole("admin", "operator")))
func RequireProfileRole(roles ...string) PostCheck {
	return func(_ context.Context, req *Request, err error) error {
		if err != nil || req.Claims == nil {
			return err
		}
		for _, have := range req.Profile.Roles() {
			if slices.Contains(roles, have) {
				return nil
			}
		}
		return sserr.New(sserr.CodeAuthorization, "auth: profile does not grant a required role").
			WithDetail("required_roles", roles)
	}
}
