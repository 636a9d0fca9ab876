// Package auth checks presented bearer credentials and decides which roles may see
// fleet-wide positions. Minting credentials is not this package's job.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"fleetlive.io/internal/appconf"
	"fleetlive.io/internal/models"
)

var (
	ErrMissingToken = errors.New("missing credential")
	ErrInvalidToken = errors.New("invalid credential")
	ErrUnknownRole  = errors.New("unknown role")
)

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

type staticEntry struct {
	token    string
	identity models.Identity
}

// StaticVerifier checks tokens against a fixed table loaded from configuration.
type StaticVerifier struct {
	entries []staticEntry
}

// NewStaticVerifier builds a verifier from configured tokens. Legacy role names are
// normalized here so the rest of the system only sees canonical roles.
func NewStaticVerifier(tokens []appconf.TokenConfig) (*StaticVerifier, error) {
	v := &StaticVerifier{entries: make([]staticEntry, 0, len(tokens))}
	for _, t := range tokens {
		role, err := ParseRole(t.Role)
		if err != nil {
			return nil, fmt.Errorf("token for subject %s: %w", t.Subject, err)
		}
		v.entries = append(v.entries, staticEntry{
			token:    t.Token,
			identity: models.Identity{SubjectID: t.Subject, Role: role},
		})
	}
	return v, nil
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrMissingToken
	}
	for _, e := range v.entries {
		if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) == 1 {
			return e.identity, nil
		}
	}
	return models.Identity{}, ErrInvalidToken
}

// ParseRole maps a role name, including the legacy vocabularies, to a canonical role.
func ParseRole(s string) (models.Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "superadmin":
		return models.RoleAdmin, nil
	case "operator", "operateur", "user":
		return models.RoleOperator, nil
	case "driver", "chauffeur":
		return models.RoleDriver, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// CanViewFleet reports whether role is entitled to fleet-wide position visibility.
func CanViewFleet(role models.Role) bool {
	switch role {
	case models.RoleAdmin, models.RoleOperator:
		return true
	default:
		return false
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
