// Package auth implements the identity and membership collaborators the
// session layer consumes: bearer-token authentication and channel-membership
// lookups.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/talkio/pttd/internal/core"
	"github.com/talkio/pttd/internal/domain"
)

// Identity validates a bearer credential and yields the principal behind it.
type Identity interface {
	Authenticate(ctx context.Context, token string) (domain.Principal, error)
}

// JWTIdentity verifies HS256 tokens carrying the user in `sub` and the
// organization in `org`.
type JWTIdentity struct {
	secret []byte
}

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret)}
}

func (j *JWTIdentity) Authenticate(_ context.Context, token string) (domain.Principal, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %w", core.ErrAuth, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, fmt.Errorf("%w: unexpected claims type", core.ErrAuth)
	}
	sub, _ := claims["sub"].(string)
	org, _ := claims["org"].(string)
	if sub == "" || org == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing sub or org claim", core.ErrAuth)
	}
	return domain.Principal{UserID: domain.UserID(sub), OrgID: domain.OrgID(org)}, nil
}

// Mint signs a token for principal, used by tooling and tests.
func (j *JWTIdentity) Mint(p domain.Principal) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": string(p.UserID),
		"org": string(p.OrgID),
	})
	return token.SignedString(j.secret)
}
