package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkio/pttd/internal/core"
	"github.com/talkio/pttd/internal/domain"
)

func TestJWTIdentityRoundTrip(t *testing.T) {
	id := NewJWTIdentity("test-secret")
	want := domain.Principal{UserID: "u-42", OrgID: "acme"}

	token, err := id.Mint(want)
	require.NoError(t, err)

	got, err := id.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJWTIdentityRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTIdentity("secret-a").Mint(domain.Principal{UserID: "u", OrgID: "o"})
	require.NoError(t, err)

	_, err = NewJWTIdentity("secret-b").Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, core.ErrAuth)
}

func TestJWTIdentityRejectsGarbage(t *testing.T) {
	_, err := NewJWTIdentity("secret").Authenticate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, core.ErrAuth)
}

func TestJWTIdentityRejectsMissingClaims(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTIdentity("secret").Authenticate(context.Background(), signed)
	assert.ErrorIs(t, err, core.ErrAuth)
}

func TestJWTIdentityRejectsUnsignedAlg(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u-1", "org": "o"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTIdentity("secret").Authenticate(context.Background(), signed)
	assert.ErrorIs(t, err, core.ErrAuth)
}
