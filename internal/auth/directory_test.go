package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkio/pttd/internal/domain"
)

func TestStaticDirectoryMembership(t *testing.T) {
	dir := NewStaticDirectory(map[string]string{
		"dispatch": "acme",
		"yard":     "northside",
	})
	ctx := context.Background()

	ok, err := dir.IsMember(ctx, domain.Principal{UserID: "u", OrgID: "acme"}, "dispatch")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.IsMember(ctx, domain.Principal{UserID: "u", OrgID: "acme"}, "yard")
	require.NoError(t, err)
	assert.False(t, ok, "channel owned by another org")

	ok, err = dir.IsMember(ctx, domain.Principal{UserID: "u", OrgID: "acme"}, "nowhere")
	require.NoError(t, err)
	assert.False(t, ok, "unknown channel")
}

func TestStaticDirectoryHonorsContext(t *testing.T) {
	dir := NewStaticDirectory(map[string]string{"dispatch": "acme"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dir.IsMember(ctx, domain.Principal{UserID: "u", OrgID: "acme"}, "dispatch")
	assert.ErrorIs(t, err, context.Canceled)
}
