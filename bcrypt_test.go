package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := auth.HashPassword("a long enough password")
	require.NoError(t, err)
	assert.NotEqual(t, "a long enough password", hash)

	require.NoError(t, auth.ComparePasswordAndHash("a long enough password", hash))

	err = auth.ComparePasswordAndHash("something else", hash)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = auth.HashPassword("")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)
}

func TestComparePasswordAndHash_MalformedHash(t *testing.T) {
	err := auth.ComparePasswordAndHash("password", "not-a-bcrypt-hash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRandomPasswordHash(t *testing.T) {
	first := auth.RandomPasswordHash()
	second := auth.RandomPasswordHash()
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
