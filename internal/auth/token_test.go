package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	p := NewTokenParser("test-secret")

	token, err := p.SignUserID("u123")
	require.NoError(t, err)

	userID, err := p.ParseUserID(token)
	require.NoError(t, err)
	assert.Equal(t, "u123", userID)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewTokenParser("secret-a").SignUserID("u123")
	require.NoError(t, err)

	_, err = NewTokenParser("secret-b").ParseUserID(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenGarbage(t *testing.T) {
	p := NewTokenParser("test-secret")

	_, err := p.ParseUserID("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenMissingUserClaim(t *testing.T) {
	p := NewTokenParser("test-secret")

	token, err := p.SignUserID("")
	require.NoError(t, err)

	_, err = p.ParseUserID(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
