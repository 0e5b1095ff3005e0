package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	token, err := GenerateToken(42, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyExpiredToken(t *testing.T) {
	token, err := generateTokenWithTTL(42, "alice", -time.Minute)
	require.NoError(t, err)

	_, err = VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyTamperedToken(t *testing.T) {
	token, err := GenerateToken(42, "alice")
	require.NoError(t, err)

	_, err = VerifyToken(token + "x")
	assert.Error(t, err)
}

func TestVerifyGarbageToken(t *testing.T) {
	_, err := VerifyToken("not-a-token")
	assert.Error(t, err)
}
