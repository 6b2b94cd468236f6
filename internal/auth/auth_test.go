package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("secret", "admin")
	require.NoError(t, err)

	subject, err := ValidateJWT("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)

	_, err = ValidateJWT("wrong-secret", token)
	assert.Error(t, err)

	_, err = ValidateJWT("secret", "not-a-token")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, CheckPasswordHash("hunter2", hash))
	assert.False(t, CheckPasswordHash("hunter3", hash))
}
