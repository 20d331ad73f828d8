package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager(TokenConfig{Secret: []byte("secret")})

	token, err := m.GenerateAccessToken(Identity{UserID: "t1", DisplayName: "Ms T", Role: RoleTeacher, PIN: "123456"})
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.UserID)
	assert.Equal(t, RoleTeacher, claims.Role)
	assert.Equal(t, "123456", claims.PIN)
}

func TestValidateRejects(t *testing.T) {
	m := NewManager(TokenConfig{Secret: []byte("secret")})
	other := NewManager(TokenConfig{Secret: []byte("other")})
	expired := NewManager(TokenConfig{Secret: []byte("secret"), AccessTTL: -time.Minute})

	forged, err := other.GenerateAccessToken(Identity{UserID: "s1", Role: RoleStudent})
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	old, err := expired.GenerateAccessToken(Identity{UserID: "s1", Role: RoleStudent})
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	admin, err := m.GenerateAccessToken(Identity{UserID: "a1", Role: "admin"})
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(admin)
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = m.ValidateAccessToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
