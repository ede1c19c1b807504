package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndValidate(t *testing.T) {
	m := NewTokenManager("test-secret", time.Minute)

	token, err := m.Issue("ops-1", []string{RoleOperator})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", claims.Subject)
	assert.True(t, claims.HasRole(RoleOperator))
	assert.False(t, claims.HasRole("admin"))
}

func TestTokenManager_WrongSecret(t *testing.T) {
	token, err := NewTokenManager("secret-a", time.Minute).Issue("ops-1", nil)
	require.NoError(t, err)

	_, err = NewTokenManager("secret-b", time.Minute).Validate(token)
	assert.Error(t, err)
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager("test-secret", time.Nanosecond)
	token, err := m.Issue("ops-1", []string{RoleOperator})
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = m.Validate(token)
	assert.Error(t, err)
}
