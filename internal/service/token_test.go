package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndParse(t *testing.T) {
	m := NewTokenManager("test-secret-that-is-long-enough-for-hs256")

	token, err := m.Issue(" Alice ", time.Hour)
	require.NoError(t, err)

	address, err := m.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, alice, address)
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager("test-secret-that-is-long-enough-for-hs256")
	clock := newFakeClock()
	m.now = clock.Now

	token, err := m.Issue(alice, time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.ParseAccess(token)
	assert.Error(t, err)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	token, err := NewTokenManager("first-secret-first-secret-first-secret").Issue(alice, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenManager("other-secret-other-secret-other-secret").ParseAccess(token)
	assert.Error(t, err)
}

func TestTokenManager_Garbage(t *testing.T) {
	m := NewTokenManager("test-secret-that-is-long-enough-for-hs256")

	_, err := m.ParseAccess("not-a-jwt")
	assert.Error(t, err)

	_, err = m.Issue("   ", time.Hour)
	assert.Error(t, err)
}
