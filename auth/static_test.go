package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTokenAuthenticator_AddAndAuthenticate(t *testing.T) {
	a := NewStaticTokenAuthenticator()
	a.Add("good-token")

	ok, err := a.AuthenticateFromToken(context.Background(), "good-token")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStaticTokenAuthenticator_RejectsUnknownToken(t *testing.T) {
	a := NewStaticTokenAuthenticator()
	a.Add("good-token")

	ok, err := a.AuthenticateFromToken(context.Background(), "bad-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticTokenAuthenticator_RejectsEmptyAllowList(t *testing.T) {
	a := NewStaticTokenAuthenticator()

	ok, err := a.AuthenticateFromToken(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticTokenAuthenticator_Remove(t *testing.T) {
	a := NewStaticTokenAuthenticator()
	a.Add("good-token")
	require.True(t, a.Has("good-token"))

	a.Remove("good-token")
	assert.False(t, a.Has("good-token"))

	ok, err := a.AuthenticateFromToken(context.Background(), "good-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticTokenAuthenticator_Count(t *testing.T) {
	a := NewStaticTokenAuthenticator()
	assert.Equal(t, 0, a.Count())

	a.Add("t1")
	a.Add("t2")
	assert.Equal(t, 2, a.Count())

	a.Add("t1")
	assert.Equal(t, 2, a.Count(), "adding a duplicate token must not grow the allow-list")
}
