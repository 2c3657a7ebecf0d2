package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/werkstattwaedi/machine-auth-sub000/errs"
	"github.com/werkstattwaedi/machine-auth-sub000/session"
)

func TestGetSessionForTokenMiss(t *testing.T) {
	sessions := session.NewSessions()
	_, ok := sessions.GetSessionForToken([7]byte{1})
	assert.False(t, ok)
}

func TestRegisterThenGetRoundTrips(t *testing.T) {
	sessions := session.NewSessions()
	s := session.NewTokenSession("auth-1", [7]byte{1, 2, 3}, time.Now().Add(time.Hour), "user-1", "Ada", nil)

	require.NoError(t, sessions.RegisterSession(s))

	got, ok := sessions.GetSessionForToken([7]byte{1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, s, got)
}

// TestRegisterSessionCollisionFails confirms the Open Question decision
// recorded in SPEC_FULL.md: re-registering a TokenID that's already
// present is a hard error, not a silent keep-the-old-session no-op.
func TestRegisterSessionCollisionFails(t *testing.T) {
	sessions := session.NewSessions()
	first := session.NewTokenSession("auth-1", [7]byte{1}, time.Now().Add(time.Hour), "user-1", "Ada", nil)
	second := session.NewTokenSession("auth-2", [7]byte{1}, time.Now().Add(time.Hour), "user-2", "Bob", nil)

	require.NoError(t, sessions.RegisterSession(first))
	err := sessions.RegisterSession(second)
	require.Error(t, err)
	assert.Equal(t, errs.WrongState, errs.KindOf(err))

	got, ok := sessions.GetSessionForToken([7]byte{1})
	require.True(t, ok)
	assert.Equal(t, "Ada", got.UserLabel, "the original session must survive a rejected collision")
}

func TestRemoveSession(t *testing.T) {
	sessions := session.NewSessions()
	s := session.NewTokenSession("auth-1", [7]byte{9}, time.Now().Add(time.Hour), "user-1", "Ada", nil)
	require.NoError(t, sessions.RegisterSession(s))

	sessions.RemoveSession([7]byte{9})
	_, ok := sessions.GetSessionForToken([7]byte{9})
	assert.False(t, ok)

	sessions.RemoveSession([7]byte{9}) // removing again is not an error
}
