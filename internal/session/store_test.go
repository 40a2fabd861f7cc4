package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/calls"
)

func TestStore_CreateGetDelete(t *testing.T) {
	st := NewStore(0)
	st.Create(Session{ID: "s1", TargetNumber: "+15550001111"})

	s, ok := st.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "+15550001111", s.TargetNumber)
	assert.False(t, s.CreatedAt.IsZero())

	st.Delete("s1")
	_, ok = st.Get("s1")
	assert.False(t, ok)
}

// At-most-once resolution law: the second resolve for a session id loses.
func TestStore_ResolveIsAtMostOnce(t *testing.T) {
	st := NewStore(0)
	st.Create(Session{ID: "s1"})

	s, won := st.Resolve("s1", calls.ResultMustReport, "", "")
	require.True(t, won)
	assert.Equal(t, calls.ResultMustReport, s.Result)

	s2, won := st.Resolve("s1", calls.ResultNoActionNeeded, "", "")
	assert.False(t, won)
	assert.Equal(t, calls.ResultMustReport, s2.Result, "later callback must not overwrite the result")
}

func TestStore_ResolveUnknownSession(t *testing.T) {
	st := NewStore(0)
	_, won := st.Resolve("missing", calls.ResultUnknown, "", "")
	assert.False(t, won)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	st := NewStore(0)
	st.Create(Session{ID: "s1"})
	s, _ := st.Get("s1")
	s.Result = calls.ResultMustReport

	again, _ := st.Get("s1")
	assert.False(t, again.Resolved(), "mutating a returned copy must not touch the store")
}

func TestStore_SetCallStatusNeverSetsResult(t *testing.T) {
	st := NewStore(0)
	st.Create(Session{ID: "s1"})

	s, err := st.SetCallStatus("s1", calls.CallStatusFailed)
	require.NoError(t, err)
	assert.True(t, s.Abandoned)
	assert.False(t, s.Resolved())
}

func TestStore_AppendTranscriptKeepsOrder(t *testing.T) {
	st := NewStore(0)
	st.Create(Session{ID: "s1"})
	require.NoError(t, st.AppendTranscript("s1", "first"))
	require.NoError(t, st.AppendTranscript("s1", "second"))
	require.NoError(t, st.AppendTranscript("s1", ""))

	s, _ := st.Get("s1")
	assert.Equal(t, []string{"first", "second"}, s.Transcripts)

	assert.ErrorIs(t, st.AppendTranscript("missing", "x"), ErrNotFound)
}

func TestStore_SweepExpiresAndReportsUnresolved(t *testing.T) {
	st := NewStore(10 * time.Minute)
	now := time.Unix(1700000000, 0).UTC()
	st.SetClock(func() time.Time { return now })

	st.Create(Session{ID: "old-unresolved"})
	st.Create(Session{ID: "old-resolved"})
	st.Resolve("old-resolved", calls.ResultNoActionNeeded, "", "")

	now = now.Add(11 * time.Minute)
	st.Create(Session{ID: "fresh"})

	var expiredIDs []string
	st.OnExpire = func(s Session) { expiredIDs = append(expiredIDs, s.ID) }

	expired := st.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, "old-unresolved", expired[0].ID)
	assert.Equal(t, []string{"old-unresolved"}, expiredIDs)

	_, ok := st.Get("old-resolved")
	assert.False(t, ok, "resolved sessions past TTL leave the registry too")
	_, ok = st.Get("fresh")
	assert.True(t, ok)
}
