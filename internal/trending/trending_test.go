package trending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClampWindowAndLimit(t *testing.T) {
	require.Equal(t, 7, ClampWindow(0, 7))
	require.Equal(t, 30, ClampWindow(1000, 7))
	require.Equal(t, 1, ClampWindow(-5, 7))

	require.Equal(t, 10, ClampLimit(-1, 10), "absent limit falls back to the default")
	require.Equal(t, 0, ClampLimit(0, 10), "explicit zero limit means return nothing")
	require.Equal(t, 50, ClampLimit(1000, 10))
	require.Equal(t, 2, ClampLimit(2, 10))
}

func TestComputeDropsZeroEngagementAndOrdersByScore(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	authorID, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)

	popular, err := st.CreateEvent(&model.Event{
		AuthorID: authorID, AttributedTo: "https://gathernet.example/users/alice", Title: "Popular",
		Timezone: "UTC", StartTime: now, EndTime: now.Add(time.Hour), Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	quiet, err := st.CreateEvent(&model.Event{
		AuthorID: authorID, AttributedTo: "https://gathernet.example/users/alice", Title: "Quiet",
		Timezone: "UTC", StartTime: now, EndTime: now.Add(time.Hour), Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)

	bobID, err := st.CreateLocalUser(&model.User{Username: "bob", Timezone: "UTC"})
	require.NoError(t, err)
	require.NoError(t, st.AddLike(&model.Like{EventID: popular, UserID: bobID}))
	require.NoError(t, st.SetAttendance(&model.Attendance{EventID: popular, UserID: bobID, Status: model.AttendanceAttending}))

	results, err := Compute(st, now, 7, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1, "quiet event with zero engagement must be dropped")
	require.Equal(t, popular, results[0].Event.ID)
	_ = quiet
}

func TestComputeDecaysOlderEvents(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	authorID, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)
	bobID, err := st.CreateLocalUser(&model.User{Username: "bob", Timezone: "UTC"})
	require.NoError(t, err)

	recent, err := st.CreateEvent(&model.Event{
		AuthorID: authorID, AttributedTo: "https://gathernet.example/users/alice", Title: "Recent",
		Timezone: "UTC", StartTime: now, EndTime: now.Add(time.Hour), Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	old, err := st.CreateEvent(&model.Event{
		AuthorID: authorID, AttributedTo: "https://gathernet.example/users/alice", Title: "Old",
		Timezone: "UTC", StartTime: now.AddDate(0, 0, -6), EndTime: now.AddDate(0, 0, -6).Add(time.Hour), Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	require.NoError(t, st.AddLike(&model.Like{EventID: recent, UserID: bobID}))
	require.NoError(t, st.AddLike(&model.Like{EventID: old, UserID: bobID}))

	results, err := Compute(st, now, 7, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, recent, results[0].Event.ID, "less-decayed recent event should rank first given equal raw engagement")
}
