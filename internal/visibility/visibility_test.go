package visibility

import (
	"testing"

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

func TestCanViewPrivateEventLeaksNothing(t *testing.T) {
	st := newTestStore(t)
	aliceID, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)
	eid, err := st.CreateEvent(&model.Event{
		AuthorID: aliceID, AttributedTo: "https://gathernet.example/users/alice", Title: "Secret",
		Timezone: "UTC", Visibility: model.VisibilityPrivate,
	})
	require.NoError(t, err)
	require.NoError(t, st.SetEventRecipients(eid, []string{"https://gathernet.example/users/carol"}))

	event, err := st.GetEvent(eid)
	require.NoError(t, err)

	ok, err := CanView(st, event, nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = CanView(st, event, &Viewer{UserID: 999, ActorURL: "https://gathernet.example/users/bob"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = CanView(st, event, &Viewer{UserID: 1000, ActorURL: "https://gathernet.example/users/carol"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = CanView(st, event, &Viewer{UserID: aliceID, ActorURL: "https://gathernet.example/users/alice"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanViewFollowersRequiresAcceptedFollow(t *testing.T) {
	st := newTestStore(t)
	aliceID, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)
	eid, err := st.CreateEvent(&model.Event{
		AuthorID: aliceID, AttributedTo: "https://gathernet.example/users/alice", Title: "Followers only",
		Timezone: "UTC", Visibility: model.VisibilityFollowers,
	})
	require.NoError(t, err)
	event, err := st.GetEvent(eid)
	require.NoError(t, err)

	viewer := &Viewer{UserID: 42, ActorURL: "https://remote.example/users/bob"}
	ok, err := CanView(st, event, viewer)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.AddFollower(aliceID, viewer.ActorURL, "https://remote.example/users/bob/inbox"))
	ok, err = CanView(st, event, viewer)
	require.NoError(t, err)
	require.False(t, ok, "unaccepted follow must not grant visibility")

	require.NoError(t, st.AcceptFollower(aliceID, viewer.ActorURL))
	ok, err = CanView(st, event, viewer)
	require.NoError(t, err)
	require.True(t, ok)
}
