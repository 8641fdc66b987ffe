package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/activitypub"
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

func TestExpandCollapsesSharedInboxAndDropsPublic(t *testing.T) {
	st := newTestStore(t)
	authorID, err := st.CreateLocalUser(&model.User{
		Username: "alice", Timezone: "UTC",
		ActorURL: activitypub.ActorURL("https://gathernet.example", "alice"),
		InboxURL: activitypub.ActorURL("https://gathernet.example", "alice") + "/inbox",
	})
	require.NoError(t, err)
	author, err := st.GetUserByID(authorID)
	require.NoError(t, err)

	_, err = st.UpsertRemoteUser(&model.User{
		ActorURL: "https://remote.example/users/bob", Username: "bob",
		InboxURL: "https://remote.example/users/bob/inbox", SharedInboxURL: "https://remote.example/inbox",
	})
	require.NoError(t, err)
	_, err = st.UpsertRemoteUser(&model.User{
		ActorURL: "https://remote.example/users/carol", Username: "carol",
		InboxURL: "https://remote.example/users/carol/inbox", SharedInboxURL: "https://remote.example/inbox",
	})
	require.NoError(t, err)

	inboxes, err := Expand(st, author.ActorURL,
		[]string{activitypub.PublicURI, "https://remote.example/users/bob"},
		[]string{"https://remote.example/users/carol"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"https://remote.example/inbox"}, inboxes)
}

func TestExpandFollowersCollectionFansOutToEachFollowerInbox(t *testing.T) {
	st := newTestStore(t)
	authorID, err := st.CreateLocalUser(&model.User{
		Username: "alice", Timezone: "UTC",
		ActorURL: activitypub.ActorURL("https://gathernet.example", "alice"),
		InboxURL: activitypub.ActorURL("https://gathernet.example", "alice") + "/inbox",
	})
	require.NoError(t, err)
	author, err := st.GetUserByID(authorID)
	require.NoError(t, err)

	require.NoError(t, st.AddFollower(author.ID, "https://remote.example/users/dave", "https://remote.example/users/dave/inbox"))
	require.NoError(t, st.AcceptFollower(author.ID, "https://remote.example/users/dave"))

	inboxes, err := Expand(st, author.ActorURL, []string{author.ActorURL + "/followers"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"https://remote.example/users/dave/inbox"}, inboxes)
}

func TestEnqueuePersistsOneTaskPerInbox(t *testing.T) {
	st := newTestStore(t)
	authorID, err := st.CreateLocalUser(&model.User{
		Username: "alice", Timezone: "UTC",
		ActorURL: activitypub.ActorURL("https://gathernet.example", "alice"),
		InboxURL: activitypub.ActorURL("https://gathernet.example", "alice") + "/inbox",
	})
	require.NoError(t, err)
	author, err := st.GetUserByID(authorID)
	require.NoError(t, err)

	_, err = st.UpsertRemoteUser(&model.User{
		ActorURL: "https://remote.example/users/bob", Username: "bob",
		InboxURL: "https://remote.example/users/bob/inbox",
	})
	require.NoError(t, err)

	p := NewPipeline(st, 4, nil, 5, 0)
	err = p.Enqueue(author.ID, author.ActorURL, map[string]interface{}{"type": "Follow"},
		[]string{"https://remote.example/users/bob"}, nil, nil)
	require.NoError(t, err)

	tasks, err := st.ListDueDeliveryTasks(10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "https://remote.example/users/bob/inbox", tasks[0].InboxURL)
}
