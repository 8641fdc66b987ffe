package inbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/delivery"
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/store"
)

const testBaseURL = "https://gathernet.example"

func newTestProcessor(t *testing.T) (*Processor, *store.Store) {
	t.Helper()
	st, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	return &Processor{
		Store:       st,
		Resolver:    activitypub.NewResolver(st, 5*time.Second),
		Delivery:    delivery.NewPipeline(st, 2, nil, 5, time.Second),
		Broadcaster: realtime.NewBroadcaster(),
		BaseURL:     testBaseURL,
		AutoAccept:  true,
	}, st
}

func rawActivity(t *testing.T, m map[string]interface{}) *activitypub.IncomingActivity {
	t.Helper()
	body, err := json.Marshal(m)
	require.NoError(t, err)
	act, err := activitypub.ParseIncoming(body)
	require.NoError(t, err)
	return act
}

func TestHandleFollowAutoAcceptsAndRepliesAccept(t *testing.T) {
	p, st := newTestProcessor(t)
	uid, err := st.CreateLocalUser(&model.User{
		Username: "alice", Timezone: "UTC",
		ActorURL: activitypub.ActorURL(testBaseURL, "alice"),
		InboxURL: activitypub.ActorURL(testBaseURL, "alice") + "/inbox",
	})
	require.NoError(t, err)
	author, err := st.GetUserByID(uid)
	require.NoError(t, err)

	_, err = st.UpsertRemoteUser(&model.User{
		ActorURL: "https://remote.example/users/bob", Username: "bob",
		InboxURL: "https://remote.example/users/bob/inbox",
	})
	require.NoError(t, err)

	act := rawActivity(t, map[string]interface{}{
		"id": "https://remote.example/activities/1", "type": "Follow",
		"actor": "https://remote.example/users/bob", "object": author.ActorURL,
	})
	require.NoError(t, p.dispatch(context.Background(), act))

	ok, err := st.IsFollower(author.ID, "https://remote.example/users/bob")
	require.NoError(t, err)
	require.True(t, ok)

	tasks, err := st.ListDueDeliveryTasks(10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "https://remote.example/users/bob/inbox", tasks[0].InboxURL)
}

func TestHandleLikeThenUndoLikeRemoves(t *testing.T) {
	p, st := newTestProcessor(t)
	uid, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC",
		ActorURL: activitypub.ActorURL(testBaseURL, "alice")})
	require.NoError(t, err)
	eid, err := st.CreateEvent(&model.Event{
		AuthorID: uid, ExternalID: testBaseURL + "/events/1", AttributedTo: activitypub.ActorURL(testBaseURL, "alice"),
		Title: "Picnic", Timezone: "UTC", StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	event, err := st.GetEvent(eid)
	require.NoError(t, err)

	_, err = st.UpsertRemoteUser(&model.User{ActorURL: "https://remote.example/users/bob", Username: "bob", InboxURL: "https://remote.example/users/bob/inbox"})
	require.NoError(t, err)

	like := rawActivity(t, map[string]interface{}{
		"id": "https://remote.example/activities/2", "type": "Like",
		"actor": "https://remote.example/users/bob", "object": event.ExternalID,
	})
	require.NoError(t, p.dispatch(context.Background(), like))

	l, err := st.GetLike(eid, mustUserID(t, st, "https://remote.example/users/bob"))
	require.NoError(t, err)
	require.NotNil(t, l)

	undo := rawActivity(t, map[string]interface{}{
		"id": "https://remote.example/activities/3", "type": "Undo",
		"actor": "https://remote.example/users/bob",
		"object": map[string]interface{}{"type": "Like", "object": event.ExternalID},
	})
	require.NoError(t, p.dispatch(context.Background(), undo))

	l, err = st.GetLike(eid, mustUserID(t, st, "https://remote.example/users/bob"))
	require.NoError(t, err)
	require.Nil(t, l)
}

func mustUserID(t *testing.T, st *store.Store, actorURL string) int64 {
	t.Helper()
	u, err := st.GetUserByActorURL(actorURL)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.ID
}

func TestHandleUpdateEventRejectsAuthorMismatch(t *testing.T) {
	p, st := newTestProcessor(t)
	uid, err := st.UpsertRemoteUser(&model.User{ActorURL: "https://remote.example/users/carol", Username: "carol", InboxURL: "https://remote.example/users/carol/inbox"})
	require.NoError(t, err)
	eid, err := st.CreateEvent(&model.Event{
		AuthorID: uid, ExternalID: "https://remote.example/events/9", AttributedTo: "https://remote.example/users/carol",
		Title: "Original", Timezone: "UTC", StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)

	update := rawActivity(t, map[string]interface{}{
		"id": "https://remote.example/activities/4", "type": "Update",
		"actor": "https://remote.example/users/mallory",
		"object": map[string]interface{}{
			"id": "https://remote.example/events/9", "type": "Event", "attributedTo": "https://remote.example/users/mallory",
			"name": "Hijacked", "startTime": time.Now().Format(time.RFC3339), "endTime": time.Now().Add(time.Hour).Format(time.RFC3339),
		},
	})
	err = p.dispatch(context.Background(), update)
	require.Error(t, err)

	event, err := st.GetEvent(eid)
	require.NoError(t, err)
	require.Equal(t, "Original", event.Title)
}
