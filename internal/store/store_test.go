package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetEventRoundTrip(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	e := &model.Event{
		AuthorID:     uid,
		AttributedTo: "https://gathernet.example/users/alice",
		Title:        "Board game night",
		Timezone:     "UTC",
		StartTime:    now,
		EndTime:      now.Add(2 * time.Hour),
		Visibility:   model.VisibilityPublic,
		Tags:         []string{"games", "social"},
	}
	id, err := s.CreateEvent(e)
	require.NoError(t, err)

	got, err := s.GetEvent(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Board game night", got.Title)
	require.Equal(t, []string{"games", "social"}, got.Tags)
	require.Equal(t, model.VisibilityPublic, got.Visibility)
}

func TestGetEventMissingReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetEvent(999)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpsertRemoteUserConverges(t *testing.T) {
	s := newTestStore(t)
	u := &model.User{IsRemote: true, Username: "bob@remote.example", ActorURL: "https://remote.example/users/bob", InboxURL: "https://remote.example/users/bob/inbox"}
	id1, err := s.UpsertRemoteUser(u)
	require.NoError(t, err)

	u2 := &model.User{IsRemote: true, Username: "bob@remote.example", ActorURL: "https://remote.example/users/bob", InboxURL: "https://remote.example/users/bob/inbox", DisplayName: "Bob"}
	id2, err := s.UpsertRemoteUser(u2)
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	got, err := s.GetUserByActorURL(u.ActorURL)
	require.NoError(t, err)
	require.Equal(t, "Bob", got.DisplayName)
}

func TestMarkActivityProcessedDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkActivityProcessed("https://gathernet.example/activities/01ABC", 30*24*time.Hour))
	err := s.MarkActivityProcessed("https://gathernet.example/activities/01ABC", 30*24*time.Hour)
	require.Error(t, err)

	processed, err := s.WasActivityProcessed("https://gathernet.example/activities/01ABC")
	require.NoError(t, err)
	require.True(t, processed)
}

func TestClaimDueRemindersIsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.CreateLocalUser(&model.User{Username: "carol", Timezone: "UTC"})
	require.NoError(t, err)
	eid, err := s.CreateEvent(&model.Event{
		AuthorID: uid, AttributedTo: "https://gathernet.example/users/carol", Title: "Standup",
		Timezone: "UTC", StartTime: time.Now().Add(time.Hour), EndTime: time.Now().Add(2 * time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)

	rid, err := s.CreateReminder(&model.Reminder{UserID: uid, EventID: eid, RemindAt: time.Now().Add(-time.Minute), MinutesBeforeStart: 60})
	require.NoError(t, err)

	claimed1, err := s.ClaimDueReminders(10)
	require.NoError(t, err)
	require.Len(t, claimed1, 1)
	require.Equal(t, rid, claimed1[0].ID)

	claimed2, err := s.ClaimDueReminders(10)
	require.NoError(t, err)
	require.Len(t, claimed2, 0)
}

func TestAddLikeIsIdempotentPerPair(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.CreateLocalUser(&model.User{Username: "dana", Timezone: "UTC"})
	require.NoError(t, err)
	eid, err := s.CreateEvent(&model.Event{
		AuthorID: uid, AttributedTo: "https://gathernet.example/users/dana", Title: "Picnic",
		Timezone: "UTC", StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)

	require.NoError(t, s.AddLike(&model.Like{EventID: eid, UserID: uid}))
	require.NoError(t, s.AddLike(&model.Like{EventID: eid, UserID: uid}))

	n, err := s.CountLikes(eid, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNormalizeTag(t *testing.T) {
	music, err := NormalizeTag("#Music")
	require.NoError(t, err)
	require.Equal(t, "music", music)

	trimmed, err := NormalizeTag("  Music  ")
	require.NoError(t, err)
	require.Equal(t, "music", trimmed)

	_, err = NormalizeTag(strings.Repeat("a", 51))
	require.Error(t, err)
}
