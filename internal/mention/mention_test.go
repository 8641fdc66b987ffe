package mention

import (
	"context"
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

func TestParseResolvesLocalMentionAndKeepsUnknownVerbatim(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)

	resolver := activitypub.NewResolver(st, 0)
	resolved, err := Parse(context.Background(), st, resolver, "hey @alice and @ghost-user, check this out")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, "alice", resolved[0].Handle)
	require.Equal(t, "alice", resolved[0].User.Username)
}

func TestParseDedupesRepeatedMentions(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateLocalUser(&model.User{Username: "bob", Timezone: "UTC"})
	require.NoError(t, err)

	resolver := activitypub.NewResolver(st, 0)
	resolved, err := Parse(context.Background(), st, resolver, "@bob @bob are you free?")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
}
