package authoring

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFollowLocalUserPersistsFollowing(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	setViewer(alice.ID)

	rec := doRequest(router, "POST", "/follow", `{"target":"bob"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	following, err := st.GetFollowing(alice.ID, bob.ActorURL)
	require.NoError(t, err)
	require.NotNil(t, following)
}

func TestFollowSelfRejected(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	rec := doRequest(router, "POST", "/follow", `{"target":"alice"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnfollowRemovesFollowingRow(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	require.NoError(t, st.AddFollowing(alice.ID, bob.ActorURL, bob.Username, bob.InboxURL))

	setViewer(alice.ID)
	rec := doRequest(router, "POST", "/unfollow", `{"target":"bob"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	following, err := st.GetFollowing(alice.ID, bob.ActorURL)
	require.NoError(t, err)
	require.Nil(t, following)
}
