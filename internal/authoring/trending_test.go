package authoring

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/trending"
)

func TestHandleTrendingAnonymousSeesOnlyPublic(t *testing.T) {
	_, st, router, _ := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	now := time.Now()
	public, err := st.CreateEvent(&model.Event{
		AuthorID: alice.ID, AttributedTo: alice.ActorURL, Title: "Open Mic",
		Timezone: "UTC", StartTime: now, EndTime: now.Add(time.Hour), Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	private, err := st.CreateEvent(&model.Event{
		AuthorID: alice.ID, AttributedTo: alice.ActorURL, Title: "Inner Circle",
		Timezone: "UTC", StartTime: now, EndTime: now.Add(time.Hour), Visibility: model.VisibilityPrivate,
	})
	require.NoError(t, err)

	require.NoError(t, st.AddLike(&model.Like{EventID: public, UserID: bob.ID}))
	require.NoError(t, st.AddLike(&model.Like{EventID: private, UserID: bob.ID}))

	rec := doRequest(router, "GET", "/trending", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []trending.Scored
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, public, results[0].Event.ID)
}

func TestHandleTrendingExplicitZeroLimitReturnsEmpty(t *testing.T) {
	_, st, router, _ := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	now := time.Now()
	ev, err := st.CreateEvent(&model.Event{
		AuthorID: alice.ID, AttributedTo: alice.ActorURL, Title: "Open Mic",
		Timezone: "UTC", StartTime: now, EndTime: now.Add(time.Hour), Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	require.NoError(t, st.AddLike(&model.Like{EventID: ev, UserID: bob.ID}))

	rec := doRequest(router, "GET", "/trending?limit=0", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []trending.Scored
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Empty(t, results, "explicit limit=0 must return nothing, not the default")
}
