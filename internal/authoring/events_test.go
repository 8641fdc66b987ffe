package authoring

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/model"
)

func TestCreateEventValidatesAndDeliversPublicAudience(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	start := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(26 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"Picnic","timezone":"UTC","startTime":"` + start + `","endTime":"` + end + `","visibility":"PUBLIC","tags":["#Outdoors"]}`

	rec := doRequest(router, "POST", "/events", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "Picnic", created.Title)
	require.Equal(t, []string{"outdoors"}, created.Tags)
	require.NotEmpty(t, created.ExternalID)

	tasks, err := st.ListDueDeliveryTasks(10)
	require.NoError(t, err)
	require.Empty(t, tasks) // alice has no followers yet, so nothing to deliver
}

func TestCreateEventDedupsTags(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"Picnic","timezone":"UTC","startTime":"` + start + `","endTime":"` + end + `","visibility":"PUBLIC","tags":["#Music","music","  Music  "]}`

	rec := doRequest(router, "POST", "/events", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, []string{"music"}, created.Tags)
}

func TestCreateEventRejectsOutOfRangeLatitude(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"Picnic","timezone":"UTC","startTime":"` + start + `","endTime":"` + end + `","visibility":"PUBLIC","latitude":90.0001,"longitude":0}`

	rec := doRequest(router, "POST", "/events", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEventAcceptsBoundaryCoordinates(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"Picnic","timezone":"UTC","startTime":"` + start + `","endTime":"` + end + `","visibility":"PUBLIC","latitude":90,"longitude":-180}`

	rec := doRequest(router, "POST", "/events", body)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateEventRejectsInvalidTitle(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"","timezone":"UTC","startTime":"` + start + `","endTime":"` + end + `","visibility":"PUBLIC"}`

	rec := doRequest(router, "POST", "/events", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEventRejectsUnrecognizedTimezone(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"Picnic","timezone":"Not/AZone","startTime":"` + start + `","endTime":"` + end + `","visibility":"PUBLIC"}`

	rec := doRequest(router, "POST", "/events", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateEventRejectsNonOwner(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	eventID, err := st.CreateEvent(&model.Event{
		AuthorID: alice.ID, ExternalID: testBaseURL + "/objects/1", AttributedTo: alice.ActorURL,
		Title: "Original", Timezone: "UTC", StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)

	setViewer(bob.ID)
	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"title":"Hijacked","timezone":"UTC","startTime":"` + start + `","endTime":"` + end + `","visibility":"PUBLIC"}`

	rec := doRequest(router, "PATCH", "/events/"+itoa(eventID), body)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteEventRemovesRowAndEnqueuesDelete(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	setViewer(alice.ID)

	eventID, err := st.CreateEvent(&model.Event{
		AuthorID: alice.ID, ExternalID: testBaseURL + "/objects/2", AttributedTo: alice.ActorURL,
		Title: "Gone Soon", Timezone: "UTC", StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)

	rec := doRequest(router, "DELETE", "/events/"+itoa(eventID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	ev, err := st.GetEvent(eventID)
	require.NoError(t, err)
	require.Nil(t, ev)
}
