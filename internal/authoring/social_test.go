package authoring

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/store"
)

func seedPublicEvent(t *testing.T, st *store.Store, authorID int64, externalID string) int64 {
	t.Helper()
	id, err := st.CreateEvent(&model.Event{
		AuthorID: authorID, ExternalID: externalID, AttributedTo: testBaseURL + "/users/author",
		Title: "Event", Timezone: "UTC", StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	return id
}

func TestLikeThenUnlikeClearsRow(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	eventID := seedPublicEvent(t, st, alice.ID, testBaseURL+"/objects/ev1")

	setViewer(bob.ID)
	rec := doRequest(router, "PUT", "/events/"+itoa(eventID)+"/like", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	like, err := st.GetLike(eventID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, like)

	rec = doRequest(router, "DELETE", "/events/"+itoa(eventID)+"/like", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	like, err = st.GetLike(eventID, bob.ID)
	require.NoError(t, err)
	require.Nil(t, like)
}

func TestSetAttendanceRejectsUnknownStatus(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	eventID := seedPublicEvent(t, st, alice.ID, testBaseURL+"/objects/ev2")
	setViewer(alice.ID)

	rec := doRequest(router, "PUT", "/events/"+itoa(eventID)+"/attendance", `{"status":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetAttendanceAccepted(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	eventID := seedPublicEvent(t, st, alice.ID, testBaseURL+"/objects/ev3")

	setViewer(bob.ID)
	rec := doRequest(router, "PUT", "/events/"+itoa(eventID)+"/attendance", `{"status":"attending"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	att, err := st.GetAttendance(eventID, bob.ID)
	require.NoError(t, err)
	require.Equal(t, model.AttendanceAttending, att.Status)
}

func TestCreateCommentParsesLocalMention(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	eventID := seedPublicEvent(t, st, alice.ID, testBaseURL+"/objects/ev4")

	setViewer(bob.ID)
	rec := doRequest(router, "POST", "/events/"+itoa(eventID)+"/comments", `{"content":"hello @alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	comments, err := st.ListCommentsByEvent(eventID)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	mentions, err := st.MentionsForComment(comments[0].ID)
	require.NoError(t, err)
	require.Equal(t, []int64{alice.ID}, mentions)

	notifications, err := st.ListNotifications(alice.ID, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, model.NotificationMention, notifications[0].Type)
}

func TestDeleteCommentRejectsNonAuthor(t *testing.T) {
	_, st, router, setViewer := newTestAPI(t)
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")
	eventID := seedPublicEvent(t, st, alice.ID, testBaseURL+"/objects/ev5")

	id, err := st.CreateComment(&model.Comment{EventID: eventID, AuthorID: alice.ID, Content: "hi", ExternalID: testBaseURL + "/objects/c1"}, nil)
	require.NoError(t, err)

	setViewer(bob.ID)
	rec := doRequest(router, "DELETE", "/comments/"+itoa(id), "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
