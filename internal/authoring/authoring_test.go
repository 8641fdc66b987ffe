package authoring

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/delivery"
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/store"
)

const testBaseURL = "https://gathernet.example"

func newTestAPI(t *testing.T) (*API, *store.Store, chi.Router, func(int64)) {
	t.Helper()
	st, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })

	var viewerID int64
	var viewerSet bool

	a := &API{
		Store:       st,
		Resolver:    activitypub.NewResolver(st, 5*time.Second),
		Delivery:    delivery.NewPipeline(st, 2, nil, 5, time.Second),
		Broadcaster: realtime.NewBroadcaster(),
		BaseURL:     testBaseURL,
		Viewer: func(r *http.Request) (int64, bool) {
			return viewerID, viewerSet
		},
	}

	router := chi.NewRouter()
	a.Routes(router)

	setViewer := func(id int64) { viewerID, viewerSet = id, true }
	return a, st, router, setViewer
}

func createTestUser(t *testing.T, st *store.Store, username string) *model.User {
	t.Helper()
	id, err := st.CreateLocalUser(&model.User{
		Username: username, Timezone: "UTC",
		ActorURL: activitypub.ActorURL(testBaseURL, username),
		InboxURL: activitypub.ActorURL(testBaseURL, username) + "/inbox",
	})
	require.NoError(t, err)
	u, err := st.GetUserByID(id)
	require.NoError(t, err)
	return u
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func doRequest(router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
