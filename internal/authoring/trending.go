package authoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/trending"
	"github.com/klppl/gathernet/internal/visibility"
)

// HandleTrending serves the time-decayed engagement ranking over the
// requested window, restricted to events the requesting viewer (or the
// anonymous public, if unauthenticated) is allowed to list. Shares never
// appear: the candidate set trending.Compute draws from is events only.
func (a *API) HandleTrending(w http.ResponseWriter, r *http.Request) {
	window := trending.ClampWindow(queryInt(r, "window", 0), a.defaultWindow())

	limit := -1 // absent by default; ClampLimit treats negative as "use default"
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, map[string]string{"error": "limit must be an integer"}, http.StatusBadRequest)
			return
		}
		limit = n
	}
	limit = trending.ClampLimit(limit, a.defaultLimit())

	viewer, err := a.currentViewerForListing(r)
	if err != nil {
		writeJSON(w, map[string]string{"error": "internal error"}, http.StatusInternalServerError)
		return
	}

	filter, err := visibility.ListableWhere(a.Store, viewer)
	if err != nil {
		writeJSON(w, map[string]string{"error": "internal error"}, http.StatusInternalServerError)
		return
	}

	visible := func(e *model.Event) bool {
		return filter.Matches(e, func(ev *model.Event) bool {
			ok, err := visibility.CanView(a.Store, ev, viewer)
			return err == nil && ok
		})
	}

	results, err := trending.Compute(a.Store, time.Now(), window, limit, visible)
	if err != nil {
		writeJSON(w, map[string]string{"error": "internal error"}, http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []trending.Scored{}
	}
	writeJSON(w, results, http.StatusOK)
}

func (a *API) defaultWindow() int {
	if a.TrendingDefaultWindow <= 0 {
		return 7
	}
	return a.TrendingDefaultWindow
}

func (a *API) defaultLimit() int {
	if a.TrendingDefaultLimit <= 0 {
		return 10
	}
	return a.TrendingDefaultLimit
}

// currentViewerForListing resolves the optional authenticated viewer into a
// *visibility.Viewer, or nil for an anonymous caller. Unlike requireViewer,
// an anonymous request is not an error here — trending is open to the public.
func (a *API) currentViewerForListing(r *http.Request) (*visibility.Viewer, error) {
	if a.Viewer == nil {
		return nil, nil
	}
	id, ok := a.Viewer(r)
	if !ok {
		return nil, nil
	}
	u, err := a.Store.GetUserByID(id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	actorURL := u.ActorURL
	if u.IsLocal() {
		actorURL = activitypub.ActorURL(a.BaseURL, u.Username)
	}
	return &visibility.Viewer{UserID: u.ID, ActorURL: actorURL}, nil
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
