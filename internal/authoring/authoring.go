// Package authoring implements the authoring API: the HTTP handlers that
// turn a local user's create/update/delete/RSVP/like/comment/follow/share
// action into a validated store write, an outbound federated activity, and
// a realtime broadcast.
//
// Session auth, rate limiting, and HTML sanitization are not this
// package's concern; they are injected as hooks (CurrentViewerID,
// Sanitizer) and middleware by whatever mounts API's handlers.
package authoring

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/apperr"
	"github.com/klppl/gathernet/internal/delivery"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/store"
)

// CurrentViewerID resolves the authenticated local user id from an inbound
// request, or ok=false if the request is anonymous. Session/password
// verification lives entirely outside this package.
type CurrentViewerID func(r *http.Request) (int64, bool)

// Sanitizer strips unsafe markup from user-supplied text before it is
// persisted or federated.
type Sanitizer func(string) string

// API is the authoring API.
type API struct {
	Store       *store.Store
	Resolver    *activitypub.Resolver
	Delivery    *delivery.Pipeline
	Broadcaster *realtime.Broadcaster
	BaseURL     string

	// TrendingDefaultWindow and TrendingDefaultLimit fill in window/limit
	// query parameters HandleTrending's caller omits; zero falls back to
	// the trending package's own defaults (7 days, 10 results).
	TrendingDefaultWindow int
	TrendingDefaultLimit  int

	Viewer   CurrentViewerID
	Sanitize Sanitizer
}

// Routes mounts the authoring API onto r. Callers wrap r with whatever
// auth/rate-limit middleware they use before mounting; Routes itself adds
// none.
func (a *API) Routes(r chi.Router) {
	r.Post("/events", a.HandleCreateEvent)
	r.Patch("/events/{id}", a.HandleUpdateEvent)
	r.Delete("/events/{id}", a.HandleDeleteEvent)
	r.Post("/events/{id}/share", a.HandleShareEvent)

	r.Put("/events/{id}/attendance", a.HandleSetAttendance)
	r.Delete("/events/{id}/attendance", a.HandleClearAttendance)

	r.Put("/events/{id}/like", a.HandleLike)
	r.Delete("/events/{id}/like", a.HandleUnlike)

	r.Post("/events/{id}/comments", a.HandleCreateComment)
	r.Delete("/comments/{id}", a.HandleDeleteComment)

	r.Post("/follow", a.HandleFollow)
	r.Post("/unfollow", a.HandleUnfollow)

	r.Get("/trending", a.HandleTrending)
}

func (a *API) sanitize(text string) string {
	if a.Sanitize == nil {
		return text
	}
	return a.Sanitize(text)
}

func (a *API) requireViewer(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if a.Viewer == nil {
		apperr.WriteHTTP(w, apperr.UnauthorizedErr("authentication required"))
		return 0, false
	}
	id, ok := a.Viewer(r)
	if !ok {
		apperr.WriteHTTP(w, apperr.UnauthorizedErr("authentication required"))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func parsePathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, apperr.ValidationErr(name, "must be an integer id")
	}
	return id, nil
}
