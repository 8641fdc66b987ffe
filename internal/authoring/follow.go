package authoring

import (
	"context"
	"net/http"
	"strings"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/apperr"
	"github.com/klppl/gathernet/internal/model"
)

type followInput struct {
	// Target is either a bare local username, a "user@host" handle, or a
	// full actor URL.
	Target string `json:"target"`
}

// resolveTarget turns a followInput.Target into the user it names, chosen by
// the target's form: an http(s) URL is resolved as an actor URL, a
// "user@host" handle via WebFinger, and anything else as a local username.
func (a *API) resolveTarget(ctx context.Context, target string) (*model.User, error) {
	target = strings.TrimPrefix(strings.TrimSpace(target), "@")
	if target == "" {
		return nil, nil
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return a.Resolver.Resolve(ctx, target)
	}
	if strings.Contains(target, "@") {
		return a.Resolver.ResolveHandle(ctx, target)
	}
	return a.Store.GetUserByUsername(target)
}

// HandleFollow handles POST /follow: the viewer follows another user, local
// or remote.
func (a *API) HandleFollow(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	var in followInput
	if err := decodeJSON(r, &in); err != nil {
		apperr.WriteHTTP(w, apperr.ValidationErr("body", "invalid JSON"))
		return
	}
	target, err := a.resolveTarget(r.Context(), in.Target)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if target == nil {
		apperr.WriteHTTP(w, apperr.NotFoundErr("target user not found"))
		return
	}
	viewer, err := a.Store.GetUserByID(viewerID)
	if err != nil || viewer == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if target.ID == viewer.ID {
		apperr.WriteHTTP(w, apperr.ValidationErr("target", "cannot follow yourself"))
		return
	}

	if err := a.Store.AddFollowing(viewer.ID, target.ActorURL, target.Username, target.InboxURL); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	activity := activitypub.BuildFollow(a.BaseURL, viewer.ActorURL, target.ActorURL)
	if err := a.Delivery.Enqueue(viewer.ID, viewer.ActorURL, activity, []string{target.ActorURL}, nil, nil); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	writeJSON(w, map[string]string{"status": "requested"}, http.StatusAccepted)
}

// HandleUnfollow handles POST /unfollow.
func (a *API) HandleUnfollow(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	var in followInput
	if err := decodeJSON(r, &in); err != nil {
		apperr.WriteHTTP(w, apperr.ValidationErr("body", "invalid JSON"))
		return
	}
	target, err := a.resolveTarget(r.Context(), in.Target)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if target == nil {
		apperr.WriteHTTP(w, apperr.NotFoundErr("target user not found"))
		return
	}
	viewer, err := a.Store.GetUserByID(viewerID)
	if err != nil || viewer == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	if err := a.Store.RemoveFollowing(viewer.ID, target.ActorURL); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	followActivity := map[string]interface{}{"type": "Follow", "actor": viewer.ActorURL, "object": target.ActorURL}
	activity := activitypub.BuildUndo(a.BaseURL, viewer.ActorURL, followActivity, activitypub.Addressing{To: []string{target.ActorURL}})
	if err := a.Delivery.Enqueue(viewer.ID, viewer.ActorURL, activity, []string{target.ActorURL}, nil, nil); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
