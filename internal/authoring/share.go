package authoring

import (
	"net/http"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/apperr"
	"github.com/klppl/gathernet/internal/model"
)

// HandleShareEvent handles POST /events/{id}/share (Announce). Only
// PUBLIC events may be shared, and a given user may have at most one
// outstanding share per original event.
func (a *API) HandleShareEvent(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	originalID, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	original, err := a.Store.GetEvent(originalID)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if original == nil {
		apperr.WriteHTTP(w, apperr.NotFoundErr("event not found"))
		return
	}
	if original.Visibility != model.VisibilityPublic {
		apperr.WriteHTTP(w, apperr.ForbiddenErr("only PUBLIC events may be shared"))
		return
	}

	existing, err := a.Store.GetShareByAuthorAndOriginal(viewerID, originalID)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if existing != nil {
		apperr.WriteHTTP(w, apperr.ConflictErr("you have already shared this event"))
		return
	}

	sharer, err := a.Store.GetUserByID(viewerID)
	if err != nil || sharer == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	sharedID := original.ID
	share := &model.Event{
		AuthorID:      viewerID,
		ExternalID:    activitypub.NewObjectID(a.BaseURL),
		AttributedTo:  sharer.ActorURL,
		Title:         original.Title,
		Summary:       original.Summary,
		Location:      original.Location,
		Geo:           original.Geo,
		Timezone:      original.Timezone,
		StartTime:     original.StartTime,
		EndTime:       original.EndTime,
		Visibility:    model.VisibilityPublic,
		SharedEventID: &sharedID,
	}
	id, err := a.Store.CreateEvent(share)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	share.ID = id

	followersURL := activitypub.FollowersURL(a.BaseURL, sharer.Username)
	addr := activitypub.AddressFor(model.VisibilityPublic, followersURL, nil)
	activity := activitypub.BuildAnnounce(a.BaseURL, sharer.ActorURL, original.ExternalID, addr)
	if err := a.Delivery.Enqueue(sharer.ID, sharer.ActorURL, activity, addr.To, addr.CC, nil); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	a.broadcast(model.BroadcastEventShared, nil, share)
	writeJSON(w, share, http.StatusCreated)
}
