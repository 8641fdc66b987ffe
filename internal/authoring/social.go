package authoring

import (
	"net/http"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/apperr"
	"github.com/klppl/gathernet/internal/mention"
	"github.com/klppl/gathernet/internal/model"
)

type attendanceInput struct {
	Status string `json:"status"`
}

// HandleSetAttendance handles PUT /events/{id}/attendance.
func (a *API) HandleSetAttendance(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	eventID, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	var in attendanceInput
	if err := decodeJSON(r, &in); err != nil {
		apperr.WriteHTTP(w, apperr.ValidationErr("body", "invalid JSON"))
		return
	}
	status := model.AttendanceStatus(in.Status)
	switch status {
	case model.AttendanceAttending, model.AttendanceMaybe, model.AttendanceNotAttending:
	default:
		apperr.WriteHTTP(w, apperr.ValidationErr("status", "must be one of attending, maybe, not_attending"))
		return
	}

	event, viewer, err := a.lookupEventAndViewer(w, eventID, viewerID)
	if err != nil || event == nil {
		return
	}

	if err := a.Store.SetAttendance(&model.Attendance{EventID: eventID, UserID: viewerID, Status: status}); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	activityType := map[model.AttendanceStatus]string{
		model.AttendanceAttending:    "Accept",
		model.AttendanceMaybe:        "TentativeAccept",
		model.AttendanceNotAttending: "Reject",
	}[status]
	a.deliverAttendanceReply(event, viewer, activityType)

	a.broadcast(model.BroadcastAttendanceUpdated, nil, map[string]interface{}{"event_id": eventID, "user_id": viewerID, "status": status})
	writeJSON(w, map[string]string{"status": string(status)}, http.StatusOK)
}

// HandleClearAttendance handles DELETE /events/{id}/attendance.
func (a *API) HandleClearAttendance(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	eventID, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	if _, _, err := a.lookupEventAndViewer(w, eventID, viewerID); err != nil {
		return
	}
	if err := a.Store.ClearAttendance(eventID, viewerID); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	a.broadcast(model.BroadcastAttendanceRemoved, nil, map[string]interface{}{"event_id": eventID, "user_id": viewerID})
	w.WriteHeader(http.StatusNoContent)
}

// deliverAttendanceReply sends the event author an Accept/TentativeAccept/
// Reject of the event URL, mirroring the shape the inbox processor
// expects of a remote attendee's reply.
func (a *API) deliverAttendanceReply(event *model.Event, viewer *model.User, activityType string) {
	if event.AuthorID == viewer.ID {
		return // an author RSVPing to their own event has no remote recipient
	}
	author, err := a.Store.GetUserByID(event.AuthorID)
	if err != nil || author == nil || author.IsLocal() {
		return
	}
	activity := activitypub.BuildActivity(a.BaseURL, viewer.ActorURL, activityType, event.ExternalID,
		activitypub.Addressing{To: []string{author.ActorURL}})
	_ = a.Delivery.Enqueue(viewer.ID, viewer.ActorURL, activity, []string{author.ActorURL}, nil, nil)
}

// HandleLike handles PUT /events/{id}/like.
func (a *API) HandleLike(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	eventID, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	event, viewer, err := a.lookupEventAndViewer(w, eventID, viewerID)
	if err != nil || event == nil {
		return
	}
	if err := a.Store.AddLike(&model.Like{EventID: eventID, UserID: viewerID}); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	followersURL := activitypub.FollowersURL(a.BaseURL, viewer.Username)
	addr := activitypub.AddressFor(model.VisibilityPublic, followersURL, nil)
	activity := activitypub.BuildLike(a.BaseURL, viewer.ActorURL, event.ExternalID, addr)
	_ = a.Delivery.Enqueue(viewer.ID, viewer.ActorURL, activity, addr.To, addr.CC, nil)

	a.broadcast(model.BroadcastLikeAdded, nil, map[string]interface{}{"event_id": eventID, "user_id": viewerID})
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnlike handles DELETE /events/{id}/like.
func (a *API) HandleUnlike(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	eventID, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	event, viewer, err := a.lookupEventAndViewer(w, eventID, viewerID)
	if err != nil || event == nil {
		return
	}
	if err := a.Store.RemoveLike(eventID, viewerID); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	followersURL := activitypub.FollowersURL(a.BaseURL, viewer.Username)
	addr := activitypub.AddressFor(model.VisibilityPublic, followersURL, nil)
	like := map[string]interface{}{"type": "Like", "actor": viewer.ActorURL, "object": event.ExternalID}
	activity := activitypub.BuildUndo(a.BaseURL, viewer.ActorURL, like, addr)
	_ = a.Delivery.Enqueue(viewer.ID, viewer.ActorURL, activity, addr.To, addr.CC, nil)

	a.broadcast(model.BroadcastLikeRemoved, nil, map[string]interface{}{"event_id": eventID, "user_id": viewerID})
	w.WriteHeader(http.StatusNoContent)
}

type commentInput struct {
	Content string `json:"content"`
}

// HandleCreateComment handles POST /events/{id}/comments.
func (a *API) HandleCreateComment(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	eventID, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	var in commentInput
	if err := decodeJSON(r, &in); err != nil {
		apperr.WriteHTTP(w, apperr.ValidationErr("body", "invalid JSON"))
		return
	}
	if in.Content == "" {
		apperr.WriteHTTP(w, apperr.ValidationErr("content", "must not be empty"))
		return
	}
	in.Content = a.sanitize(in.Content)

	event, _, err := a.lookupEventAndViewer(w, eventID, viewerID)
	if err != nil || event == nil {
		return
	}

	c := &model.Comment{
		EventID:    eventID,
		AuthorID:   viewerID,
		Content:    in.Content,
		ExternalID: activitypub.NewObjectID(a.BaseURL),
	}

	resolved, err := mention.Parse(r.Context(), a.Store, a.Resolver, c.Content)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	var mentionedIDs []int64
	var mentionTags []activitypub.Mention
	for _, res := range resolved {
		mentionedIDs = append(mentionedIDs, res.User.ID)
		mentionTags = append(mentionTags, activitypub.Mention{Type: "Mention", Href: res.User.ActorURL, Name: "@" + res.Handle})
	}

	id, err := a.Store.CreateComment(c, mentionedIDs)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	c.ID = id

	author, err := a.Store.GetUserByID(viewerID)
	if err != nil || author == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	inReplyTo := event.ExternalID
	followersURL := activitypub.FollowersURL(a.BaseURL, author.Username)
	addr := activitypub.AddressFor(model.VisibilityPublic, followersURL, nil)
	note := activitypub.CommentToObject(c, author.ActorURL, addr, inReplyTo, mentionTags)
	activity := activitypub.BuildCreate(a.BaseURL, author.ActorURL, note, addr)
	_ = a.Delivery.Enqueue(author.ID, author.ActorURL, activity, addr.To, addr.CC, nil)

	for _, res := range resolved {
		n := mention.NotificationFor(res.User.ID, author.Username, event)
		if _, err := a.Store.CreateNotification(n); err == nil {
			a.broadcast(model.BroadcastNotificationCreate, &res.User.ID, n)
		}
	}

	a.broadcast(model.BroadcastCommentCreated, nil, c)
	writeJSON(w, c, http.StatusCreated)
}

// HandleDeleteComment handles DELETE /comments/{id}. A comment may be
// deleted by its author.
func (a *API) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	id, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	c, err := a.Store.GetComment(id)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if c == nil {
		apperr.WriteHTTP(w, apperr.NotFoundErr("comment not found"))
		return
	}
	if c.AuthorID != viewerID {
		apperr.WriteHTTP(w, apperr.ForbiddenErr("only the comment's author may delete it"))
		return
	}

	author, err := a.Store.GetUserByID(viewerID)
	if err != nil || author == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if err := a.Store.DeleteComment(id); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	followersURL := activitypub.FollowersURL(a.BaseURL, author.Username)
	addr := activitypub.AddressFor(model.VisibilityPublic, followersURL, nil)
	activity := activitypub.BuildDelete(a.BaseURL, author.ActorURL, c.ExternalID, addr)
	_ = a.Delivery.Enqueue(author.ID, author.ActorURL, activity, addr.To, addr.CC, nil)

	a.broadcast(model.BroadcastCommentDeleted, nil, map[string]interface{}{"id": id, "event_id": c.EventID})
	w.WriteHeader(http.StatusNoContent)
}

// lookupEventAndViewer fetches the event and the acting local user,
// writing a 404 if the event is absent. It does not itself answer the
// visibility question for reads (internal/visibility is the read-path
// authority); it only guards mutations against a nonexistent event.
func (a *API) lookupEventAndViewer(w http.ResponseWriter, eventID, viewerID int64) (*model.Event, *model.User, error) {
	event, err := a.Store.GetEvent(eventID)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return nil, nil, err
	}
	if event == nil {
		apperr.WriteHTTP(w, apperr.NotFoundErr("event not found"))
		return nil, nil, apperr.NotFoundErr("event not found")
	}
	viewer, err := a.Store.GetUserByID(viewerID)
	if err != nil || viewer == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return nil, nil, err
	}
	return event, viewer, nil
}
