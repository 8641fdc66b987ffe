package authoring

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/apperr"
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/store"
)

var errNotAURL = errors.New("must be a valid absolute URL")

// eventInput is the wire shape of a create/update event request body.
type eventInput struct {
	Title             string     `json:"title"`
	Summary           string     `json:"summary"`
	Location          string     `json:"location"`
	Latitude          *float64   `json:"latitude"`
	Longitude         *float64   `json:"longitude"`
	Timezone          string     `json:"timezone"`
	StartTime         time.Time  `json:"startTime"`
	EndTime           time.Time  `json:"endTime"`
	RecurrencePattern string     `json:"recurrencePattern"`
	RecurrenceEndDate *time.Time `json:"recurrenceEndDate"`
	Visibility        string     `json:"visibility"`
	Tags              []string   `json:"tags"`
	HeaderImageURL    string     `json:"headerImageUrl"`
	ExternalURL       string     `json:"externalUrl"`
	// Recipients is only consulted for a PRIVATE event: a list of local
	// usernames or remote actor URLs.
	Recipients []string `json:"recipients"`
}

// validate turns in into a model.Event, enforcing the event input
// constraints from the design: title length, coordinate pairing, a
// recognized timezone, recurrence ordering, and well-formed URLs. It does
// not set AuthorID, AttributedTo, or ExternalID — the caller fills those in.
func (in eventInput) validate() (*model.Event, error) {
	if len(in.Title) < 1 || len(in.Title) > 200 {
		return nil, apperr.ValidationErr("title", "must be 1-200 characters")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, apperr.ValidationErr("latitude", "latitude and longitude must both be set or both be empty")
	}
	if in.Latitude != nil {
		if *in.Latitude < -90 || *in.Latitude > 90 {
			return nil, apperr.ValidationErr("latitude", "must be between -90 and 90")
		}
		if *in.Longitude < -180 || *in.Longitude > 180 {
			return nil, apperr.ValidationErr("longitude", "must be between -180 and 180")
		}
	}
	if in.Timezone == "" {
		return nil, apperr.ValidationErr("timezone", "required")
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return nil, apperr.ValidationErr("timezone", "not a recognized zone id")
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, apperr.ValidationErr("endTime", "must be after startTime")
	}
	vis := model.Visibility(in.Visibility)
	switch vis {
	case model.VisibilityPublic, model.VisibilityFollowers, model.VisibilityUnlisted, model.VisibilityPrivate:
	default:
		return nil, apperr.ValidationErr("visibility", "must be one of PUBLIC, FOLLOWERS, UNLISTED, PRIVATE")
	}
	if vis == model.VisibilityPrivate && len(in.Recipients) == 0 {
		return nil, apperr.ValidationErr("recipients", "required for a PRIVATE event")
	}
	if err := validURL(in.HeaderImageURL); err != nil {
		return nil, apperr.ValidationErr("headerImageUrl", err.Error())
	}
	if err := validURL(in.ExternalURL); err != nil {
		return nil, apperr.ValidationErr("externalUrl", err.Error())
	}

	e := &model.Event{
		Title:          in.Title,
		Summary:        in.Summary,
		Location:       in.Location,
		Timezone:       in.Timezone,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		Visibility:     vis,
		HeaderImageURL: in.HeaderImageURL,
		ExternalURL:    in.ExternalURL,
	}
	if in.Latitude != nil {
		e.Geo = &model.GeoPoint{Latitude: *in.Latitude, Longitude: *in.Longitude}
	}
	if in.RecurrencePattern != "" {
		pattern := model.RecurrencePattern(in.RecurrencePattern)
		switch pattern {
		case model.RecurrenceDaily, model.RecurrenceWeekly, model.RecurrenceMonthly, model.RecurrenceYearly:
		default:
			return nil, apperr.ValidationErr("recurrencePattern", "must be one of DAILY, WEEKLY, MONTHLY, YEARLY")
		}
		rec := &model.Recurrence{Pattern: pattern}
		if in.RecurrenceEndDate != nil {
			if in.RecurrenceEndDate.Before(in.StartTime) {
				return nil, apperr.ValidationErr("recurrenceEndDate", "must be on or after startTime")
			}
			rec.RecurrenceEndDate = in.RecurrenceEndDate
		}
		e.Recurrence = rec
	}
	seenTags := make(map[string]bool, len(in.Tags))
	for _, tag := range in.Tags {
		t, err := store.NormalizeTag(tag)
		if err != nil {
			return nil, apperr.ValidationErr("tags", err.Error())
		}
		if t == "" || seenTags[t] {
			continue
		}
		seenTags[t] = true
		e.Tags = append(e.Tags, t)
	}
	return e, nil
}

func validURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errNotAURL
	}
	return nil
}

// HandleCreateEvent handles POST /events.
func (a *API) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	var in eventInput
	if err := decodeJSON(r, &in); err != nil {
		apperr.WriteHTTP(w, apperr.ValidationErr("body", "invalid JSON"))
		return
	}
	event, err := in.validate()
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	event.Summary = a.sanitize(event.Summary)

	author, err := a.Store.GetUserByID(viewerID)
	if err != nil || author == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	event.AuthorID = author.ID
	event.AttributedTo = author.ActorURL
	event.ExternalID = activitypub.NewObjectID(a.BaseURL)

	id, err := a.Store.CreateEvent(event)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	event.ID = id

	if event.Visibility == model.VisibilityPrivate {
		recipients, err := activitypub.ExplicitRecipients(a.Store, a.BaseURL, in.Recipients)
		if err != nil {
			apperr.WriteHTTP(w, apperr.InternalErr(err))
			return
		}
		if err := a.Store.SetEventRecipients(id, recipients); err != nil {
			apperr.WriteHTTP(w, apperr.InternalErr(err))
			return
		}
	}

	if err := a.publishEvent(author, event, in.Recipients, "Create", nil); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	a.broadcast(model.BroadcastEventCreated, nil, event)
	writeJSON(w, event, http.StatusCreated)
}

// HandleUpdateEvent handles PATCH /events/{id}. Only the owning author may
// update; an Update activity is delivered to the union of the event's
// previous and new audiences so dropped recipients can still see the
// change.
func (a *API) HandleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	id, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	existing, err := a.Store.GetEvent(id)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if existing == nil {
		apperr.WriteHTTP(w, apperr.NotFoundErr("event not found"))
		return
	}
	if existing.AuthorID != viewerID {
		apperr.WriteHTTP(w, apperr.ForbiddenErr("only the event's author may update it"))
		return
	}

	var in eventInput
	if err := decodeJSON(r, &in); err != nil {
		apperr.WriteHTTP(w, apperr.ValidationErr("body", "invalid JSON"))
		return
	}
	event, err := in.validate()
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	event.Summary = a.sanitize(event.Summary)
	event.ID = existing.ID
	event.AuthorID = existing.AuthorID
	event.ExternalID = existing.ExternalID
	event.AttributedTo = existing.AttributedTo

	author, err := a.Store.GetUserByID(viewerID)
	if err != nil || author == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	previousExplicit, err := a.explicitAudience(existing, author)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	followersURL := activitypub.FollowersURL(a.BaseURL, author.Username)
	previousAddr := activitypub.AddressFor(existing.Visibility, followersURL, previousExplicit)

	if err := a.Store.UpdateEvent(event); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	var newRecipients []string
	if event.Visibility == model.VisibilityPrivate {
		newRecipients, err = activitypub.ExplicitRecipients(a.Store, a.BaseURL, in.Recipients)
		if err != nil {
			apperr.WriteHTTP(w, apperr.InternalErr(err))
			return
		}
	}
	if err := a.Store.SetEventRecipients(event.ID, newRecipients); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	if err := a.publishEvent(author, event, in.Recipients, "Update", &previousAddr); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	a.broadcast(model.BroadcastEventUpdated, nil, event)
	writeJSON(w, event, http.StatusOK)
}

// HandleDeleteEvent handles DELETE /events/{id}.
func (a *API) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := a.requireViewer(w, r)
	if !ok {
		return
	}
	id, err := parsePathID(r, "id")
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	existing, err := a.Store.GetEvent(id)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	if existing == nil {
		apperr.WriteHTTP(w, apperr.NotFoundErr("event not found"))
		return
	}
	if existing.AuthorID != viewerID {
		apperr.WriteHTTP(w, apperr.ForbiddenErr("only the event's author may delete it"))
		return
	}

	author, err := a.Store.GetUserByID(viewerID)
	if err != nil || author == nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	explicit, err := a.explicitAudience(existing, author)
	if err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	followersURL := activitypub.FollowersURL(a.BaseURL, author.Username)
	addr := activitypub.AddressFor(existing.Visibility, followersURL, explicit)

	if err := a.Store.DeleteEvent(id); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}

	activity := activitypub.BuildDelete(a.BaseURL, author.ActorURL, existing.ExternalID, addr)
	if err := a.Delivery.Enqueue(author.ID, author.ActorURL, activity, addr.To, addr.CC, nil); err != nil {
		apperr.WriteHTTP(w, apperr.InternalErr(err))
		return
	}
	a.broadcast(model.BroadcastEventDeleted, nil, map[string]interface{}{"id": id, "external_id": existing.ExternalID})
	w.WriteHeader(http.StatusNoContent)
}

// explicitAudience resolves a PRIVATE event's stored recipients into actor
// URLs for addressing; it is a no-op for any other visibility.
func (a *API) explicitAudience(event *model.Event, author *model.User) ([]string, error) {
	if event.Visibility != model.VisibilityPrivate {
		return nil, nil
	}
	return a.Store.ListEventRecipients(event.ID)
}

// publishEvent builds and enqueues the outbound activity for a just-created
// or just-updated event. For an Update, previous is the event's audience
// before the edit; the outbound delivery list is the union of previous and
// new audiences.
func (a *API) publishEvent(author *model.User, event *model.Event, recipientInputs []string, kind string, previous *activitypub.Addressing) error {
	followersURL := activitypub.FollowersURL(a.BaseURL, author.Username)
	var explicit []string
	if event.Visibility == model.VisibilityPrivate {
		resolved, err := activitypub.ExplicitRecipients(a.Store, a.BaseURL, recipientInputs)
		if err != nil {
			return err
		}
		explicit = resolved
	}
	addr := activitypub.AddressFor(event.Visibility, followersURL, explicit)
	deliverTo, deliverCC := addr.To, addr.CC
	if previous != nil {
		deliverTo = unionStrings(addr.To, previous.To)
		deliverCC = unionStrings(addr.CC, previous.CC)
	}

	obj := activitypub.EventToObject(event, addr)
	var activity map[string]interface{}
	if kind == "Create" {
		activity = activitypub.BuildCreate(a.BaseURL, author.ActorURL, obj, addr)
	} else {
		activity = activitypub.BuildUpdate(a.BaseURL, author.ActorURL, obj, addr)
	}
	return a.Delivery.Enqueue(author.ID, author.ActorURL, activity, deliverTo, deliverCC, nil)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (a *API) broadcast(t model.BroadcastType, userID *int64, payload interface{}) {
	if a.Broadcaster == nil {
		return
	}
	a.Broadcaster.Publish(model.BroadcastMessage{Type: t, TargetUserID: userID, Payload: payload})
}
