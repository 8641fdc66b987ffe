package activitypub

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/store"
)

// NewActivityID mints a new activity id under the instance's namespace, of
// the form "<baseUrl>/activities/<ulid>".
func NewActivityID(baseURL string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return fmt.Sprintf("%s/activities/%s", strings.TrimRight(baseURL, "/"), id.String())
}

// NewObjectID mints a new object id under the instance's namespace, of
// the form "<baseUrl>/objects/<ulid>", used for locally authored
// Events and Comments the first time they are federated.
func NewObjectID(baseURL string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return fmt.Sprintf("%s/objects/%s", strings.TrimRight(baseURL, "/"), id.String())
}

// Addressing holds the to/cc recipient lists computed for an outbound
// activity from a local Event's visibility class.
type Addressing struct {
	To []string
	CC []string
}

// AddressFor computes to/cc per the Event's visibility class. explicitRecipients
// is used only for PRIVATE events (the event's stored addressing).
func AddressFor(vis model.Visibility, followersURL string, explicitRecipients []string) Addressing {
	switch vis {
	case model.VisibilityPublic:
		return Addressing{To: []string{PublicURI}, CC: []string{followersURL}}
	case model.VisibilityUnlisted:
		return Addressing{To: []string{followersURL}, CC: []string{PublicURI}}
	case model.VisibilityFollowers:
		return Addressing{To: []string{followersURL}, CC: nil}
	case model.VisibilityPrivate:
		return Addressing{To: explicitRecipients, CC: nil}
	default:
		return Addressing{}
	}
}

// EventToObject builds the federated EventObject for a local Event.
func EventToObject(e *model.Event, addr Addressing) *EventObject {
	obj := &EventObject{
		ID:           e.ExternalID,
		Type:         "Event",
		AttributedTo: e.AttributedTo,
		Name:         e.Title,
		Summary:      e.Summary,
		Content:      e.Summary,
		StartTime:    e.StartTime.Format(time.RFC3339),
		EndTime:      e.EndTime.Format(time.RFC3339),
		URL:          e.ExternalURL,
		To:           addr.To,
		CC:           addr.CC,
		Published:    e.CreatedAt.Format(time.RFC3339),
	}
	if e.UpdatedAt.After(e.CreatedAt) {
		obj.Updated = e.UpdatedAt.Format(time.RFC3339)
	}
	if e.Location != "" || e.Geo != nil {
		p := &Place{Type: "Place", Name: e.Location}
		if e.Geo != nil {
			p.Latitude, p.Longitude = e.Geo.Latitude, e.Geo.Longitude
		}
		obj.Location = p
	}
	for _, tag := range e.Tags {
		obj.Tag = append(obj.Tag, Hashtag{Type: "Hashtag", Href: "#" + tag, Name: "#" + tag})
	}
	return obj
}

// CommentToObject builds the federated Note for a local Comment.
func CommentToObject(c *model.Comment, authorActorURL string, addr Addressing, inReplyToURL string, mentions []Mention) *Note {
	n := &Note{
		ID:           c.ExternalID,
		Type:         "Note",
		AttributedTo: authorActorURL,
		Content:      c.Content,
		Published:    c.CreatedAt.Format(time.RFC3339),
		To:           addr.To,
		CC:           addr.CC,
		InReplyTo:    inReplyToURL,
	}
	for _, m := range mentions {
		n.Tag = append(n.Tag, m)
	}
	return n
}

// BuildActivity wraps an object in an outbound Activity envelope of the
// given type, addressed per addr.
func BuildActivity(baseURL, actorURL, activityType string, object interface{}, addr Addressing) map[string]interface{} {
	a := Activity{
		ID:        NewActivityID(baseURL),
		Type:      activityType,
		Actor:     actorURL,
		Object:    object,
		To:        addr.To,
		CC:        addr.CC,
		Published: time.Now().UTC().Format(time.RFC3339),
	}
	return WithContext(a)
}

// BuildFollow builds a Follow activity targeting a remote actor.
func BuildFollow(baseURL, actorURL, targetActorURL string) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Follow", targetActorURL, Addressing{To: []string{targetActorURL}})
}

// BuildAccept builds an Accept whose object is the original Follow activity.
func BuildAccept(baseURL, actorURL string, followActivity map[string]interface{}, followerActorURL string) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Accept", followActivity, Addressing{To: []string{followerActorURL}})
}

// BuildReject builds a Reject whose object is the original Follow activity.
func BuildReject(baseURL, actorURL string, followActivity map[string]interface{}, followerActorURL string) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Reject", followActivity, Addressing{To: []string{followerActorURL}})
}

// BuildUndo wraps an activity (typically one this actor previously
// published) in an Undo.
func BuildUndo(baseURL, actorURL string, original map[string]interface{}, addr Addressing) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Undo", original, addr)
}

// BuildLike builds a Like of an object URL.
func BuildLike(baseURL, actorURL, objectURL string, addr Addressing) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Like", objectURL, addr)
}

// BuildAnnounce builds an Announce (share) of an object URL.
func BuildAnnounce(baseURL, actorURL, objectURL string, addr Addressing) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Announce", objectURL, addr)
}

// BuildCreate wraps a freshly authored object in a Create.
func BuildCreate(baseURL, actorURL string, object interface{}, addr Addressing) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Create", object, addr)
}

// BuildUpdate wraps a modified object in an Update.
func BuildUpdate(baseURL, actorURL string, object interface{}, addr Addressing) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Update", object, addr)
}

// BuildDelete builds a Delete (a bare tombstone reference, no full object).
func BuildDelete(baseURL, actorURL, objectURL string, addr Addressing) map[string]interface{} {
	return BuildActivity(baseURL, actorURL, "Delete", objectURL, addr)
}

// ActorURL returns a local user's canonical actor URL.
func ActorURL(baseURL, username string) string {
	return fmt.Sprintf("%s/users/%s", strings.TrimRight(baseURL, "/"), username)
}

// FollowersURL returns a local user's followers collection URL.
func FollowersURL(baseURL, username string) string {
	return ActorURL(baseURL, username) + "/followers"
}

// ExplicitRecipients resolves a PRIVATE event's stored addressing list into
// actor URLs, looking up local users by username and passing through
// already-resolved actor URLs unchanged.
func ExplicitRecipients(st *store.Store, baseURL string, recipientUsernames []string) ([]string, error) {
	var out []string
	for _, r := range recipientUsernames {
		if strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://") {
			out = append(out, r)
			continue
		}
		u, err := st.GetUserByUsername(r)
		if err != nil {
			return nil, err
		}
		if u == nil {
			continue
		}
		if u.IsLocal() {
			out = append(out, ActorURL(baseURL, u.Username))
		} else {
			out = append(out, u.ActorURL)
		}
	}
	return out, nil
}
