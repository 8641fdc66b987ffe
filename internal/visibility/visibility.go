// Package visibility implements the audience predicates that decide which
// events a given viewer may see, independent of transport.
package visibility

import (
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/store"
)

// Viewer is the identity checking visibility; nil means an anonymous
// (unauthenticated) viewer.
type Viewer struct {
	UserID   int64
	ActorURL string // set when the viewer is an authenticated local user
}

// CanView reports whether viewer may see event, per its visibility class.
// FOLLOWERS and PRIVATE checks consult the store for the relevant
// relationship; callers at the HTTP boundary must turn a false result into
// 404, never 403, so a PRIVATE event's existence is never leaked.
func CanView(st *store.Store, event *model.Event, viewer *Viewer) (bool, error) {
	switch event.Visibility {
	case model.VisibilityPublic, model.VisibilityUnlisted:
		return true, nil
	case model.VisibilityFollowers:
		if viewer == nil {
			return false, nil
		}
		if viewer.UserID == event.AuthorID {
			return true, nil
		}
		return st.IsFollower(event.AuthorID, viewer.ActorURL)
	case model.VisibilityPrivate:
		if viewer == nil {
			return false, nil
		}
		if viewer.UserID == event.AuthorID {
			return true, nil
		}
		return isExplicitRecipient(st, event, viewer)
	default:
		return false, nil
	}
}

func isExplicitRecipient(st *store.Store, event *model.Event, viewer *Viewer) (bool, error) {
	recipients, err := st.ListEventRecipients(event.ID)
	if err != nil {
		return false, err
	}
	for _, r := range recipients {
		if r == viewer.ActorURL {
			return true, nil
		}
	}
	return false, nil
}

// ListableFilter describes the SQL-free predicate set ListableWhere
// computes, for a caller to translate into a WHERE clause or an in-memory
// filter.
type ListableFilter struct {
	Anonymous         bool
	ViewerUserID      int64
	FollowedAuthorIDs []int64 // authors the viewer follows with accepted=true
}

// ListableWhere computes the predicate inputs used by list/search/trending
// endpoints: for an anonymous viewer, only PUBLIC is listable; for an
// authenticated viewer, the union of PUBLIC, UNLISTED, FOLLOWERS (restricted
// to followed authors), PRIVATE (restricted to events addressed to viewer),
// and the viewer's own events.
func ListableWhere(st *store.Store, viewer *Viewer) (ListableFilter, error) {
	if viewer == nil {
		return ListableFilter{Anonymous: true}, nil
	}
	followings, err := st.ListFollowing(viewer.UserID)
	if err != nil {
		return ListableFilter{}, err
	}
	var authorIDs []int64
	for _, f := range followings {
		u, err := st.GetUserByActorURL(f.ActorURL)
		if err != nil {
			return ListableFilter{}, err
		}
		if u != nil {
			authorIDs = append(authorIDs, u.ID)
		}
	}
	return ListableFilter{ViewerUserID: viewer.UserID, FollowedAuthorIDs: authorIDs}, nil
}

// Matches reports whether event passes the listable filter computed by
// ListableWhere — used by in-process callers (trending scorer) that already
// hold a candidate set in memory rather than issuing a filtered SQL query.
func (f ListableFilter) Matches(event *model.Event, isExplicitRecipientFn func(*model.Event) bool) bool {
	if f.Anonymous {
		return event.Visibility == model.VisibilityPublic
	}
	if event.AuthorID == f.ViewerUserID {
		return true
	}
	switch event.Visibility {
	case model.VisibilityPublic, model.VisibilityUnlisted:
		return true
	case model.VisibilityFollowers:
		for _, id := range f.FollowedAuthorIDs {
			if id == event.AuthorID {
				return true
			}
		}
		return false
	case model.VisibilityPrivate:
		return isExplicitRecipientFn != nil && isExplicitRecipientFn(event)
	default:
		return false
	}
}
