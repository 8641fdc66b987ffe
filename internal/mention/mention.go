// Package mention parses @-mentions out of comment text and resolves them
// to local or federated users.
package mention

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/store"
)

// handleRe matches "@user" or "@user@host" mentions in comment text.
var handleRe = regexp.MustCompile(`@([A-Za-z0-9_\-]+(?:@[A-Za-z0-9.\-]+)?)`)

// Resolved is a successfully resolved mention: the matched handle text and
// the user it resolved to.
type Resolved struct {
	Handle string
	User   *model.User
}

// Parse scans text for @-mentions and resolves each one. Local handles
// (no "@host" suffix) resolve by username; federated handles resolve via
// the actor resolver's WebFinger lookup. A handle that fails to resolve is
// silently dropped — it is NOT an error, and the surrounding text is kept
// verbatim in the comment body.
func Parse(ctx context.Context, st *store.Store, resolver *activitypub.Resolver, text string) ([]Resolved, error) {
	matches := handleRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var out []Resolved
	for _, m := range matches {
		handle := m[1]
		if seen[handle] {
			continue
		}
		seen[handle] = true

		u, err := resolve(ctx, st, resolver, handle)
		if err != nil {
			return nil, err
		}
		if u == nil {
			continue
		}
		out = append(out, Resolved{Handle: handle, User: u})
	}
	return out, nil
}

func resolve(ctx context.Context, st *store.Store, resolver *activitypub.Resolver, handle string) (*model.User, error) {
	if strings.Contains(handle, "@") {
		return resolver.ResolveHandle(ctx, handle)
	}
	return st.GetUserByUsername(handle)
}

// NotificationFor builds the MENTION notification body for a resolved
// mention inside a comment on event.
func NotificationFor(mentionedUserID int64, commenterHandle string, event *model.Event) *model.Notification {
	return &model.Notification{
		UserID: mentionedUserID,
		Type:   model.NotificationMention,
		Title:  fmt.Sprintf("%s mentioned you", commenterHandle),
		Body:   event.Title,
	}
}
