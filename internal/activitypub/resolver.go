package activitypub

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/signing"
	"github.com/klppl/gathernet/internal/store"
)

// Resolver resolves remote actors by URL or handle, caching the result as a
// local User row. Failures return (nil, nil) rather than an error — callers
// treat an unresolvable actor as "unknown", not as a system fault.
type Resolver struct {
	store   *store.Store
	timeout time.Duration
}

// NewResolver builds a Resolver. timeout bounds each outbound actor fetch.
func NewResolver(st *store.Store, timeout time.Duration) *Resolver {
	return &Resolver{store: st, timeout: timeout}
}

// Resolve fetches (or returns the cached) remote User for an actor URL,
// persisting it via an upsert keyed on actor URL so concurrent resolves of
// the same actor converge to a single row.
func (r *Resolver) Resolve(ctx context.Context, actorURL string) (*model.User, error) {
	existing, err := r.store.GetUserByActorURL(actorURL)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Tombstoned {
		return existing, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	actor, err := FetchActor(fetchCtx, actorURL)
	if err != nil {
		return nil, nil
	}
	if actor == nil || actor.ID == "" || actor.Inbox == "" {
		return nil, nil
	}

	sharedInbox := ""
	if actor.Endpoints != nil {
		sharedInbox = actor.Endpoints.SharedInbox
	}
	host := hostOf(actor.ID)
	username := actor.PreferredUsername
	if username == "" {
		username = actor.Name
	}
	u := &model.User{
		IsRemote:       true,
		Username:       fmt.Sprintf("%s@%s", username, host),
		ActorURL:       actor.ID,
		InboxURL:       actor.Inbox,
		SharedInboxURL: sharedInbox,
		DisplayName:    actor.Name,
		Summary:        actor.Summary,
	}
	if actor.Icon != nil {
		u.IconURL = actor.Icon.URL
	}
	if _, err := r.store.UpsertRemoteUser(u); err != nil {
		return nil, err
	}
	return r.store.GetUserByActorURL(actorURL)
}

// ResolveHandle resolves a "user@host" handle via WebFinger then Resolve.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (*model.User, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	actorURL, err := WebFingerResolve(fetchCtx, handle)
	if err != nil {
		return nil, nil
	}
	return r.Resolve(ctx, actorURL)
}

// PublicKeyResolver returns a signing.PublicKeyResolver: it strips the
// "#main-key" fragment from the keyId to recover the actor URL, fetches the
// actor document with FetchActor (not the stored user row), and parses its
// published PEM. FetchActor reuses a cached document for up to
// objectCacheTTL, so a rotated key is picked up once that entry expires.
func (r *Resolver) PublicKeyResolver() signing.PublicKeyResolver {
	return func(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
		actorURL := signing.ActorURLFromKeyID(keyID)
		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		actor, err := FetchActor(fetchCtx, actorURL)
		if err != nil {
			return nil, err
		}
		if actor == nil || actor.PublicKey == nil || actor.PublicKey.PublicKeyPem == "" {
			return nil, fmt.Errorf("actor %s has no published public key", actorURL)
		}
		if _, err := r.store.UpsertRemoteUser(&model.User{
			IsRemote: true,
			Username: fmt.Sprintf("%s@%s", actor.PreferredUsername, hostOf(actor.ID)),
			ActorURL: actor.ID,
			InboxURL: actor.Inbox,
		}); err != nil {
			return nil, err
		}
		return signing.ParsePublicPEM(actor.PublicKey.PublicKeyPem)
	}
}

func hostOf(actorURL string) string {
	s := strings.TrimPrefix(actorURL, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}
