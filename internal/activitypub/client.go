package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrGone is returned when a remote resource responds with HTTP 410 Gone.
var ErrGone = errors.New("resource gone (410)")

var httpClient = &http.Client{Timeout: 10 * time.Second}

// objectCacheTTL bounds how long a fetched remote object is reused before
// a fresh fetch is attempted again.
var objectCacheTTL = time.Hour

type cacheEntry struct {
	obj     map[string]interface{}
	expires time.Time
}

var objectCache sync.Map // url -> cacheEntry

type wfCacheEntry struct {
	actorURL string
	expires  time.Time
}

var wfCache sync.Map // lowercased handle -> wfCacheEntry

// FetchObject fetches a remote ActivityPub object over HTTPS, caching
// results for objectCacheTTL.
func FetchObject(ctx context.Context, rawURL string) (map[string]interface{}, error) {
	if cached, ok := objectCache.Load(rawURL); ok {
		entry := cached.(cacheEntry)
		if time.Now().Before(entry.expires) {
			return entry.obj, nil
		}
		objectCache.Delete(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)
	req.Header.Set("User-Agent", "gathernet/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, ErrGone
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	var obj map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", rawURL, err)
	}

	objectCache.Store(rawURL, cacheEntry{obj: obj, expires: time.Now().Add(objectCacheTTL)})
	return obj, nil
}

// FetchActor fetches and parses a remote actor document.
func FetchActor(ctx context.Context, actorURL string) (*Actor, error) {
	obj, err := FetchObject(ctx, actorURL)
	if err != nil {
		return nil, err
	}
	return mapToActor(obj), nil
}

// InvalidateCache removes a URL from the object cache, used after a Delete
// or a failed resolve so the next lookup refetches.
func InvalidateCache(rawURL string) {
	objectCache.Delete(rawURL)
}

// WebFingerResolve resolves a "user@host" handle to an actor URL.
func WebFingerResolve(ctx context.Context, handle string) (string, error) {
	parts := strings.SplitN(handle, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid handle %q: expected user@domain", handle)
	}
	domain := parts[1]

	cacheKey := strings.ToLower(handle)
	if cached, ok := wfCache.Load(cacheKey); ok {
		entry := cached.(wfCacheEntry)
		if time.Now().Before(entry.expires) {
			return entry.actorURL, nil
		}
		wfCache.Delete(cacheKey)
	}

	wfURL := "https://" + domain + "/.well-known/webfinger?resource=acct:" + handle

	req, err := http.NewRequestWithContext(ctx, "GET", wfURL, nil)
	if err != nil {
		return "", fmt.Errorf("webfinger request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", "gathernet/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webfinger fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webfinger returned HTTP %d for %s", resp.StatusCode, handle)
	}

	var wf WebFingerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wf); err != nil {
		return "", fmt.Errorf("webfinger decode: %w", err)
	}

	for _, link := range wf.Links {
		if link.Rel == "self" && isAPMediaType(link.Type) {
			wfCache.Store(cacheKey, wfCacheEntry{actorURL: link.Href, expires: time.Now().Add(objectCacheTTL)})
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no ActivityPub actor link found for %s", handle)
}

func mapToActor(m map[string]interface{}) *Actor {
	if m == nil {
		return nil
	}
	actor := &Actor{
		ID:                getString(m, "id"),
		Type:              getString(m, "type"),
		Name:              getString(m, "name"),
		PreferredUsername: getString(m, "preferredUsername"),
		Summary:           getString(m, "summary"),
		Inbox:             getString(m, "inbox"),
		Outbox:            getString(m, "outbox"),
		Followers:         getString(m, "followers"),
		Following:         getString(m, "following"),
		URL:               getString(m, "url"),
	}
	if pk, ok := m["publicKey"].(map[string]interface{}); ok {
		actor.PublicKey = &PublicKey{
			ID:           getString(pk, "id"),
			Owner:        getString(pk, "owner"),
			PublicKeyPem: getString(pk, "publicKeyPem"),
		}
	}
	if ep, ok := m["endpoints"].(map[string]interface{}); ok {
		actor.Endpoints = &Endpoints{SharedInbox: getString(ep, "sharedInbox")}
	}
	if icon, ok := m["icon"].(map[string]interface{}); ok {
		actor.Icon = &Image{Type: getString(icon, "type"), URL: getString(icon, "url")}
	}
	return actor
}

// mapToEvent extracts an EventObject from a generic decoded map, tolerating
// a missing location/tag/etc.
func mapToEvent(m map[string]interface{}) *EventObject {
	if m == nil {
		return nil
	}
	e := &EventObject{
		ID:           getString(m, "id"),
		Type:         getString(m, "type"),
		AttributedTo: getString(m, "attributedTo"),
		Name:         getString(m, "name"),
		Summary:      getString(m, "summary"),
		Content:      getString(m, "content"),
		StartTime:    getString(m, "startTime"),
		EndTime:      getString(m, "endTime"),
		URL:          getString(m, "url"),
		Published:    getString(m, "published"),
		Updated:      getString(m, "updated"),
	}
	e.To = stringOrArrayField(m, "to")
	e.CC = stringOrArrayField(m, "cc")
	if loc, ok := m["location"].(map[string]interface{}); ok {
		lat, _ := loc["latitude"].(float64)
		lon, _ := loc["longitude"].(float64)
		e.Location = &Place{Type: getString(loc, "type"), Name: getString(loc, "name"), Latitude: lat, Longitude: lon}
	}
	return e
}

func mapToNote(m map[string]interface{}) *Note {
	if m == nil {
		return nil
	}
	n := &Note{
		ID:           getString(m, "id"),
		Type:         getString(m, "type"),
		AttributedTo: getString(m, "attributedTo"),
		Content:      getString(m, "content"),
		Published:    getString(m, "published"),
		URL:          getString(m, "url"),
		InReplyTo:    getString(m, "inReplyTo"),
	}
	n.To = stringOrArrayField(m, "to")
	n.CC = stringOrArrayField(m, "cc")
	if tags, ok := m["tag"].([]interface{}); ok {
		n.Tag = tags
	}
	return n
}

func stringOrArrayField(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// IsActor reports whether a decoded object looks like an Actor, by checking
// that its type is Person, Service, Application, Group or Organization.
func IsActor(obj map[string]interface{}) bool {
	t := getString(obj, "type")
	switch t {
	case "Person", "Service", "Application", "Group", "Organization":
		return true
	}
	return false
}

// IsLocalID reports whether an AP id belongs to this instance's domain.
func IsLocalID(apID, localDomain string) bool {
	return strings.HasPrefix(apID, "https://"+localDomain+"/") || strings.HasPrefix(apID, "http://"+localDomain+"/")
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func isAPMediaType(ct string) bool {
	return strings.Contains(ct, "application/activity+json") ||
		strings.Contains(ct, "application/ld+json") ||
		strings.Contains(ct, "application/json")
}
