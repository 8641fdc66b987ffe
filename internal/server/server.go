// Package server implements the top-level HTTP server for the federation
// core. It serves ActivityPub discovery and object endpoints, the shared
// and per-user inboxes, the realtime SSE stream, and mounts the authoring
// API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/authoring"
	"github.com/klppl/gathernet/internal/config"
	"github.com/klppl/gathernet/internal/inbox"
	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/signing"
	"github.com/klppl/gathernet/internal/store"
)

const (
	activityJSONType = `application/activity+json`
	version          = "1.0.0"
	softwareName      = "gathernet"
)

const (
	// maxConcurrentActivities is the total inbox concurrency cap. Activities
	// arriving beyond this limit receive a 503 response.
	maxConcurrentActivities = 50

	// maxPerOriginConcurrency is the per-origin (AP actor hostname)
	// concurrency cap. Prevents a single noisy origin from consuming the
	// entire global semaphore.
	maxPerOriginConcurrency = 5
)

// inboxLimiter is a per-origin concurrent-activity counter. It tracks how
// many inbox activities from each origin hostname are currently in flight
// and rejects new ones once the per-origin cap is reached.
type inboxLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newInboxLimiter() *inboxLimiter {
	return &inboxLimiter{counts: make(map[string]int)}
}

func (l *inboxLimiter) acquire(origin string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[origin] >= maxPerOriginConcurrency {
		return false
	}
	l.counts[origin]++
	return true
}

func (l *inboxLimiter) release(origin string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[origin] > 0 {
		l.counts[origin]--
	}
	if l.counts[origin] == 0 {
		delete(l.counts, origin)
	}
}

// Server is the federation core's HTTP server.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	keyPair     *signing.KeyPair
	processor   *inbox.Processor
	authoring   *authoring.API
	broadcaster *realtime.Broadcaster

	router         *chi.Mux
	startedAt      time.Time
	inboxSem       chan struct{} // global concurrency cap for inbox processing
	inboxLimiter   *inboxLimiter // per-origin concurrency cap
	logBroadcaster *LogBroadcaster
}

// SetLogBroadcaster attaches a LogBroadcaster whose ring buffer backs
// /admin/api/log. Safe to call before Start; nil leaves the endpoint
// returning an empty array.
func (s *Server) SetLogBroadcaster(lb *LogBroadcaster) { s.logBroadcaster = lb }

// New builds a Server and its router. authAPI's Routes are mounted at
// /api, wrapped in authMiddleware (session auth, rate limiting) supplied by
// the caller; a nil authMiddleware mounts the authoring API unguarded.
func New(cfg *config.Config, st *store.Store, keyPair *signing.KeyPair, processor *inbox.Processor, authAPI *authoring.API, broadcaster *realtime.Broadcaster, authMiddleware func(http.Handler) http.Handler) *Server {
	s := &Server{
		cfg:          cfg,
		store:        st,
		keyPair:      keyPair,
		processor:    processor,
		authoring:    authAPI,
		broadcaster:  broadcaster,
		startedAt:    time.Now(),
		inboxSem:     make(chan struct{}, maxConcurrentActivities),
		inboxLimiter: newInboxLimiter(),
	}
	s.router = s.buildRouter(authMiddleware)
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	addr := ":" + s.cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting HTTP server", "addr", addr, "base_url", s.cfg.BaseURL)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
	}
}

func (s *Server) buildRouter(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/api/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	// Discovery.
	r.Get("/.well-known/webfinger", s.handleWebFinger)
	r.Get("/.well-known/host-meta", s.handleHostMeta)
	r.Get("/.well-known/nodeinfo", s.handleNodeInfo)
	r.Get("/nodeinfo/{version}", s.handleNodeInfoSchema)

	// ActivityPub actor endpoints.
	r.Get("/users/{username}", s.handleActor)
	r.Get("/users/{username}/followers", s.handleFollowers)
	r.Get("/users/{username}/following", s.handleFollowing)
	r.Get("/users/{username}/outbox", s.handleOutbox)
	r.Post("/users/{username}/inbox", s.handleInbox)

	// ActivityPub object endpoints.
	r.Get("/objects/{id}", s.handleObject)

	// Shared inbox.
	r.Post("/inbox", s.handleInbox)

	// Service actor — the signing identity for instance-level activities.
	r.Get("/actor", s.handleServiceActor)

	// Realtime stream.
	r.Get("/api/stream", s.handleStream)

	// Authoring API — validation/store/delivery/broadcast for local users.
	if s.authoring != nil {
		r.Route("/api", func(r chi.Router) {
			if authMiddleware != nil {
				r.Use(authMiddleware)
			}
			s.authoring.Routes(r)
		})
	}

	if s.cfg.WebAdminPassword != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/api/audit-log", s.handleAdminAuditLog)
			r.Get("/api/stats", s.handleAdminStats)
			r.Get("/api/log", s.handleAdminLogSnapshot)
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%s - a federated social event platform.\nRunning on %s\n", softwareName, s.cfg.BaseURL)
	})

	return r
}

// ─── ActivityPub handlers ──────────────────────────────────────────────────

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	u, err := s.store.GetUserByUsername(username)
	if err != nil {
		slog.Error("get user for actor", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if u == nil || u.IsRemote || u.Tombstoned {
		http.NotFound(w, r)
		return
	}

	actorURL := activitypub.ActorURL(s.cfg.BaseURL, username)
	actor := &activitypub.Actor{
		ID:                actorURL,
		Type:              "Person",
		PreferredUsername: username,
		Name:              u.DisplayName,
		Summary:           u.Summary,
		Inbox:             actorURL + "/inbox",
		Outbox:            actorURL + "/outbox",
		Followers:         actorURL + "/followers",
		Following:         actorURL + "/following",
		PublicKey: &activitypub.PublicKey{
			ID:           actorURL + "#main-key",
			Owner:        actorURL,
			PublicKeyPem: u.RSAPublicKeyPEM,
		},
		Endpoints: &activitypub.Endpoints{
			SharedInbox: s.cfg.Path("/inbox"),
		},
	}
	if u.IconURL != "" {
		actor.Icon = &activitypub.Image{Type: "Image", URL: u.IconURL}
	}
	apResponse(w, activitypub.WithContext(actor))
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	u, ok := s.localUser(w, r)
	if !ok {
		return
	}
	followers, err := s.store.ListFollowers(u.ID)
	if err != nil {
		slog.Error("list followers", "error", err)
		followers = nil
	}
	items := make([]string, 0, len(followers))
	for _, f := range followers {
		items = append(items, f.ActorURL)
	}
	collection := activitypub.OrderedCollection{
		Context:      activitypub.DefaultContext,
		ID:           activitypub.FollowersURL(s.cfg.BaseURL, u.Username),
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}
	apResponse(w, collection)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	u, ok := s.localUser(w, r)
	if !ok {
		return
	}
	following, err := s.store.ListFollowing(u.ID)
	if err != nil {
		slog.Error("list following", "error", err)
		following = nil
	}
	items := make([]string, 0, len(following))
	for _, f := range following {
		if f.Accepted {
			items = append(items, f.ActorURL)
		}
	}
	collection := activitypub.OrderedCollection{
		Context:      activitypub.DefaultContext,
		ID:           activitypub.ActorURL(s.cfg.BaseURL, u.Username) + "/following",
		Type:         "OrderedCollection",
		TotalItems:   len(items),
		OrderedItems: items,
	}
	apResponse(w, collection)
}

const outboxPageSize = 20

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	u, ok := s.localUser(w, r)
	if !ok {
		return
	}
	actorURL := activitypub.ActorURL(s.cfg.BaseURL, u.Username)
	outboxURL := actorURL + "/outbox"

	events, err := s.store.ListEventsByAuthor(u.ID, outboxPageSize)
	if err != nil {
		slog.Warn("outbox: list events failed", "error", err)
		events = nil
	}

	if r.URL.Query().Get("page") == "true" {
		items := make([]interface{}, 0, len(events))
		for _, e := range events {
			if e.Visibility != model.VisibilityPublic {
				continue
			}
			addr := activitypub.AddressFor(e.Visibility, activitypub.FollowersURL(s.cfg.BaseURL, u.Username), nil)
			obj := activitypub.EventToObject(e, addr)
			items = append(items, map[string]interface{}{
				"type":   "Create",
				"id":     e.ExternalID + "#create",
				"actor":  actorURL,
				"object": obj,
				"to":     addr.To,
			})
		}
		page := map[string]interface{}{
			"@context":     activitypub.DefaultContext,
			"id":           outboxURL + "?page=true",
			"type":         "OrderedCollectionPage",
			"partOf":       outboxURL,
			"orderedItems": items,
		}
		apResponse(w, page)
		return
	}

	collection := map[string]interface{}{
		"@context":   activitypub.DefaultContext,
		"id":         outboxURL,
		"type":       "OrderedCollection",
		"totalItems": len(events),
		"first":      outboxURL + "?page=true",
	}
	apResponse(w, collection)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	objectURL := s.cfg.Path("/objects/" + id)

	if e, err := s.store.GetEventByExternalID(objectURL); err != nil {
		slog.Error("get event by external id", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	} else if e != nil {
		followersURL := activitypub.FollowersURL(s.cfg.BaseURL, "")
		if author, err := s.store.GetUserByID(e.AuthorID); err == nil && author != nil {
			followersURL = activitypub.FollowersURL(s.cfg.BaseURL, author.Username)
		}
		addr := activitypub.AddressFor(e.Visibility, followersURL, nil)
		obj := activitypub.EventToObject(e, addr)
		apResponse(w, activitypub.WithContext(obj))
		return
	}

	if c, err := s.store.GetCommentByExternalID(objectURL); err != nil {
		slog.Error("get comment by external id", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	} else if c != nil {
		author, _ := s.store.GetUserByID(c.AuthorID)
		actorURL := ""
		if author != nil {
			actorURL = author.ActorURL
			if author.IsLocal() {
				actorURL = activitypub.ActorURL(s.cfg.BaseURL, author.Username)
			}
		}
		event, _ := s.store.GetEvent(c.EventID)
		inReplyTo := ""
		if event != nil {
			inReplyTo = event.ExternalID
		}
		followersURL := ""
		if author != nil && author.IsLocal() {
			followersURL = activitypub.FollowersURL(s.cfg.BaseURL, author.Username)
		}
		addr := activitypub.AddressFor(model.VisibilityPublic, followersURL, nil)
		note := activitypub.CommentToObject(c, actorURL, addr, inReplyTo, nil)
		apResponse(w, activitypub.WithContext(note))
		return
	}

	http.NotFound(w, r)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	origin := actorOrigin(body, r.RemoteAddr)

	if !s.inboxLimiter.acquire(origin) {
		slog.Warn("per-origin inbox rate limit exceeded", "origin", origin)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.inboxSem <- struct{}{}:
	default:
		s.inboxLimiter.release(origin)
		slog.Warn("inbox overloaded, dropping activity", "remote", r.RemoteAddr)
		http.Error(w, "too many requests", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-s.inboxSem }()
	defer s.inboxLimiter.release(origin)

	status := s.processor.Handle(r, body)
	w.WriteHeader(status)
}

func (s *Server) handleServiceActor(w http.ResponseWriter, r *http.Request) {
	actor := &activitypub.Actor{
		ID:                s.cfg.Path("/actor"),
		Type:              "Application",
		Name:              softwareName,
		PreferredUsername: softwareName,
		Inbox:             s.cfg.Path("/inbox"),
		PublicKey: &activitypub.PublicKey{
			ID:           s.cfg.Path("/actor#main-key"),
			Owner:        s.cfg.Path("/actor"),
			PublicKeyPem: s.keyPair.PublicPEM,
		},
	}
	apResponse(w, activitypub.WithContext(actor))
}

// ─── Realtime stream ───────────────────────────────────────────────────────

// handleStream serves an SSE stream of realtime events, optionally scoped to
// the caller's own notifications via ?user_id=. The caller's own auth
// middleware (mounted ahead of this handler by the composition root, if
// desired) is responsible for validating that user_id claim; this handler
// trusts whatever is on the query string, same as the rest of the
// unauthenticated federation surface.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var userID *int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		var id int64
		if _, err := fmt.Sscanf(raw, "%d", &id); err == nil {
			userID = &id
		}
	}

	ch, cancel := s.broadcaster.Subscribe(userID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Discovery handlers ────────────────────────────────────────────────────

func (s *Server) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		http.Error(w, "missing resource", http.StatusBadRequest)
		return
	}

	acct := strings.TrimPrefix(resource, "acct:")
	parts := strings.SplitN(acct, "@", 2)
	if len(parts) != 2 {
		http.Error(w, "invalid resource", http.StatusBadRequest)
		return
	}

	username, host := parts[0], parts[1]
	if host != s.cfg.URL().Host {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	u, err := s.store.GetUserByUsername(username)
	if err != nil {
		slog.Error("webfinger lookup", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if u == nil || u.IsRemote || u.Tombstoned {
		http.NotFound(w, r)
		return
	}

	actorURL := activitypub.ActorURL(s.cfg.BaseURL, username)
	resp := activitypub.WebFingerResponse{
		Subject: resource,
		Aliases: []string{actorURL},
		Links: []activitypub.WebFingerLink{
			{Rel: "self", Type: activityJSONType, Href: actorURL},
		},
	}

	w.Header().Set("Content-Type", "application/jrd+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	cacheHeaders(w, 3600)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHostMeta(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xrd+xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="%s/.well-known/webfinger?resource={uri}"/>
</XRD>`, strings.TrimRight(s.cfg.BaseURL, "/"))
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"links": []map[string]string{
			{"rel": "http://nodeinfo.diaspora.software/ns/schema/2.1", "href": s.cfg.Path("/nodeinfo/2.1")},
		},
	}
	cacheHeaders(w, 3600)
	jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) handleNodeInfoSchema(w http.ResponseWriter, r *http.Request) {
	v := chi.URLParam(r, "version")
	if v != "2.0" && v != "2.1" {
		http.Error(w, "unsupported nodeinfo version", http.StatusNotFound)
		return
	}

	stats, err := s.store.InstanceStats()
	if err != nil {
		slog.Warn("nodeinfo: instance stats failed", "error", err)
	}

	info := activitypub.NodeInfo{
		Version:   "2.1",
		Software:  activitypub.NodeInfoSoftware{Name: softwareName, Version: version},
		Protocols: []string{"activitypub"},
		Usage:     activitypub.NodeInfoUsage{Users: activitypub.NodeInfoUsers{Total: stats.LocalUserCount}},
	}
	cacheHeaders(w, 3600)
	jsonResponse(w, info, http.StatusOK)
}

func (s *Server) localUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	username := chi.URLParam(r, "username")
	u, err := s.store.GetUserByUsername(username)
	if err != nil {
		slog.Error("lookup local user", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if u == nil || u.IsRemote {
		http.NotFound(w, r)
		return nil, false
	}
	return u, true
}

// actorOrigin extracts the hostname of the AP actor from the raw activity
// body, falling back to the remote IP. Used as the key for per-origin
// inbox rate limiting.
func actorOrigin(body []byte, remoteAddr string) string {
	var a struct {
		Actor string `json:"actor"`
	}
	if json.Unmarshal(body, &a) == nil && a.Actor != "" {
		if u, err := url.Parse(a.Actor); err == nil && u.Host != "" {
			return u.Host
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ─── Utility functions ─────────────────────────────────────────────────────

func apResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", activityJSONType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode AP response", "error", err)
	}
}

func jsonResponse(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func cacheHeaders(w http.ResponseWriter, maxAge int) {
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Unwrap allows http.ResponseController to reach the underlying
// ResponseWriter so SetWriteDeadline works correctly for long-lived SSE
// connections.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
