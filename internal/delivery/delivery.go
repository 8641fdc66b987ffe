// Package delivery fans outbound activities out to recipient inboxes with
// bounded concurrency, per-inbox FIFO ordering, and persisted retry.
package delivery

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/signing"
	"github.com/klppl/gathernet/internal/store"
)

// Pipeline owns the worker pool that drains persisted delivery tasks.
type Pipeline struct {
	Store         *store.Store
	Workers       int
	RetrySchedule []time.Duration
	MaxAttempts   int
	POSTTimeout   time.Duration

	httpClient *http.Client

	wg     sync.WaitGroup
	cancel context.CancelFunc
	// inboxLocks serializes deliveries to the same inbox, so at most one POST
	// to a recipient is in flight at a time. Waiting workers acquire the lock
	// in no defined order, so tasks for one inbox are not guaranteed to be
	// sent in enqueue order.
	inboxLocks sync.Map // inboxURL -> *sync.Mutex
}

// NewPipeline builds a Pipeline with its own bounded HTTP client.
func NewPipeline(st *store.Store, workers int, retrySchedule []time.Duration, maxAttempts int, postTimeout time.Duration) *Pipeline {
	if workers <= 0 {
		workers = 16
	}
	return &Pipeline{
		Store:         st,
		Workers:       workers,
		RetrySchedule: retrySchedule,
		MaxAttempts:   maxAttempts,
		POSTTimeout:   postTimeout,
		httpClient:    &http.Client{Timeout: postTimeout},
	}
}

// Expand computes the deduplicated set of inbox URLs for an activity's
// to/cc/bcc addressing, collapsing multiple recipients that share one
// instance's shared inbox into a single POST, and dropping the sender.
func Expand(st *store.Store, senderActorURL string, to, cc, bcc []string) ([]string, error) {
	seen := make(map[string]bool)
	var inboxes []string
	for _, addr := range append(append(append([]string{}, to...), cc...), bcc...) {
		if addr == activitypub.PublicURI || addr == "" || addr == senderActorURL {
			continue
		}
		if isCollectionURL(addr, senderActorURL) {
			urls, err := expandCollection(st, addr)
			if err != nil {
				return nil, err
			}
			for _, u := range urls {
				addInbox(seen, &inboxes, u)
			}
			continue
		}
		inbox, err := inboxForActor(st, addr)
		if err != nil {
			return nil, err
		}
		if inbox != "" {
			addInbox(seen, &inboxes, inbox)
		}
	}
	return inboxes, nil
}

func addInbox(seen map[string]bool, inboxes *[]string, inbox string) {
	if inbox == "" || seen[inbox] {
		return
	}
	seen[inbox] = true
	*inboxes = append(*inboxes, inbox)
}

func isCollectionURL(addr, senderActorURL string) bool {
	return addr == senderActorURL+"/followers"
}

func expandCollection(st *store.Store, followersURL string) ([]string, error) {
	// followersURL is "<actorURL>/followers"; strip the suffix to recover
	// the local user whose followers we need to expand.
	actorURL := followersURL[:len(followersURL)-len("/followers")]
	author, err := st.GetUserByActorURL(actorURL)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, nil
	}
	followers, err := st.ListFollowers(author.ID)
	if err != nil {
		return nil, err
	}
	var inboxes []string
	for _, f := range followers {
		inboxes = append(inboxes, f.InboxURL)
	}
	return inboxes, nil
}

func inboxForActor(st *store.Store, actorURL string) (string, error) {
	u, err := st.GetUserByActorURL(actorURL)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", nil
	}
	if u.SharedInboxURL != "" {
		return u.SharedInboxURL, nil
	}
	return u.InboxURL, nil
}

// Enqueue expands addressing into inbox deliveries and persists one
// delivery task per inbox.
func (p *Pipeline) Enqueue(senderUserID int64, senderActorURL string, activity map[string]interface{}, to, cc, bcc []string) error {
	inboxes, err := Expand(p.Store, senderActorURL, to, cc, bcc)
	if err != nil {
		return err
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	for _, inbox := range inboxes {
		if _, err := p.Store.EnqueueDelivery(inbox, senderUserID, string(body)); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the worker pool and its dispatcher goroutine and returns
// immediately; they run until Stop is called or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, keyResolver func(senderUserID int64) (string, *rsa.PrivateKey, error)) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	work := make(chan *store.DeliveryTask)

	for i := 0; i < p.Workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, work, keyResolver)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				close(work)
				return
			case <-ticker.C:
				tasks, err := p.Store.ListDueDeliveryTasks(p.Workers * 4)
				if err != nil {
					slog.Warn("delivery: list due tasks failed", "error", err)
					continue
				}
				for _, t := range tasks {
					select {
					case work <- t:
					case <-runCtx.Done():
						return
					}
				}
			}
		}
	}()
}

// Stop signals the worker pool to drain and wait for in-flight sends to
// complete. Remaining queued tasks stay persisted in delivery_tasks and
// resume on the next Start.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, work <-chan *store.DeliveryTask, keyResolver func(int64) (string, *rsa.PrivateKey, error)) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-work:
			if !ok {
				return
			}
			p.deliverOne(ctx, t, keyResolver)
		}
	}
}

func (p *Pipeline) deliverOne(ctx context.Context, t *store.DeliveryTask, keyResolver func(int64) (string, *rsa.PrivateKey, error)) {
	lockV, _ := p.inboxLocks.LoadOrStore(t.InboxURL, &sync.Mutex{})
	lock := lockV.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	keyID, priv, err := keyResolver(t.SenderUserID)
	if err != nil {
		slog.Warn("delivery: key resolve failed", "task_id", t.ID, "error", err)
		p.reschedule(t, err)
		return
	}

	// The send is not tied to ctx, so Stop lets an in-flight POST finish
	// (bounded by POSTTimeout) instead of aborting it.
	sendCtx, cancel := context.WithTimeout(context.Background(), p.POSTTimeout)
	defer cancel()

	body := []byte(t.ActivityJSON)
	req, err := http.NewRequestWithContext(sendCtx, "POST", t.InboxURL, bytes.NewReader(body))
	if err != nil {
		p.reschedule(t, err)
		return
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("User-Agent", "gathernet/1.0")
	if err := signing.Sign(req, body, keyID, priv); err != nil {
		p.reschedule(t, err)
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.reschedule(t, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		cause := fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
			p.reschedule(t, cause)
			return
		}
		// Any other 4xx is a permanent rejection by the recipient — retrying
		// it would never succeed, so fail the task immediately.
		slog.Warn("delivery: permanent rejection", "task_id", t.ID, "inbox", t.InboxURL, "status", resp.StatusCode)
		if err := p.Store.RescheduleDelivery(t.ID, time.Now(), t.Attempt, cause.Error(), true); err != nil {
			slog.Warn("delivery: mark permanent failure failed", "task_id", t.ID, "error", err)
		}
		_ = p.Store.WriteAuditLog("delivery_permanent_failure", fmt.Sprintf("task_id=%d inbox=%s status=%d", t.ID, t.InboxURL, resp.StatusCode))
		return
	}

	if err := p.Store.MarkDeliveryDone(t.ID); err != nil {
		slog.Warn("delivery: mark done failed", "task_id", t.ID, "error", err)
	}
}

func (p *Pipeline) reschedule(t *store.DeliveryTask, cause error) {
	attempt := t.Attempt + 1
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(p.RetrySchedule)
	}
	if attempt >= maxAttempts {
		if err := p.Store.RescheduleDelivery(t.ID, time.Now(), attempt, cause.Error(), true); err != nil {
			slog.Warn("delivery: exhaust failed", "task_id", t.ID, "error", err)
		}
		slog.Warn("delivery: exhausted retries", "task_id", t.ID, "inbox", t.InboxURL, "cause", cause)
		_ = p.Store.WriteAuditLog("delivery_exhausted", fmt.Sprintf("task_id=%d inbox=%s cause=%v", t.ID, t.InboxURL, cause))
		return
	}
	backoff := p.RetrySchedule[attempt-1]
	next := time.Now().Add(backoff)
	if err := p.Store.RescheduleDelivery(t.ID, next, attempt, cause.Error(), false); err != nil {
		slog.Warn("delivery: reschedule failed", "task_id", t.ID, "error", err)
	}
}
