// Package realtime fans out BroadcastMessage events to SSE subscribers.
package realtime

import (
	"sync"

	"github.com/klppl/gathernet/internal/model"
)

const subscriberQueueSize = 128

// Broadcaster fans out BroadcastMessages to subscribers, optionally
// targeted at one user. A slow subscriber has messages dropped rather than
// blocking the publisher.
type Broadcaster struct {
	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	userID *int64 // nil: subscriber receives only messages with no target
	ch     chan model.BroadcastMessage
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers a new subscriber and returns its receive channel and a
// cancel func that must be called when the subscriber disconnects. userID,
// if non-nil, restricts delivery to messages with a matching TargetUserID
// or no target at all (instance-wide broadcasts).
func (b *Broadcaster) Subscribe(userID *int64) (<-chan model.BroadcastMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{userID: userID, ch: make(chan model.BroadcastMessage, subscriberQueueSize)}
	b.subs = append(b.subs, sub)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Publish fans msg out to every matching subscriber. A subscriber whose
// queue is full has this message dropped; delivery order is still preserved
// per-subscriber since messages are never dropped out of order, only
// skipped.
func (b *Broadcaster) Publish(msg model.BroadcastMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !matches(sub, msg) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

func matches(sub *subscription, msg model.BroadcastMessage) bool {
	if msg.TargetUserID == nil {
		return true
	}
	if sub.userID == nil {
		return false
	}
	return *sub.userID == *msg.TargetUserID
}
