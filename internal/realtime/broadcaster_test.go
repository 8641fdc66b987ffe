package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/model"
)

func TestPublishBroadcastsToAllWhenUntargeted(t *testing.T) {
	b := NewBroadcaster()
	uid := int64(1)
	ch1, cancel1 := b.Subscribe(&uid)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(nil)
	defer cancel2()

	b.Publish(model.BroadcastMessage{Type: model.BroadcastEventCreated})

	for _, ch := range []<-chan model.BroadcastMessage{ch1, ch2} {
		select {
		case msg := <-ch:
			require.Equal(t, model.BroadcastEventCreated, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("expected message, got none")
		}
	}
}

func TestPublishTargetedOnlyReachesMatchingUser(t *testing.T) {
	b := NewBroadcaster()
	alice := int64(1)
	bob := int64(2)
	aliceCh, cancelA := b.Subscribe(&alice)
	defer cancelA()
	bobCh, cancelB := b.Subscribe(&bob)
	defer cancelB()
	anonCh, cancelAnon := b.Subscribe(nil)
	defer cancelAnon()

	b.Publish(model.BroadcastMessage{Type: model.BroadcastNotificationCreate, TargetUserID: &alice})

	select {
	case msg := <-aliceCh:
		require.Equal(t, model.BroadcastNotificationCreate, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("alice should have received the targeted message")
	}

	select {
	case <-bobCh:
		t.Fatal("bob should not have received alice's targeted message")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-anonCh:
		t.Fatal("anonymous subscriber should not receive targeted messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsRatherThanBlocksPublisher(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(nil)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize+50; i++ {
			b.Publish(model.BroadcastMessage{Type: model.BroadcastLikeAdded})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	_ = ch
}
