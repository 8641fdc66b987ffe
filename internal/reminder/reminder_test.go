package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNextOccurrenceMonthly(t *testing.T) {
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	rec := &model.Recurrence{Pattern: model.RecurrenceMonthly}
	next, ok := NextOccurrence(start, rec, start)
	require.True(t, ok)
	require.Equal(t, 3, int(next.Month()))
}

func TestNextOccurrenceStopsAtRecurrenceEnd(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	rec := &model.Recurrence{Pattern: model.RecurrenceDaily, RecurrenceEndDate: &end}

	_, ok := NextOccurrence(start, rec, end.AddDate(0, 0, 1))
	require.False(t, ok)
}

func TestSchedulerFiresDueReminderAndBroadcasts(t *testing.T) {
	st := newTestStore(t)
	uid, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)
	eid, err := st.CreateEvent(&model.Event{
		AuthorID: uid, AttributedTo: "https://gathernet.example/users/alice", Title: "Standup",
		Timezone: "UTC", StartTime: time.Now().Add(time.Hour), EndTime: time.Now().Add(2 * time.Hour),
		Visibility: model.VisibilityPublic,
	})
	require.NoError(t, err)
	_, err = st.CreateReminder(&model.Reminder{UserID: uid, EventID: eid, RemindAt: time.Now().Add(-time.Minute), MinutesBeforeStart: 60})
	require.NoError(t, err)

	b := realtime.NewBroadcaster()
	ch, cancel := b.Subscribe(&uid)
	defer cancel()

	sched := &Scheduler{Store: st, Broadcaster: b, BatchSize: 10}
	sched.runPass(10)

	select {
	case msg := <-ch:
		require.Equal(t, model.BroadcastNotificationCreate, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a reminder broadcast")
	}

	notifications, err := st.ListNotifications(uid, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, model.NotificationReminder, notifications[0].Type)
}

func TestSchedulerMaterializesNextOccurrenceForRecurringEvent(t *testing.T) {
	st := newTestStore(t)
	uid, err := st.CreateLocalUser(&model.User{Username: "alice", Timezone: "UTC"})
	require.NoError(t, err)

	start := time.Now().Add(time.Hour)
	eid, err := st.CreateEvent(&model.Event{
		AuthorID: uid, AttributedTo: "https://gathernet.example/users/alice", Title: "Standup",
		Timezone: "UTC", StartTime: start, EndTime: start.Add(30 * time.Minute),
		Visibility: model.VisibilityPublic,
		Recurrence: &model.Recurrence{Pattern: model.RecurrenceDaily},
	})
	require.NoError(t, err)
	_, err = st.CreateReminder(&model.Reminder{UserID: uid, EventID: eid, RemindAt: time.Now().Add(-time.Minute), MinutesBeforeStart: 60})
	require.NoError(t, err)

	sched := &Scheduler{Store: st, BatchSize: 10}
	sched.runPass(10)

	updated, err := st.GetEvent(eid)
	require.NoError(t, err)
	require.True(t, updated.StartTime.After(start), "event should have advanced to its next occurrence")
	require.Equal(t, 30*time.Minute, updated.EndTime.Sub(updated.StartTime), "duration must be preserved across materialization")

	pending, err := st.ListRemindersForEvent(eid)
	require.NoError(t, err)
	require.Len(t, pending, 2, "original sent reminder plus the newly scheduled next occurrence")
}
