// Package reminder schedules and fires per-user event reminders.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/store"
)

// Scheduler claims due reminders on a fixed tick and turns each into a
// Notification, broadcast to the owning user in real time.
type Scheduler struct {
	Store       *store.Store
	Broadcaster *realtime.Broadcaster
	// TickInterval between claim passes. Defaults to 1s if zero.
	TickInterval time.Duration
	// TriggerCh, if non-nil, causes an immediate claim pass when sent to.
	TriggerCh <-chan struct{}
	// BatchSize bounds how many due reminders are claimed per pass.
	BatchSize int
}

// Start begins the periodic claim loop. Blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}

	slog.Info("reminder scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.runPass(batch)
		case <-s.TriggerCh:
			s.runPass(batch)
		}
	}
}

func (s *Scheduler) runPass(batch int) {
	due, err := s.Store.ClaimDueReminders(batch)
	if err != nil {
		slog.Warn("reminder claim failed", "error", err)
		return
	}
	for _, r := range due {
		s.fire(r)
	}
}

func (s *Scheduler) fire(r *model.Reminder) {
	event, err := s.Store.GetEvent(r.EventID)
	if err != nil || event == nil {
		slog.Warn("reminder fired for missing event", "reminder_id", r.ID, "event_id", r.EventID)
		return
	}

	n := &model.Notification{
		UserID: r.UserID,
		Type:   model.NotificationReminder,
		Title:  fmt.Sprintf("Starting in %d minutes", r.MinutesBeforeStart),
		Body:   event.Title,
	}
	if _, err := s.Store.CreateNotification(n); err != nil {
		slog.Warn("reminder notification create failed", "error", err)
		return
	}

	if s.Broadcaster != nil {
		uid := r.UserID
		s.Broadcaster.Publish(model.BroadcastMessage{
			Type:         model.BroadcastNotificationCreate,
			TargetUserID: &uid,
			Payload:      n,
		})
	}

	s.materializeNextOccurrence(event, r)
}

// materializeNextOccurrence advances a recurring event to its next
// occurrence and schedules the same user's reminder at the same
// minutesBeforeStart offset ahead of it. A non-recurring event, or a
// series that has reached its recurrenceEndDate, is left untouched.
func (s *Scheduler) materializeNextOccurrence(event *model.Event, r *model.Reminder) {
	if event.Recurrence == nil {
		return
	}
	duration := event.EndTime.Sub(event.StartTime)
	next, ok := NextOccurrence(event.StartTime, event.Recurrence, event.StartTime)
	if !ok {
		return
	}
	event.StartTime = next
	event.EndTime = next.Add(duration)
	if err := s.Store.UpdateEvent(event); err != nil {
		slog.Warn("reminder: advance recurring event failed", "event_id", event.ID, "error", err)
		return
	}
	if err := ScheduleForEvent(s.Store, r.UserID, event.ID, next, r.MinutesBeforeStart); err != nil {
		slog.Warn("reminder: schedule next occurrence failed", "event_id", event.ID, "error", err)
	}
}

// NextOccurrence computes the next start time of a recurring event strictly
// after after, applying rec's pattern until the result exceeds
// rec.RecurrenceEndDate (if set). Returns (time.Time{}, false) once the
// series has ended.
func NextOccurrence(start time.Time, rec *model.Recurrence, after time.Time) (time.Time, bool) {
	if rec == nil {
		return time.Time{}, false
	}
	next := start
	for !next.After(after) {
		switch rec.Pattern {
		case model.RecurrenceDaily:
			next = next.AddDate(0, 0, 1)
		case model.RecurrenceWeekly:
			next = next.AddDate(0, 0, 7)
		case model.RecurrenceMonthly:
			next = next.AddDate(0, 1, 0)
		case model.RecurrenceYearly:
			next = next.AddDate(1, 0, 0)
		default:
			return time.Time{}, false
		}
		if rec.RecurrenceEndDate != nil && next.After(*rec.RecurrenceEndDate) {
			return time.Time{}, false
		}
	}
	return next, true
}

// ScheduleForEvent creates a PENDING reminder minutesBeforeStart minutes
// ahead of event's start time, skipping if that moment has already passed.
func ScheduleForEvent(st *store.Store, userID, eventID int64, startTime time.Time, minutesBeforeStart int) error {
	remindAt := startTime.Add(-time.Duration(minutesBeforeStart) * time.Minute)
	if remindAt.Before(time.Now()) {
		return nil
	}
	_, err := st.CreateReminder(&model.Reminder{
		UserID:             userID,
		EventID:            eventID,
		RemindAt:           remindAt,
		MinutesBeforeStart: minutesBeforeStart,
	})
	return err
}
