package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MarkActivityProcessed records an inbound activity id for replay defense.
// The unique index on activity_id makes a concurrent double-insert fail;
// callers treat that as "already processed" rather than an error.
func (s *Store) MarkActivityProcessed(activityID string, ttl time.Duration) error {
	q := fmt.Sprintf(`INSERT INTO processed_activities (activity_id, expires_at) VALUES (%s)`, s.phList(1, 2))
	_, err := s.db.Exec(q, activityID, time.Now().UTC().Add(ttl).Format(time.RFC3339Nano))
	return err
}

// WasActivityProcessed reports whether an activity id has already been
// recorded.
func (s *Store) WasActivityProcessed(activityID string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM processed_activities WHERE activity_id=%s`, s.ph(1))
	var one int
	err := s.db.QueryRow(q, activityID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// GCExpiredActivities deletes processed-activity rows past their TTL.
func (s *Store) GCExpiredActivities() (int64, error) {
	q := fmt.Sprintf(`DELETE FROM processed_activities WHERE expires_at < %s`, s.ph(1))
	res, err := s.db.Exec(q, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeliveryTask is a single queued outbound delivery attempt, persisted so
// the worker pool can resume after a restart.
type DeliveryTask struct {
	ID            int64
	InboxURL      string
	SenderUserID  int64
	ActivityJSON  string
	Attempt       int
	NextAttemptAt time.Time
	Status        string // "pending", "done", "failed"
	EnqueuedAt    time.Time
	LastError     string
}

// EnqueueDelivery persists a new delivery task, ready for immediate pickup.
func (s *Store) EnqueueDelivery(inboxURL string, senderUserID int64, activityJSON string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	q := fmt.Sprintf(`INSERT INTO delivery_tasks (inbox_url, sender_user_id, activity_json,
		attempt, next_attempt_at, status, enqueued_at, last_error) VALUES (%s)`, s.phList(1, 8))
	res, err := s.db.Exec(q, inboxURL, senderUserID, activityJSON, 0, now, "pending", now, "")
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanDeliveryTask(row interface{ Scan(...interface{}) error }) (*DeliveryTask, error) {
	var t DeliveryTask
	var nextAttemptAt, enqueuedAt string
	if err := row.Scan(&t.ID, &t.InboxURL, &t.SenderUserID, &t.ActivityJSON, &t.Attempt,
		&nextAttemptAt, &t.Status, &enqueuedAt, &t.LastError); err != nil {
		return nil, err
	}
	t.NextAttemptAt, _ = time.Parse(time.RFC3339Nano, nextAttemptAt)
	t.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
	return &t, nil
}

const deliveryTaskCols = `id, inbox_url, sender_user_id, activity_json, attempt, next_attempt_at, status, enqueued_at, last_error`

// ListDueDeliveryTasks returns pending tasks whose next_attempt_at has
// passed, oldest-enqueued-first within each inbox (FIFO per recipient inbox).
func (s *Store) ListDueDeliveryTasks(limit int) ([]*DeliveryTask, error) {
	q := fmt.Sprintf(`SELECT %s FROM delivery_tasks WHERE status=%s AND next_attempt_at <= %s
		ORDER BY inbox_url, enqueued_at LIMIT %s`, deliveryTaskCols, s.ph(1), s.ph(2), s.ph(3))
	rows, err := s.db.Query(q, "pending", time.Now().UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DeliveryTask
	for rows.Next() {
		t, err := scanDeliveryTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkDeliveryDone removes a completed task.
func (s *Store) MarkDeliveryDone(id int64) error {
	q := fmt.Sprintf(`DELETE FROM delivery_tasks WHERE id=%s`, s.ph(1))
	_, err := s.db.Exec(q, id)
	return err
}

// RescheduleDelivery bumps the attempt counter and sets the next retry time
// per the backoff schedule, or marks the task "failed" once attempts are
// exhausted.
func (s *Store) RescheduleDelivery(id int64, nextAttempt time.Time, attempt int, lastErr string, exhausted bool) error {
	status := "pending"
	if exhausted {
		status = "failed"
	}
	q := fmt.Sprintf(`UPDATE delivery_tasks SET attempt=%s, next_attempt_at=%s, status=%s, last_error=%s
		WHERE id=%s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.Exec(q, attempt, nextAttempt.Format(time.RFC3339Nano), status, lastErr, id)
	return err
}

func (s *Store) GetDeliveryTask(id int64) (*DeliveryTask, error) {
	q := fmt.Sprintf(`SELECT %s FROM delivery_tasks WHERE id=%s`, deliveryTaskCols, s.ph(1))
	t, err := scanDeliveryTask(s.db.QueryRow(q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}
