package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klppl/gathernet/internal/model"
)

// CreateReminder schedules a single pending reminder for a user's upcoming
// event.
func (s *Store) CreateReminder(r *model.Reminder) (int64, error) {
	q := fmt.Sprintf(`INSERT INTO reminders (user_id, event_id, remind_at, minutes_before_start, status)
		VALUES (%s)`, s.phList(1, 5))
	res, err := s.db.Exec(q, r.UserID, r.EventID, r.RemindAt.Format(time.RFC3339Nano),
		r.MinutesBeforeStart, string(model.ReminderPending))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	r.Status = model.ReminderPending
	return id, nil
}

func (s *Store) CancelReminder(id int64) error {
	q := fmt.Sprintf(`UPDATE reminders SET status=%s WHERE id=%s AND status=%s`, s.ph(1), s.ph(2), s.ph(3))
	_, err := s.db.Exec(q, string(model.ReminderCancelled), id, string(model.ReminderPending))
	return err
}

func scanReminder(row interface{ Scan(...interface{}) error }) (*model.Reminder, error) {
	var r model.Reminder
	var remindAt string
	if err := row.Scan(&r.ID, &r.UserID, &r.EventID, &remindAt, &r.MinutesBeforeStart, &r.Status); err != nil {
		return nil, err
	}
	r.RemindAt, _ = time.Parse(time.RFC3339Nano, remindAt)
	return &r, nil
}

const reminderCols = `id, user_id, event_id, remind_at, minutes_before_start, status`

// ClaimDueReminders atomically claims every PENDING reminder whose
// remind_at has passed, flipping each to SENT via a status-guarded UPDATE so
// that two concurrent schedulers cannot both claim the same row. SQLite
// serializes writers, so the guarded UPDATE is sufficient without a
// SELECT ... FOR UPDATE.
func (s *Store) ClaimDueReminders(limit int) ([]*model.Reminder, error) {
	selectQ := fmt.Sprintf(`SELECT %s FROM reminders WHERE status=%s AND remind_at <= %s
		ORDER BY remind_at LIMIT %s`, reminderCols, s.ph(1), s.ph(2), s.ph(3))
	rows, err := s.db.Query(selectQ, string(model.ReminderPending), time.Now().UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, err
	}
	var candidates []*model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*model.Reminder
	for _, r := range candidates {
		claimQ := fmt.Sprintf(`UPDATE reminders SET status=%s WHERE id=%s AND status=%s`,
			s.ph(1), s.ph(2), s.ph(3))
		res, err := s.db.Exec(claimQ, string(model.ReminderSent), r.ID, string(model.ReminderPending))
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			r.Status = model.ReminderSent
			claimed = append(claimed, r)
		}
	}
	return claimed, nil
}

func (s *Store) GetReminder(id int64) (*model.Reminder, error) {
	q := fmt.Sprintf(`SELECT %s FROM reminders WHERE id=%s`, reminderCols, s.ph(1))
	r, err := scanReminder(s.db.QueryRow(q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListRemindersForEvent returns all reminders (any status) for an event.
func (s *Store) ListRemindersForEvent(eventID int64) ([]*model.Reminder, error) {
	q := fmt.Sprintf(`SELECT %s FROM reminders WHERE event_id=%s`, reminderCols, s.ph(1))
	rows, err := s.db.Query(q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
