package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klppl/gathernet/internal/model"
)

// CreateNotification inserts a new unread notification.
func (s *Store) CreateNotification(n *model.Notification) (int64, error) {
	n.CreatedAt = time.Now().UTC()
	var actorID interface{}
	if n.ActorID != nil {
		actorID = *n.ActorID
	}
	q := fmt.Sprintf(`INSERT INTO notifications (user_id, actor_id, type, title, body, data, read, read_at, created_at)
		VALUES (%s)`, s.phList(1, 9))
	res, err := s.db.Exec(q, n.UserID, actorID, string(n.Type), n.Title, n.Body, n.Data, 0, "",
		n.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	n.ID = id
	return id, nil
}

func scanNotification(row interface{ Scan(...interface{}) error }) (*model.Notification, error) {
	var n model.Notification
	var actorID sql.NullInt64
	var read int
	var readAt, createdAt string
	if err := row.Scan(&n.ID, &n.UserID, &actorID, &n.Type, &n.Title, &n.Body, &n.Data,
		&read, &readAt, &createdAt); err != nil {
		return nil, err
	}
	if actorID.Valid {
		v := actorID.Int64
		n.ActorID = &v
	}
	n.Read = read != 0
	if readAt != "" {
		t, err := time.Parse(time.RFC3339Nano, readAt)
		if err == nil {
			n.ReadAt = &t
		}
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &n, nil
}

const notificationCols = `id, user_id, actor_id, type, title, body, data, read, read_at, created_at`

// ListNotifications returns a user's notifications newest-first.
func (s *Store) ListNotifications(userID int64, limit int) ([]*model.Notification, error) {
	q := fmt.Sprintf(`SELECT %s FROM notifications WHERE user_id=%s ORDER BY created_at DESC LIMIT %s`,
		notificationCols, s.ph(1), s.ph(2))
	rows, err := s.db.Query(q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flips the read flag; a no-op if already read.
func (s *Store) MarkNotificationRead(id int64) error {
	q := fmt.Sprintf(`UPDATE notifications SET read=1, read_at=%s WHERE id=%s AND read=0`, s.ph(1), s.ph(2))
	_, err := s.db.Exec(q, time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

func (s *Store) GetNotification(id int64) (*model.Notification, error) {
	q := fmt.Sprintf(`SELECT %s FROM notifications WHERE id=%s`, notificationCols, s.ph(1))
	n, err := scanNotification(s.db.QueryRow(q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}
