package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klppl/gathernet/internal/model"
)

// SetAttendance upserts a user's attendance status for an event.
func (s *Store) SetAttendance(a *model.Attendance) error {
	a.UpdatedAt = time.Now().UTC()
	existing, err := s.GetAttendance(a.EventID, a.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		q := fmt.Sprintf(`UPDATE attendances SET status=%s, external_id=%s, updated_at=%s
			WHERE event_id=%s AND user_id=%s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
		_, err := s.db.Exec(q, string(a.Status), a.ExternalID, a.UpdatedAt.Format(time.RFC3339Nano), a.EventID, a.UserID)
		return err
	}
	q := fmt.Sprintf(`INSERT INTO attendances (event_id, user_id, status, external_id, updated_at)
		VALUES (%s)`, s.phList(1, 5))
	_, err = s.db.Exec(q, a.EventID, a.UserID, string(a.Status), a.ExternalID, a.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// ClearAttendance removes a user's attendance row for an event; a no-op if
// absent.
func (s *Store) ClearAttendance(eventID, userID int64) error {
	q := fmt.Sprintf(`DELETE FROM attendances WHERE event_id=%s AND user_id=%s`, s.ph(1), s.ph(2))
	_, err := s.db.Exec(q, eventID, userID)
	return err
}

func (s *Store) GetAttendance(eventID, userID int64) (*model.Attendance, error) {
	q := fmt.Sprintf(`SELECT event_id, user_id, status, external_id, updated_at
		FROM attendances WHERE event_id=%s AND user_id=%s`, s.ph(1), s.ph(2))
	row := s.db.QueryRow(q, eventID, userID)
	var a model.Attendance
	var status, updatedAt string
	if err := row.Scan(&a.EventID, &a.UserID, &status, &a.ExternalID, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	a.Status = model.AttendanceStatus(status)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &a, nil
}

// CountAttendance returns the number of "attending" rows for an event, used
// by the trending scorer.
func (s *Store) CountAttendance(eventID int64, since time.Time) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM attendances WHERE event_id=%s AND status=%s AND updated_at >= %s`,
		s.ph(1), s.ph(2), s.ph(3))
	var n int
	err := s.db.QueryRow(q, eventID, string(model.AttendanceAttending), since.Format(time.RFC3339Nano)).Scan(&n)
	return n, err
}

// AddLike inserts a like row; a duplicate (event,user) pair is ignored
// (one like per pair, per the data model).
func (s *Store) AddLike(l *model.Like) error {
	existing, err := s.GetLike(l.EventID, l.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	l.CreatedAt = time.Now().UTC()
	q := fmt.Sprintf(`INSERT INTO likes (event_id, user_id, external_id, created_at) VALUES (%s)`, s.phList(1, 4))
	_, err = s.db.Exec(q, l.EventID, l.UserID, l.ExternalID, l.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// RemoveLike deletes a like row; a no-op if absent (Undo-of-Like idempotence).
func (s *Store) RemoveLike(eventID, userID int64) error {
	q := fmt.Sprintf(`DELETE FROM likes WHERE event_id=%s AND user_id=%s`, s.ph(1), s.ph(2))
	_, err := s.db.Exec(q, eventID, userID)
	return err
}

func (s *Store) GetLike(eventID, userID int64) (*model.Like, error) {
	q := fmt.Sprintf(`SELECT event_id, user_id, external_id, created_at FROM likes
		WHERE event_id=%s AND user_id=%s`, s.ph(1), s.ph(2))
	row := s.db.QueryRow(q, eventID, userID)
	var l model.Like
	var createdAt string
	if err := row.Scan(&l.EventID, &l.UserID, &l.ExternalID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &l, nil
}

func (s *Store) CountLikes(eventID int64, since time.Time) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM likes WHERE event_id=%s AND created_at >= %s`, s.ph(1), s.ph(2))
	var n int
	err := s.db.QueryRow(q, eventID, since.Format(time.RFC3339Nano)).Scan(&n)
	return n, err
}

func (s *Store) GetLikeByExternalID(externalID string) (*model.Like, error) {
	q := fmt.Sprintf(`SELECT event_id, user_id, external_id, created_at FROM likes WHERE external_id=%s`, s.ph(1))
	row := s.db.QueryRow(q, externalID)
	var l model.Like
	var createdAt string
	if err := row.Scan(&l.EventID, &l.UserID, &l.ExternalID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &l, nil
}

// CreateComment inserts a comment and its mention rows in one transaction.
func (s *Store) CreateComment(c *model.Comment, mentionedUserIDs []int64) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	c.CreatedAt = time.Now().UTC()
	var inReplyTo interface{}
	if c.InReplyToID != nil {
		inReplyTo = *c.InReplyToID
	}
	q := fmt.Sprintf(`INSERT INTO comments (event_id, author_id, in_reply_to_id, content, external_id, created_at)
		VALUES (%s)`, s.phList(1, 6))
	res, err := tx.Exec(q, c.EventID, c.AuthorID, inReplyTo, c.Content, c.ExternalID, c.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, uid := range mentionedUserIDs {
		mq := fmt.Sprintf(`INSERT INTO comment_mentions (comment_id, mentioned_user_id) VALUES (%s)`, s.phList(1, 2))
		if _, err := tx.Exec(mq, id, uid); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// DeleteComment removes a comment and its mention rows; a no-op if absent.
func (s *Store) DeleteComment(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM comment_mentions WHERE comment_id=%s`, s.ph(1)), id); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM comments WHERE id=%s`, s.ph(1)), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteCommentByExternalID(externalID string) error {
	c, err := s.GetCommentByExternalID(externalID)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	return s.DeleteComment(c.ID)
}

func scanComment(row interface{ Scan(...interface{}) error }) (*model.Comment, error) {
	var c model.Comment
	var inReplyTo sql.NullInt64
	var createdAt string
	if err := row.Scan(&c.ID, &c.EventID, &c.AuthorID, &inReplyTo, &c.Content, &c.ExternalID, &createdAt); err != nil {
		return nil, err
	}
	if inReplyTo.Valid {
		v := inReplyTo.Int64
		c.InReplyToID = &v
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

const commentCols = `id, event_id, author_id, in_reply_to_id, content, external_id, created_at`

func (s *Store) GetComment(id int64) (*model.Comment, error) {
	q := fmt.Sprintf(`SELECT %s FROM comments WHERE id=%s`, commentCols, s.ph(1))
	c, err := scanComment(s.db.QueryRow(q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Store) GetCommentByExternalID(externalID string) (*model.Comment, error) {
	q := fmt.Sprintf(`SELECT %s FROM comments WHERE external_id=%s`, commentCols, s.ph(1))
	c, err := scanComment(s.db.QueryRow(q, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListCommentsByEvent returns comments ordered oldest-first, using the
// Comment(eventId, createdAt) index.
func (s *Store) ListCommentsByEvent(eventID int64) ([]*model.Comment, error) {
	q := fmt.Sprintf(`SELECT %s FROM comments WHERE event_id=%s ORDER BY created_at`, commentCols, s.ph(1))
	rows, err := s.db.Query(q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountComments(eventID int64, since time.Time) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM comments WHERE event_id=%s AND created_at >= %s`, s.ph(1), s.ph(2))
	var n int
	err := s.db.QueryRow(q, eventID, since.Format(time.RFC3339Nano)).Scan(&n)
	return n, err
}

// MentionsForComment returns the user ids mentioned in a comment.
func (s *Store) MentionsForComment(commentID int64) ([]int64, error) {
	q := fmt.Sprintf(`SELECT mentioned_user_id FROM comment_mentions WHERE comment_id=%s`, s.ph(1))
	rows, err := s.db.Query(q, commentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
