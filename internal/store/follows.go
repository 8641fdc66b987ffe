package store

import (
	"database/sql"
	"fmt"

	"github.com/klppl/gathernet/internal/model"
)

// AddFollower inserts a remote actor's follow of a local user, unaccepted
// until an Accept activity confirms it. An existing row is left unchanged.
func (s *Store) AddFollower(userID int64, actorURL, inboxURL string) error {
	existing, err := s.GetFollower(userID, actorURL)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO followers (user_id, actor_url, inbox_url, accepted) VALUES (%s)`, s.phList(1, 4))
	_, err = s.db.Exec(q, userID, actorURL, inboxURL, 0)
	return err
}

// AcceptFollower flips the accepted flag once a local Accept is issued (or
// auto-accept is configured).
func (s *Store) AcceptFollower(userID int64, actorURL string) error {
	q := fmt.Sprintf(`UPDATE followers SET accepted=1 WHERE user_id=%s AND actor_url=%s`, s.ph(1), s.ph(2))
	_, err := s.db.Exec(q, userID, actorURL)
	return err
}

// RemoveFollower deletes a follower row (Undo-of-Follow or Reject); a no-op
// if absent.
func (s *Store) RemoveFollower(userID int64, actorURL string) error {
	q := fmt.Sprintf(`DELETE FROM followers WHERE user_id=%s AND actor_url=%s`, s.ph(1), s.ph(2))
	_, err := s.db.Exec(q, userID, actorURL)
	return err
}

func (s *Store) GetFollower(userID int64, actorURL string) (*model.Follower, error) {
	q := fmt.Sprintf(`SELECT user_id, actor_url, inbox_url, accepted FROM followers
		WHERE user_id=%s AND actor_url=%s`, s.ph(1), s.ph(2))
	row := s.db.QueryRow(q, userID, actorURL)
	var f model.Follower
	var accepted int
	if err := row.Scan(&f.UserID, &f.ActorURL, &f.InboxURL, &accepted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.Accepted = accepted != 0
	return &f, nil
}

// ListFollowers returns the actors following a local user, used for FOLLOWERS
// visibility addressing and for resolving the "followers collection" when
// expanding delivery recipients.
func (s *Store) ListFollowers(userID int64) ([]*model.Follower, error) {
	q := fmt.Sprintf(`SELECT user_id, actor_url, inbox_url, accepted FROM followers
		WHERE user_id=%s AND accepted=1`, s.ph(1))
	rows, err := s.db.Query(q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Follower
	for rows.Next() {
		var f model.Follower
		var accepted int
		if err := rows.Scan(&f.UserID, &f.ActorURL, &f.InboxURL, &accepted); err != nil {
			return nil, err
		}
		f.Accepted = accepted != 0
		out = append(out, &f)
	}
	return out, rows.Err()
}

// AddFollowing inserts a local user's follow of a remote actor, unaccepted
// until the remote's Accept arrives.
func (s *Store) AddFollowing(userID int64, actorURL, username, inboxURL string) error {
	existing, err := s.GetFollowing(userID, actorURL)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO followings (user_id, actor_url, username, inbox_url, accepted)
		VALUES (%s)`, s.phList(1, 5))
	_, err = s.db.Exec(q, userID, actorURL, username, inboxURL, 0)
	return err
}

func (s *Store) AcceptFollowing(userID int64, actorURL string) error {
	q := fmt.Sprintf(`UPDATE followings SET accepted=1 WHERE user_id=%s AND actor_url=%s`, s.ph(1), s.ph(2))
	_, err := s.db.Exec(q, userID, actorURL)
	return err
}

func (s *Store) RemoveFollowing(userID int64, actorURL string) error {
	q := fmt.Sprintf(`DELETE FROM followings WHERE user_id=%s AND actor_url=%s`, s.ph(1), s.ph(2))
	_, err := s.db.Exec(q, userID, actorURL)
	return err
}

func (s *Store) GetFollowing(userID int64, actorURL string) (*model.Following, error) {
	q := fmt.Sprintf(`SELECT user_id, actor_url, username, inbox_url, accepted FROM followings
		WHERE user_id=%s AND actor_url=%s`, s.ph(1), s.ph(2))
	row := s.db.QueryRow(q, userID, actorURL)
	var f model.Following
	var accepted int
	if err := row.Scan(&f.UserID, &f.ActorURL, &f.Username, &f.InboxURL, &accepted); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.Accepted = accepted != 0
	return &f, nil
}

func (s *Store) ListFollowing(userID int64) ([]*model.Following, error) {
	q := fmt.Sprintf(`SELECT user_id, actor_url, username, inbox_url, accepted FROM followings
		WHERE user_id=%s AND accepted=1`, s.ph(1))
	rows, err := s.db.Query(q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Following
	for rows.Next() {
		var f model.Following
		var accepted int
		if err := rows.Scan(&f.UserID, &f.ActorURL, &f.Username, &f.InboxURL, &accepted); err != nil {
			return nil, err
		}
		f.Accepted = accepted != 0
		out = append(out, &f)
	}
	return out, rows.Err()
}

// IsFollowing reports whether userID has an accepted follow of actorURL.
func (s *Store) IsFollowing(userID int64, actorURL string) (bool, error) {
	f, err := s.GetFollowing(userID, actorURL)
	if err != nil {
		return false, err
	}
	return f != nil && f.Accepted, nil
}

// IsFollower reports whether actorURL has an accepted follow of userID —
// used by the visibility engine's FOLLOWERS check on the author's side.
func (s *Store) IsFollower(userID int64, actorURL string) (bool, error) {
	f, err := s.GetFollower(userID, actorURL)
	if err != nil {
		return false, err
	}
	return f != nil && f.Accepted, nil
}
