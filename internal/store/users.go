package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klppl/gathernet/internal/model"
)

const userCols = `id, is_remote, username, actor_url, inbox_url, shared_inbox_url,
	rsa_private_pem, rsa_public_pem, display_name, summary, icon_url, timezone,
	tombstoned, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	var u model.User
	var isRemote, tombstoned int
	var createdAt string
	if err := row.Scan(&u.ID, &isRemote, &u.Username, &u.ActorURL, &u.InboxURL,
		&u.SharedInboxURL, &u.RSAPrivateKeyPEM, &u.RSAPublicKeyPEM, &u.DisplayName,
		&u.Summary, &u.IconURL, &u.Timezone, &tombstoned, &createdAt); err != nil {
		return nil, err
	}
	u.IsRemote = isRemote != 0
	u.Tombstoned = tombstoned != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &u, nil
}

// CreateLocalUser inserts a new local user with a freshly generated key pair.
// Callers set u.ActorURL/u.InboxURL/u.SharedInboxURL to this instance's own
// federation URLs before calling (activitypub.ActorURL and friends), so a
// local user is addressable by actor URL exactly like a remote one.
func (s *Store) CreateLocalUser(u *model.User) (int64, error) {
	u.CreatedAt = time.Now().UTC()
	q := fmt.Sprintf(`INSERT INTO users (is_remote, username, actor_url, inbox_url,
		shared_inbox_url, rsa_private_pem, rsa_public_pem,
		display_name, summary, icon_url, timezone, created_at)
		VALUES (%s)`, s.phList(1, 12))
	res, err := s.db.Exec(q, 0, u.Username, u.ActorURL, u.InboxURL, u.SharedInboxURL,
		u.RSAPrivateKeyPEM, u.RSAPublicKeyPEM,
		u.DisplayName, u.Summary, u.IconURL, u.Timezone, u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpsertRemoteUser inserts or updates a remote user, keyed by actor URL
// so two concurrent resolves of the same actor converge to a single row.
func (s *Store) UpsertRemoteUser(u *model.User) (int64, error) {
	existing, err := s.GetUserByActorURL(u.ActorURL)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if existing != nil {
		q := fmt.Sprintf(`UPDATE users SET username=%s, inbox_url=%s, shared_inbox_url=%s,
			display_name=%s, summary=%s, icon_url=%s WHERE id=%s`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
		_, err := s.db.Exec(q, u.Username, u.InboxURL, u.SharedInboxURL, u.DisplayName, u.Summary, u.IconURL, existing.ID)
		return existing.ID, err
	}
	q := fmt.Sprintf(`INSERT INTO users (is_remote, username, actor_url, inbox_url,
		shared_inbox_url, display_name, summary, icon_url, timezone, created_at)
		VALUES (%s)`, s.phList(1, 10))
	res, err := s.db.Exec(q, 1, u.Username, u.ActorURL, u.InboxURL, u.SharedInboxURL,
		u.DisplayName, u.Summary, u.IconURL, "UTC", now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateRemoteUserProfile overwrites profile fields on a remote user (inbox
// processor's Update-Person handler).
func (s *Store) UpdateRemoteUserProfile(actorURL string, u *model.User) error {
	q := fmt.Sprintf(`UPDATE users SET display_name=%s, summary=%s, icon_url=%s,
		inbox_url=%s, shared_inbox_url=%s WHERE actor_url=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	_, err := s.db.Exec(q, u.DisplayName, u.Summary, u.IconURL, u.InboxURL, u.SharedInboxURL, actorURL)
	return err
}

func (s *Store) GetUserByID(id int64) (*model.User, error) {
	q := fmt.Sprintf(`SELECT %s FROM users WHERE id=%s`, userCols, s.ph(1))
	u, err := scanUser(s.db.QueryRow(q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	q := fmt.Sprintf(`SELECT %s FROM users WHERE username=%s`, userCols, s.ph(1))
	u, err := scanUser(s.db.QueryRow(q, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUserByActorURL(actorURL string) (*model.User, error) {
	q := fmt.Sprintf(`SELECT %s FROM users WHERE actor_url=%s`, userCols, s.ph(1))
	u, err := scanUser(s.db.QueryRow(q, actorURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// TombstoneUser marks a remote user's profile as deleted.
func (s *Store) TombstoneUser(actorURL string) error {
	q := fmt.Sprintf(`UPDATE users SET tombstoned=1 WHERE actor_url=%s`, s.ph(1))
	_, err := s.db.Exec(q, actorURL)
	return err
}
