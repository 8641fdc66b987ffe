// Package store is the federation core's data access layer: a narrow,
// hand-written set of queries over SQLite or PostgreSQL (dual driver),
// rather than a general object-graph mapper.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a database connection and provides all data access methods.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a database connection. The URL can be a bare file path (SQLite),
// "sqlite://path" (SQLite), or "postgres://..." (PostgreSQL).
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		// WAL mode allows concurrent readers alongside the single writer;
		// busy_timeout makes SQLite's own write serialization graceful
		// (retry up to 5s) instead of returning SQLITE_BUSY immediately.
		// Deployments receiving heavy inbound federation traffic should
		// switch to PostgreSQL via DATABASE_URL=postgres://...
		const sqliteMaxConns = 4
		db.SetMaxOpenConns(sqliteMaxConns)
		db.SetMaxIdleConns(sqliteMaxConns)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
		slog.Info("sqlite database opened", "max_conns", sqliteMaxConns)
	}

	return &Store{db: db, driver: driver}, nil
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// ph returns the placeholder token for the i-th (1-based) positional
// argument of a query: "?" for SQLite, "$i" for PostgreSQL.
func (s *Store) ph(i int) string {
	if s.driver == "postgres" {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// phList returns a comma-joined list of n placeholders starting at position
// start (1-based), e.g. phList(1, 3) → "?, ?, ?" or "$1, $2, $3".
func (s *Store) phList(start, n int) string {
	toks := make([]string, n)
	for i := 0; i < n; i++ {
		toks[i] = s.ph(start + i)
	}
	return strings.Join(toks, ", ")
}

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	slog.Info("running database migrations")
	for _, m := range commonMigrations {
		if _, err := s.db.Exec(m); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

// commonMigrations lists DDL shared between SQLite and PostgreSQL.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		is_remote          INTEGER NOT NULL,
		username           TEXT NOT NULL UNIQUE,
		actor_url          TEXT NOT NULL DEFAULT '',
		inbox_url          TEXT NOT NULL DEFAULT '',
		shared_inbox_url   TEXT NOT NULL DEFAULT '',
		rsa_private_pem    TEXT NOT NULL DEFAULT '',
		rsa_public_pem     TEXT NOT NULL DEFAULT '',
		display_name       TEXT NOT NULL DEFAULT '',
		summary            TEXT NOT NULL DEFAULT '',
		icon_url           TEXT NOT NULL DEFAULT '',
		timezone           TEXT NOT NULL DEFAULT 'UTC',
		tombstoned         INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS users_actor_url ON users(actor_url)`,

	`CREATE TABLE IF NOT EXISTS events (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id            INTEGER NOT NULL,
		external_id          TEXT NOT NULL DEFAULT '',
		attributed_to        TEXT NOT NULL DEFAULT '',
		title                TEXT NOT NULL,
		summary              TEXT NOT NULL DEFAULT '',
		location             TEXT NOT NULL DEFAULT '',
		geo_lat              REAL,
		geo_lon              REAL,
		timezone             TEXT NOT NULL DEFAULT 'UTC',
		start_time           TEXT NOT NULL,
		end_time             TEXT NOT NULL,
		recurrence_pattern   TEXT NOT NULL DEFAULT '',
		recurrence_end_date  TEXT NOT NULL DEFAULT '',
		visibility           TEXT NOT NULL,
		shared_event_id      INTEGER,
		header_image_url     TEXT NOT NULL DEFAULT '',
		external_url         TEXT NOT NULL DEFAULT '',
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS events_external_id ON events(external_id) WHERE external_id != ''`,
	`CREATE INDEX IF NOT EXISTS events_start_time ON events(start_time)`,
	`CREATE INDEX IF NOT EXISTS events_author_start ON events(author_id, start_time)`,

	`CREATE TABLE IF NOT EXISTS event_tags (
		event_id INTEGER NOT NULL,
		tag      TEXT NOT NULL,
		UNIQUE(event_id, tag)
	)`,

	`CREATE TABLE IF NOT EXISTS event_recipients (
		event_id  INTEGER NOT NULL,
		actor_url TEXT NOT NULL,
		UNIQUE(event_id, actor_url)
	)`,

	`CREATE TABLE IF NOT EXISTS attendances (
		event_id    INTEGER NOT NULL,
		user_id     INTEGER NOT NULL,
		status      TEXT NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		updated_at  TEXT NOT NULL,
		PRIMARY KEY(event_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS likes (
		event_id    INTEGER NOT NULL,
		user_id     INTEGER NOT NULL,
		external_id TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		PRIMARY KEY(event_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS comments (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id       INTEGER NOT NULL,
		author_id      INTEGER NOT NULL,
		in_reply_to_id INTEGER,
		content        TEXT NOT NULL,
		external_id    TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS comments_event_created ON comments(event_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS comment_mentions (
		comment_id        INTEGER NOT NULL,
		mentioned_user_id INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS followers (
		user_id   INTEGER NOT NULL,
		actor_url TEXT NOT NULL,
		inbox_url TEXT NOT NULL DEFAULT '',
		accepted  INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, actor_url)
	)`,
	`CREATE TABLE IF NOT EXISTS followings (
		user_id   INTEGER NOT NULL,
		actor_url TEXT NOT NULL,
		username  TEXT NOT NULL DEFAULT '',
		inbox_url TEXT NOT NULL DEFAULT '',
		accepted  INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, actor_url)
	)`,

	`CREATE TABLE IF NOT EXISTS processed_activities (
		activity_id TEXT NOT NULL UNIQUE,
		expires_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL,
		actor_id   INTEGER,
		type       TEXT NOT NULL,
		title      TEXT NOT NULL,
		body       TEXT NOT NULL,
		data       TEXT NOT NULL DEFAULT '',
		read       INTEGER NOT NULL DEFAULT 0,
		read_at    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_user_created ON notifications(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS reminders (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id               INTEGER NOT NULL,
		event_id              INTEGER NOT NULL,
		remind_at             TEXT NOT NULL,
		minutes_before_start  INTEGER NOT NULL,
		status                TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reminders_due ON reminders(status, remind_at)`,

	`CREATE TABLE IF NOT EXISTS delivery_tasks (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		inbox_url       TEXT NOT NULL,
		sender_user_id  INTEGER NOT NULL,
		activity_json   TEXT NOT NULL,
		attempt         INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		status          TEXT NOT NULL,
		enqueued_at     TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS delivery_tasks_due ON delivery_tasks(status, next_attempt_at)`,
	`CREATE INDEX IF NOT EXISTS delivery_tasks_inbox_order ON delivery_tasks(inbox_url, enqueued_at)`,

	`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		ts     TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_ts ON audit_log(ts)`,
}
