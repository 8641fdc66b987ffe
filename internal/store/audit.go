package store

import (
	"fmt"
	"time"
)

// AuditLogEntry is one record in the operator audit log.
type AuditLogEntry struct {
	Timestamp string `json:"ts"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
}

// WriteAuditLog appends a new entry to the audit log. Best-effort — callers
// should log but not propagate any error.
func (s *Store) WriteAuditLog(action, detail string) error {
	q := fmt.Sprintf(`INSERT INTO audit_log (ts, action, detail) VALUES (%s)`, s.phList(1, 3))
	_, err := s.db.Exec(q, time.Now().UTC().Format(time.RFC3339Nano), action, detail)
	return err
}

// GetAuditLog returns up to limit entries from the audit log, newest first.
func (s *Store) GetAuditLog(limit int) ([]AuditLogEntry, error) {
	q := fmt.Sprintf(`SELECT ts, action, detail FROM audit_log ORDER BY ts DESC LIMIT %s`, s.ph(1))
	rows, err := s.db.Query(q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		if err := rows.Scan(&e.Timestamp, &e.Action, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats holds aggregate counts for the operator dashboard / NodeInfo usage
// block.
type Stats struct {
	LocalUserCount       int
	RemoteUserCount      int
	EventCount           int
	CommentCount         int
	PendingDeliveryCount int
	FailedDeliveryCount  int
}

// InstanceStats returns instance-wide aggregate counts, batched into a small number
// of queries using FILTER (ANSI SQL, supported by SQLite >= 3.30 and
// PostgreSQL).
func (s *Store) InstanceStats() (Stats, error) {
	var st Stats

	usersQ := `SELECT
		COUNT(*) FILTER (WHERE is_remote = 0),
		COUNT(*) FILTER (WHERE is_remote = 1)
		FROM users`
	if err := s.db.QueryRow(usersQ).Scan(&st.LocalUserCount, &st.RemoteUserCount); err != nil {
		return st, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&st.EventCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM comments`).Scan(&st.CommentCount); err != nil {
		return st, err
	}

	deliveryQ := `SELECT
		COUNT(*) FILTER (WHERE status = 'pending'),
		COUNT(*) FILTER (WHERE status = 'failed')
		FROM delivery_tasks`
	if err := s.db.QueryRow(deliveryQ).Scan(&st.PendingDeliveryCount, &st.FailedDeliveryCount); err != nil {
		return st, err
	}

	return st, nil
}
