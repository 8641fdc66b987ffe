package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/klppl/gathernet/internal/model"
)

const eventCols = `id, author_id, external_id, attributed_to, title, summary, location,
	geo_lat, geo_lon, timezone, start_time, end_time, recurrence_pattern,
	recurrence_end_date, visibility, shared_event_id, header_image_url,
	external_url, created_at, updated_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*model.Event, error) {
	var e model.Event
	var externalID, recPattern, recEnd, startTime, endTime, createdAt, updatedAt string
	var geoLat, geoLon sql.NullFloat64
	var sharedEventID sql.NullInt64
	var vis string
	if err := row.Scan(&e.ID, &e.AuthorID, &externalID, &e.AttributedTo, &e.Title,
		&e.Summary, &e.Location, &geoLat, &geoLon, &e.Timezone, &startTime, &endTime,
		&recPattern, &recEnd, &vis, &sharedEventID, &e.HeaderImageURL, &e.ExternalURL,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.ExternalID = externalID
	e.Visibility = model.Visibility(vis)
	e.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	e.EndTime, _ = time.Parse(time.RFC3339Nano, endTime)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if geoLat.Valid && geoLon.Valid {
		e.Geo = &model.GeoPoint{Latitude: geoLat.Float64, Longitude: geoLon.Float64}
	}
	if sharedEventID.Valid {
		id := sharedEventID.Int64
		e.SharedEventID = &id
	}
	if recPattern != "" {
		rec := &model.Recurrence{Pattern: model.RecurrencePattern(recPattern)}
		if recEnd != "" {
			if t, err := time.Parse(time.RFC3339Nano, recEnd); err == nil {
				rec.RecurrenceEndDate = &t
			}
		}
		e.Recurrence = rec
	}
	return &e, nil
}

// CreateEvent inserts a new event and its tags in one transaction.
func (s *Store) CreateEvent(e *model.Event) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	recPattern, recEnd := "", ""
	if e.Recurrence != nil {
		recPattern = string(e.Recurrence.Pattern)
		if e.Recurrence.RecurrenceEndDate != nil {
			recEnd = e.Recurrence.RecurrenceEndDate.Format(time.RFC3339Nano)
		}
	}
	var geoLat, geoLon interface{}
	if e.Geo != nil {
		geoLat, geoLon = e.Geo.Latitude, e.Geo.Longitude
	}
	q := fmt.Sprintf(`INSERT INTO events (author_id, external_id, attributed_to, title,
		summary, location, geo_lat, geo_lon, timezone, start_time, end_time,
		recurrence_pattern, recurrence_end_date, visibility, shared_event_id,
		header_image_url, external_url, created_at, updated_at) VALUES (%s)`, s.phList(1, 19))
	res, err := tx.Exec(q, e.AuthorID, e.ExternalID, e.AttributedTo, e.Title, e.Summary,
		e.Location, geoLat, geoLon, e.Timezone, e.StartTime.Format(time.RFC3339Nano),
		e.EndTime.Format(time.RFC3339Nano), recPattern, recEnd, string(e.Visibility),
		e.SharedEventID, e.HeaderImageURL, e.ExternalURL,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, tag := range e.Tags {
		tq := fmt.Sprintf(`INSERT INTO event_tags (event_id, tag) VALUES (%s) ON CONFLICT DO NOTHING`, s.phList(1, 2))
		if _, err := tx.Exec(tq, id, tag); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// UpdateEvent overwrites all mutable fields of an existing event (owner
// update path) and replaces its tag set.
func (s *Store) UpdateEvent(e *model.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	recPattern, recEnd := "", ""
	if e.Recurrence != nil {
		recPattern = string(e.Recurrence.Pattern)
		if e.Recurrence.RecurrenceEndDate != nil {
			recEnd = e.Recurrence.RecurrenceEndDate.Format(time.RFC3339Nano)
		}
	}
	var geoLat, geoLon interface{}
	if e.Geo != nil {
		geoLat, geoLon = e.Geo.Latitude, e.Geo.Longitude
	}
	now := time.Now().UTC()
	q := fmt.Sprintf(`UPDATE events SET title=%s, summary=%s, location=%s, geo_lat=%s,
		geo_lon=%s, timezone=%s, start_time=%s, end_time=%s, recurrence_pattern=%s,
		recurrence_end_date=%s, visibility=%s, header_image_url=%s, external_url=%s,
		updated_at=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9),
		s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14), s.ph(15))
	_, err = tx.Exec(q, e.Title, e.Summary, e.Location, geoLat, geoLon, e.Timezone,
		e.StartTime.Format(time.RFC3339Nano), e.EndTime.Format(time.RFC3339Nano),
		recPattern, recEnd, string(e.Visibility), e.HeaderImageURL, e.ExternalURL,
		now.Format(time.RFC3339Nano), e.ID)
	if err != nil {
		return err
	}
	delQ := fmt.Sprintf(`DELETE FROM event_tags WHERE event_id=%s`, s.ph(1))
	if _, err := tx.Exec(delQ, e.ID); err != nil {
		return err
	}
	for _, tag := range e.Tags {
		tq := fmt.Sprintf(`INSERT INTO event_tags (event_id, tag) VALUES (%s) ON CONFLICT DO NOTHING`, s.phList(1, 2))
		if _, err := tx.Exec(tq, e.ID, tag); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateEventFieldsByExternalID overwrites named fields on the event whose
// externalId matches, per the inbound Update-Event handler. It is a
// no-op (returns sql.ErrNoRows) if no such event exists — an Update must
// never create.
func (s *Store) UpdateEventFieldsByExternalID(externalID string, fields *model.Event) error {
	existing, err := s.GetEventByExternalID(externalID)
	if err != nil {
		return err
	}
	if existing == nil {
		return sql.ErrNoRows
	}
	fields.ID = existing.ID
	fields.AuthorID = existing.AuthorID
	fields.ExternalID = existing.ExternalID
	fields.AttributedTo = existing.AttributedTo
	return s.UpdateEvent(fields)
}

func (s *Store) DeleteEvent(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"event_tags", "attendances", "likes", "comments"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE event_id=%s`, table, s.ph(1))
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}
	q := fmt.Sprintf(`DELETE FROM events WHERE id=%s`, s.ph(1))
	if _, err := tx.Exec(q, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteEventByExternalID is a no-op (not an error) if the event is absent,
// per the "a Delete of an absent object is a no-op" policy.
func (s *Store) DeleteEventByExternalID(externalID string) error {
	e, err := s.GetEventByExternalID(externalID)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	return s.DeleteEvent(e.ID)
}

func (s *Store) getEventWithTags(row interface{ Scan(...interface{}) error }) (*model.Event, error) {
	e, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	tags, err := s.eventTags(e.ID)
	if err != nil {
		return nil, err
	}
	e.Tags = tags
	return e, nil
}

func (s *Store) GetEvent(id int64) (*model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events WHERE id=%s`, eventCols, s.ph(1))
	e, err := s.getEventWithTags(s.db.QueryRow(q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *Store) GetEventByExternalID(externalID string) (*model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events WHERE external_id=%s`, eventCols, s.ph(1))
	e, err := s.getEventWithTags(s.db.QueryRow(q, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *Store) eventTags(eventID int64) ([]string, error) {
	q := fmt.Sprintf(`SELECT tag FROM event_tags WHERE event_id=%s ORDER BY tag`, s.ph(1))
	rows, err := s.db.Query(q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// ListEventsByAuthor returns an author's events ordered by start time,
// using the Event(userId, startTime) index.
func (s *Store) ListEventsByAuthor(authorID int64, limit int) ([]*model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events WHERE author_id=%s ORDER BY start_time DESC LIMIT %s`,
		eventCols, s.ph(1), s.ph(2))
	return s.queryEvents(q, authorID, limit)
}

// ListEventsInRange returns events (any visibility) whose [startTime,endTime]
// overlaps [rangeStart, rangeEnd] — the recurrence-aware range query used by
// the reminder scheduler and calendar views.
func (s *Store) ListEventsInRange(rangeStart, rangeEnd time.Time) ([]*model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events WHERE start_time <= %s AND
		((recurrence_pattern = '' AND end_time >= %s) OR
		 (recurrence_pattern != '' AND (recurrence_end_date = '' OR recurrence_end_date >= %s)))
		ORDER BY start_time`, eventCols, s.ph(1), s.ph(2), s.ph(3))
	start := rangeStart.Format(time.RFC3339Nano)
	return s.queryEvents(q, rangeEnd.Format(time.RFC3339Nano), start, start)
}

// ListCandidateEventsSince returns non-share events whose startTime or
// updatedAt falls within the trending window.
func (s *Store) ListCandidateEventsSince(since time.Time) ([]*model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events WHERE shared_event_id IS NULL
		AND (start_time >= %s OR updated_at >= %s)`, eventCols, s.ph(1), s.ph(2))
	ts := since.Format(time.RFC3339Nano)
	return s.queryEvents(q, ts, ts)
}

// GetShareByAuthorAndOriginal returns the author's existing share row of
// originalEventID, or nil if they have not shared it — used to enforce "at
// most one outstanding share per original event per user".
func (s *Store) GetShareByAuthorAndOriginal(authorID, originalEventID int64) (*model.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events WHERE author_id=%s AND shared_event_id=%s`,
		eventCols, s.ph(1), s.ph(2))
	e, err := s.getEventWithTags(s.db.QueryRow(q, authorID, originalEventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *Store) queryEvents(q string, args ...interface{}) ([]*model.Event, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, e := range out {
		tags, err := s.eventTags(e.ID)
		if err != nil {
			return nil, err
		}
		e.Tags = tags
	}
	return out, nil
}

// SetEventRecipients replaces the explicit recipient list of a PRIVATE
// event (the addressing used for both delivery and the visibility engine's
// PRIVATE-class check).
func (s *Store) SetEventRecipients(eventID int64, actorURLs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM event_recipients WHERE event_id=%s`, s.ph(1)), eventID); err != nil {
		return err
	}
	for _, url := range actorURLs {
		q := fmt.Sprintf(`INSERT INTO event_recipients (event_id, actor_url) VALUES (%s)`, s.phList(1, 2))
		if _, err := tx.Exec(q, eventID, url); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListEventRecipients returns a PRIVATE event's explicit recipient actor URLs.
func (s *Store) ListEventRecipients(eventID int64) ([]string, error) {
	q := fmt.Sprintf(`SELECT actor_url FROM event_recipients WHERE event_id=%s`, s.ph(1))
	rows, err := s.db.Query(q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		out = append(out, url)
	}
	return out, rows.Err()
}

// NormalizeTag lowercases and strips a leading '#'. Tags longer than 50
// characters are rejected rather than truncated.
func NormalizeTag(tag string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(tag))
	t = strings.TrimPrefix(t, "#")
	if len(t) > 50 {
		return "", fmt.Errorf("tag %q exceeds 50 characters", tag)
	}
	return t, nil
}
