// Package trending computes a time-decayed engagement score over a sliding
// window, used to surface recently popular events.
package trending

import (
	"sort"
	"time"

	"github.com/klppl/gathernet/internal/model"
	"github.com/klppl/gathernet/internal/store"
)

const (
	MinWindowDays = 1
	MaxWindowDays = 30
	MinLimit      = 1
	MaxLimit      = 50

	weightLike       = 1.0
	weightComment    = 2.0
	weightAttendance = 3.0
)

// ClampWindow clamps a requested window (days) into [1, 30], defaulting to
// def when w is zero.
func ClampWindow(w, def int) int {
	if w == 0 {
		w = def
	}
	if w < MinWindowDays {
		return MinWindowDays
	}
	if w > MaxWindowDays {
		return MaxWindowDays
	}
	return w
}

// ClampLimit clamps a requested result limit into [1, 50]. l is negative
// when the caller omitted the parameter, in which case def is used; an
// explicit l of zero means "return nothing" and is passed through unchanged.
func ClampLimit(l, def int) int {
	if l < 0 {
		l = def
	}
	if l == 0 {
		return 0
	}
	if l < MinLimit {
		return MinLimit
	}
	if l > MaxLimit {
		return MaxLimit
	}
	return l
}

// Scored pairs an Event with its computed trending score.
type Scored struct {
	Event *model.Event
	Score float64
	Likes int
}

// decay returns the linear decay factor for an item aged ageDays within a
// window of windowDays: 1 at age 0, 0 at age >= windowDays.
func decay(ageDays, windowDays float64) float64 {
	d := 1 - ageDays/windowDays
	if d < 0 {
		return 0
	}
	return d
}

// Compute scores the candidate set relative to now, using window (days),
// returning the top limit events, highest score first, ties broken by
// higher like count then earlier start time. Zero-engagement events are
// dropped entirely. Deterministic given now. visible, if non-nil, is
// consulted per candidate before scoring — callers pass the viewer's
// visibility predicate so invisible events never compete for a slot.
func Compute(st *store.Store, now time.Time, windowDays, limit int, visible func(*model.Event) bool) ([]Scored, error) {
	if limit <= 0 {
		return nil, nil
	}
	since := now.AddDate(0, 0, -windowDays)
	candidates, err := st.ListCandidateEventsSince(since)
	if err != nil {
		return nil, err
	}

	windowF := float64(windowDays)
	var scored []Scored
	for _, e := range candidates {
		if visible != nil && !visible(e) {
			continue
		}
		likes, err := st.CountLikes(e.ID, since)
		if err != nil {
			return nil, err
		}
		comments, err := st.CountComments(e.ID, since)
		if err != nil {
			return nil, err
		}
		attendance, err := st.CountAttendance(e.ID, since)
		if err != nil {
			return nil, err
		}
		if likes == 0 && comments == 0 && attendance == 0 {
			continue
		}

		ageDays := now.Sub(e.StartTime).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		d := decay(ageDays, windowF)
		score := (weightLike*float64(likes) + weightComment*float64(comments) + weightAttendance*float64(attendance)) * d
		if score <= 0 {
			continue
		}
		scored = append(scored, Scored{Event: e, Score: score, Likes: likes})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Likes != scored[j].Likes {
			return scored[i].Likes > scored[j].Likes
		}
		return scored[i].Event.StartTime.Before(scored[j].Event.StartTime)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
