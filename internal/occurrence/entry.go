package occurrence

import (
	"sort"

	"github.com/google/uuid"

	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/recurrence"
)

// Key identifies one occurrence: the event and its natural date, the date the
// recurrence produces before any reschedule. Signups are stored under it.
type Key struct {
	EventID uuid.UUID `json:"event_id"`
	DateKey string    `json:"date_key"`
}

func (k Key) String() string {
	return k.EventID.String() + "@" + k.DateKey
}

// Entry is the resolved, in-memory view of one occurrence.
type Entry struct {
	EventID       uuid.UUID  `json:"event_id"`
	Date          string     `json:"date"`
	OriginalDate  string     `json:"original_date"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Venue         string     `json:"venue"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time,omitempty"`
	CoverImage    string     `json:"cover_image,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Categories    []string   `json:"categories,omitempty"`
	Capacity      *int       `json:"capacity"`
	HasTimeslots  bool       `json:"has_timeslots"`
	IsRecurring   bool       `json:"is_recurring"`
	IsCancelled   bool       `json:"is_cancelled"`
	IsConfident   bool       `json:"is_confident"`
	IsRescheduled bool       `json:"is_rescheduled"`
	OverrideID    *uuid.UUID `json:"override_id,omitempty"`
}

func (e Entry) Key() Key {
	return Key{EventID: e.EventID, DateKey: e.OriginalDate}
}

func newEntry(ev *models.Event, date string, confident bool) Entry {
	return Entry{
		EventID:      ev.ID,
		Date:         date,
		OriginalDate: date,
		Title:        ev.Title,
		Description:  ev.Description,
		Venue:        ev.Venue,
		StartTime:    ev.StartTime,
		EndTime:      ev.EndTime,
		CoverImage:   ev.CoverImageURL,
		Categories:   ev.CategoryNames(),
		Capacity:     ev.Capacity,
		HasTimeslots: ev.HasTimeslots,
		IsRecurring:  ev.IsRecurring(),
		IsConfident:  confident,
	}
}

// applyOverride merges the override onto the entry field by field and moves
// it to the override's target date.
func applyOverride(e Entry, o *models.OccurrenceOverride) Entry {
	p := o.Patch
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.CoverImage != nil {
		e.CoverImage = *p.CoverImage
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.Venue != nil {
		e.Venue = *p.Venue
	}
	e.Date = o.TargetDate()
	e.IsRescheduled = o.IsReschedule()
	e.IsCancelled = o.Status == models.OverrideCancelled
	id := o.ID
	e.OverrideID = &id
	return e
}

type Metrics struct {
	EventsProcessed  int  `json:"events_processed"`
	TotalOccurrences int  `json:"total_occurrences"`
	WasCapped        bool `json:"was_capped"`
}

// Result groups entries by the date they are shown on.
type Result struct {
	Window  recurrence.Window  `json:"window"`
	Buckets map[string][]Entry `json:"occurrences"`
	Metrics Metrics            `json:"metrics"`
}

func (r Result) Dates() []string {
	dates := make([]string, 0, len(r.Buckets))
	for d := range r.Buckets {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Entries flattens the buckets in date order.
func (r Result) Entries() []Entry {
	var out []Entry
	for _, d := range r.Dates() {
		out = append(out, r.Buckets[d]...)
	}
	return out
}

func (r Result) Find(k Key) (Entry, bool) {
	for _, bucket := range r.Buckets {
		for _, e := range bucket {
			if e.Key() == k {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Visible drops cancelled entries unless showCancelled is set. Metrics are
// left as computed.
func (r Result) Visible(showCancelled bool) Result {
	if showCancelled {
		return r
	}
	out := Result{Window: r.Window, Buckets: make(map[string][]Entry, len(r.Buckets)), Metrics: r.Metrics}
	for d, bucket := range r.Buckets {
		var kept []Entry
		for _, e := range bucket {
			if !e.IsCancelled {
				kept = append(kept, e)
			}
		}
		if len(kept) > 0 {
			out.Buckets[d] = kept
		}
	}
	return out
}

func sortBucket(bucket []Entry) {
	sort.SliceStable(bucket, func(i, j int) bool {
		a, b := bucket[i], bucket[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if a.EventID != b.EventID {
			return a.EventID.String() < b.EventID.String()
		}
		return a.OriginalDate < b.OriginalDate
	})
}
