package occurrence

import (
	"sort"

	"github.com/google/uuid"

	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/recurrence"
)

// Resolve merges overrides into the expanded entries and relocates
// rescheduled occurrences to their target date.
//
// Placement depends only on (event, natural date) and the override for it,
// so resolving an already-resolved result returns the same grouping.
// Overrides should cover a wider range than the window: a reschedule whose
// natural date lies outside the window but whose target lies inside it is
// synthesized from events when the natural date is a real occurrence.
func Resolve(r Result, overrides []models.OccurrenceOverride, events []models.Event) Result {
	byKey := make(map[Key]*models.OccurrenceOverride, len(overrides))
	for i := range overrides {
		o := &overrides[i]
		byKey[Key{EventID: o.EventID, DateKey: o.DateKey}] = o
	}
	byID := make(map[uuid.UUID]*models.Event, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
	}

	out := Result{Window: r.Window, Buckets: make(map[string][]Entry), Metrics: r.Metrics}
	placed := make(map[Key]bool)

	place := func(e Entry) {
		k := e.Key()
		if placed[k] {
			return
		}
		placed[k] = true
		if o, ok := byKey[k]; ok {
			e = applyOverride(e, o)
		}
		if r.Window.Contains(e.Date) {
			out.Buckets[e.Date] = append(out.Buckets[e.Date], e)
		}
	}

	for _, d := range r.Dates() {
		for _, e := range r.Buckets[d] {
			if ev, ok := byID[e.EventID]; ok {
				e = newEntry(ev, e.OriginalDate, e.IsConfident)
			}
			place(e)
		}
	}

	inbound := make([]*models.OccurrenceOverride, 0)
	for k, o := range byKey {
		if placed[k] || !o.IsReschedule() {
			continue
		}
		if !r.Window.Contains(o.TargetDate()) || r.Window.Contains(o.DateKey) {
			continue
		}
		inbound = append(inbound, o)
	}
	sort.Slice(inbound, func(i, j int) bool {
		if inbound[i].DateKey != inbound[j].DateKey {
			return inbound[i].DateKey < inbound[j].DateKey
		}
		return inbound[i].EventID.String() < inbound[j].EventID.String()
	})
	for _, o := range inbound {
		ev, ok := byID[o.EventID]
		if !ok {
			continue
		}
		res := EvaluateEvent(ev, recurrence.Window{Start: o.DateKey, End: o.DateKey})
		if len(res.Dates) != 1 {
			continue
		}
		place(newEntry(ev, o.DateKey, res.Confident))
	}

	total := 0
	for _, bucket := range out.Buckets {
		sortBucket(bucket)
		total += len(bucket)
	}
	out.Metrics.TotalOccurrences = total
	return out
}
