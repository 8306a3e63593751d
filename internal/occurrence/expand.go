package occurrence

import (
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/recurrence"
)

// DefaultCap bounds the entries one expansion may produce.
const DefaultCap = 2000

// EvaluateEvent returns the natural dates of ev inside w. A malformed
// recurrence is logged and yields no dates so one bad row cannot fail a
// whole window.
func EvaluateEvent(ev *models.Event, w recurrence.Window) recurrence.Result {
	desc, err := recurrence.Parse(ev.RecurrenceRule, ev.DayOfWeek)
	if err != nil {
		zap.L().Warn("skipping event with invalid recurrence",
			zap.String("event_id", ev.ID.String()),
			zap.Stringp("recurrence_rule", ev.RecurrenceRule),
			zap.Error(err),
		)
		return recurrence.Result{}
	}

	res, err := recurrence.Evaluate(desc, w, recurrence.Bounds{Anchor: ev.EventDate, MaxOccurrences: ev.MaxOccurrences})
	if err != nil {
		zap.L().Warn("skipping event with invalid dates",
			zap.String("event_id", ev.ID.String()),
			zap.String("event_date", ev.EventDate),
			zap.Error(err),
		)
		return recurrence.Result{}
	}
	return res
}

// Expand produces one entry per (event, natural date) inside w, grouped by
// date. Events are evaluated concurrently and accumulated in (event_date, id)
// order; once maxEntries would be exceeded the remaining events are skipped
// and Metrics.WasCapped is set.
func Expand(events []models.Event, w recurrence.Window, maxEntries int) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCap
	}

	ordered := make([]*models.Event, len(events))
	for i := range events {
		ordered[i] = &events[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].EventDate != ordered[j].EventDate {
			return ordered[i].EventDate < ordered[j].EventDate
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	evaluated := make([]recurrence.Result, len(ordered))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range ordered {
		i := i
		g.Go(func() error {
			evaluated[i] = EvaluateEvent(ordered[i], w)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Window: w, Buckets: make(map[string][]Entry)}
	for i, ev := range ordered {
		dates := evaluated[i].Dates
		if res.Metrics.TotalOccurrences+len(dates) > maxEntries {
			dates = dates[:maxEntries-res.Metrics.TotalOccurrences]
			res.Metrics.WasCapped = true
		}
		for _, d := range dates {
			res.Buckets[d] = append(res.Buckets[d], newEntry(ev, d, evaluated[i].Confident))
		}
		if len(dates) > 0 || !res.Metrics.WasCapped {
			res.Metrics.EventsProcessed++
		}
		res.Metrics.TotalOccurrences += len(dates)

		if res.Metrics.WasCapped {
			zap.L().Warn("occurrence expansion capped",
				zap.String("window_start", w.Start),
				zap.String("window_end", w.End),
				zap.Int("cap", maxEntries),
				zap.Int("events_processed", res.Metrics.EventsProcessed),
				zap.Int("events_total", len(ordered)),
			)
			break
		}
	}

	for _, bucket := range res.Buckets {
		sortBucket(bucket)
	}
	return res, nil
}
