package export

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/occurrence"
)

const (
	ProductID       = "-//gigboard//occurrences//EN"
	defaultDuration = 2 * time.Hour
)

type Options struct {
	Name    string
	BaseURL string
	// Stamp is written as DTSTAMP on every VEVENT.
	Stamp time.Time
}

// Calendar renders a resolved window as an iCalendar feed. Each occurrence is
// one VEVENT whose UID is derived from its natural key, so a reschedule
// updates the subscriber's copy instead of adding a second one. Cancelled
// occurrences are kept with STATUS:CANCELLED.
func Calendar(res occurrence.Result, region *calendar.Region, opts Options) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if opts.Name != "" {
		cal.SetName(opts.Name)
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(region.Location().String())

	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	for _, e := range res.Entries() {
		start, end, err := span(region, e)
		if err != nil {
			zap.L().Warn("skipping occurrence in feed",
				zap.String("occurrence", e.Key().String()),
				zap.Error(err),
			)
			continue
		}

		ev := cal.AddEvent(UID(e.Key()))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.SetSummary(e.Title)
		if e.Venue != "" {
			ev.SetLocation(e.Venue)
		}
		if desc := description(e); desc != "" {
			ev.SetDescription(desc)
		}
		if opts.BaseURL != "" {
			ev.SetURL(fmt.Sprintf("%s/events/%s/occurrences/%s", strings.TrimRight(opts.BaseURL, "/"), e.EventID, e.OriginalDate))
		}
		for _, c := range e.Categories {
			ev.AddProperty(ical.ComponentPropertyCategories, c)
		}
		if e.IsCancelled {
			ev.SetProperty(ical.ComponentPropertyStatus, "CANCELLED")
		} else {
			ev.SetProperty(ical.ComponentPropertyStatus, "CONFIRMED")
		}
	}

	return cal.Serialize(), nil
}

func UID(k occurrence.Key) string {
	return fmt.Sprintf("%s-%s@gigboard", k.EventID, k.DateKey)
}

// span places an entry in time. A missing end time gets a default length and
// an end at or before the start runs past midnight.
func span(region *calendar.Region, e occurrence.Entry) (time.Time, time.Time, error) {
	startClock := e.StartTime
	if startClock == "" {
		startClock = "00:00"
	}
	start, err := region.At(e.Date, startClock)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if e.EndTime == "" {
		return start, start.Add(defaultDuration), nil
	}

	endDate := e.Date
	if e.EndTime <= startClock {
		if endDate, err = calendar.AddDays(e.Date, 1); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	end, err := region.At(endDate, e.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func description(e occurrence.Entry) string {
	var parts []string
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	if e.Notes != "" {
		parts = append(parts, e.Notes)
	}
	if e.IsRescheduled {
		parts = append(parts, "Moved from "+e.OriginalDate)
	}
	return strings.Join(parts, "\n\n")
}
