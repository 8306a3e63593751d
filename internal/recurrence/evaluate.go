package recurrence

import (
	"fmt"
	"time"

	"github.com/farellandr/gigboard/internal/calendar"
)

// Window is an inclusive range of date keys.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w Window) Validate() error {
	if _, err := calendar.ParseKey(w.Start); err != nil {
		return err
	}
	if _, err := calendar.ParseKey(w.End); err != nil {
		return err
	}
	if w.End < w.Start {
		return &calendar.InvalidDateError{Value: w.End, Reason: fmt.Sprintf("window ends before %s", w.Start)}
	}
	return nil
}

func (w Window) Contains(key string) bool {
	return calendar.Within(key, w.Start, w.End)
}

// Bounds limits a series globally, independent of the window being evaluated.
type Bounds struct {
	// Anchor is the event_date: the first possible occurrence.
	Anchor string
	// MaxOccurrences caps the whole series counted from Anchor.
	MaxOccurrences *int
}

type Result struct {
	Dates []string
	// Confident is false when a MaxOccurrences cap applies but the series
	// has no anchor to count from, so the window may include dates past the
	// cap.
	Confident bool
}

// Evaluate returns the ordered, deduplicated date keys in w on which the
// descriptor occurs.
func Evaluate(d Descriptor, w Window, b Bounds) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	if b.Anchor != "" && !calendar.ValidKey(b.Anchor) {
		return Result{}, &calendar.InvalidDateError{Value: b.Anchor, Reason: "anchor must be YYYY-MM-DD"}
	}
	if b.MaxOccurrences != nil && *b.MaxOccurrences <= 0 {
		return Result{Confident: true}, nil
	}

	if d.Kind == None {
		if b.Anchor != "" && w.Contains(b.Anchor) {
			return Result{Dates: []string{b.Anchor}, Confident: true}, nil
		}
		return Result{Confident: true}, nil
	}

	if b.MaxOccurrences != nil {
		if b.Anchor == "" {
			return Result{Dates: generate(d, w.Start, w.End, 0), Confident: false}, nil
		}
		if b.Anchor > w.End {
			return Result{Confident: true}, nil
		}
		series := generate(d, b.Anchor, w.End, *b.MaxOccurrences)
		return Result{Dates: clip(series, w.Start), Confident: true}, nil
	}

	start := w.Start
	if b.Anchor > start {
		start = b.Anchor
	}
	if start > w.End {
		return Result{Confident: true}, nil
	}
	return Result{Dates: generate(d, start, w.End, 0), Confident: true}, nil
}

// Occurs reports whether the series has an occurrence on key.
func Occurs(d Descriptor, key string, b Bounds) (bool, Result, error) {
	res, err := Evaluate(d, Window{Start: key, End: key}, b)
	if err != nil {
		return false, res, err
	}
	return len(res.Dates) == 1, res, nil
}

func clip(dates []string, from string) []string {
	for i, k := range dates {
		if k >= from {
			return dates[i:]
		}
	}
	return nil
}

// generate lists dates in [start, end]; limit > 0 stops after that many.
// Inputs are pre-validated keys.
func generate(d Descriptor, start, end string, limit int) []string {
	from, _ := calendar.ParseKey(start)
	to, _ := calendar.ParseKey(end)

	var out []string
	full := func() bool { return limit > 0 && len(out) >= limit }

	switch d.Kind {
	case Weekly:
		offset := (int(d.Weekday) - int(from.Weekday()) + 7) % 7
		for day := from.AddDate(0, 0, offset); !day.After(to) && !full(); day = day.AddDate(0, 0, 7) {
			out = append(out, calendar.FormatKey(day))
		}
	case OrdinalWeekday:
		month := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !month.After(to) && !full() {
			for _, n := range d.Ordinals {
				key, ok := calendar.NthWeekday(month.Year(), month.Month(), d.Weekday, n)
				if !ok || key < start || key > end {
					continue
				}
				if len(out) > 0 && out[len(out)-1] == key {
					continue
				}
				out = append(out, key)
				if full() {
					break
				}
			}
			month = month.AddDate(0, 1, 0)
		}
	}
	return out
}
