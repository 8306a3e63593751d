package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var ErrInvalidDescriptor = errors.New("invalid recurrence descriptor")

type Kind int

const (
	None Kind = iota
	Weekly
	OrdinalWeekday
)

func (k Kind) String() string {
	switch k {
	case Weekly:
		return "weekly"
	case OrdinalWeekday:
		return "ordinal-weekday"
	}
	return "none"
}

// Descriptor is the constrained recurrence vocabulary: one-off, every week on
// a weekday, or the n-th weekdays of each month.
type Descriptor struct {
	Kind     Kind
	Weekday  time.Weekday
	Ordinals []int
}

var dayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// String renders the canonical RRULE text stored in recurrence_rule.
func (d Descriptor) String() string {
	switch d.Kind {
	case Weekly:
		return "FREQ=WEEKLY;BYDAY=" + dayCodes[d.Weekday]
	case OrdinalWeekday:
		parts := make([]string, len(d.Ordinals))
		for i, n := range d.Ordinals {
			parts[i] = strconv.Itoa(n) + dayCodes[d.Weekday]
		}
		return "FREQ=MONTHLY;BYDAY=" + strings.Join(parts, ",")
	}
	return ""
}

func (d Descriptor) Recurring() bool { return d.Kind != None }

// Parse builds a descriptor from an event's recurrence_rule and day_of_week
// columns. A nil or blank rule is a one-off event.
func Parse(rule *string, dayOfWeek *int) (Descriptor, error) {
	if rule == nil || strings.TrimSpace(*rule) == "" {
		return Descriptor{Kind: None}, nil
	}

	var column *time.Weekday
	if dayOfWeek != nil {
		if *dayOfWeek < 0 || *dayOfWeek > 6 {
			return Descriptor{}, fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidDescriptor, *dayOfWeek)
		}
		wd := time.Weekday(*dayOfWeek)
		column = &wd
	}

	text := strings.ToUpper(strings.TrimSpace(*rule))
	if text == "WEEKLY" {
		if column == nil {
			return Descriptor{}, fmt.Errorf("%w: weekly rule without day_of_week", ErrInvalidDescriptor)
		}
		return Descriptor{Kind: Weekly, Weekday: *column}, nil
	}

	opt, err := rrule.StrToROption(strings.TrimPrefix(text, "RRULE:"))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if opt.Interval > 1 || opt.Count != 0 || !opt.Until.IsZero() {
		return Descriptor{}, fmt.Errorf("%w: INTERVAL, COUNT and UNTIL are not supported", ErrInvalidDescriptor)
	}
	if len(opt.Bymonth)+len(opt.Bymonthday)+len(opt.Byyearday)+len(opt.Byweekno)+
		len(opt.Byhour)+len(opt.Byminute)+len(opt.Bysecond)+len(opt.Byeaster) > 0 {
		return Descriptor{}, fmt.Errorf("%w: unsupported BY* part in %q", ErrInvalidDescriptor, text)
	}

	switch opt.Freq {
	case rrule.WEEKLY:
		return parseWeekly(opt, column)
	case rrule.MONTHLY:
		return parseMonthly(opt, column)
	}
	return Descriptor{}, fmt.Errorf("%w: frequency %v", ErrInvalidDescriptor, opt.Freq)
}

func parseWeekly(opt *rrule.ROption, column *time.Weekday) (Descriptor, error) {
	if len(opt.Bysetpos) > 0 || len(opt.Byweekday) > 1 {
		return Descriptor{}, fmt.Errorf("%w: weekly rule must name a single weekday", ErrInvalidDescriptor)
	}
	wd, err := pickWeekday(opt.Byweekday, column)
	if err != nil {
		return Descriptor{}, err
	}
	if len(opt.Byweekday) == 1 && opt.Byweekday[0].N() != 0 {
		return Descriptor{}, fmt.Errorf("%w: weekly rule cannot carry an ordinal", ErrInvalidDescriptor)
	}
	return Descriptor{Kind: Weekly, Weekday: wd}, nil
}

func parseMonthly(opt *rrule.ROption, column *time.Weekday) (Descriptor, error) {
	wd, err := pickWeekday(opt.Byweekday, column)
	if err != nil {
		return Descriptor{}, err
	}

	var ordinals []int
	for i := range opt.Byweekday {
		if n := opt.Byweekday[i].N(); n != 0 {
			ordinals = append(ordinals, n)
		}
	}
	if len(ordinals) > 0 && len(opt.Bysetpos) > 0 {
		return Descriptor{}, fmt.Errorf("%w: both BYDAY ordinals and BYSETPOS given", ErrInvalidDescriptor)
	}
	if len(ordinals) == 0 {
		ordinals = append(ordinals, opt.Bysetpos...)
	}
	if len(ordinals) == 0 {
		return Descriptor{}, fmt.Errorf("%w: monthly rule without ordinals", ErrInvalidDescriptor)
	}

	ordinals, err = normalizeOrdinals(ordinals)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Kind: OrdinalWeekday, Weekday: wd, Ordinals: ordinals}, nil
}

// pickWeekday reconciles BYDAY with the day_of_week column. All BYDAY entries
// must name the same weekday, and it must agree with the column when both
// are present.
func pickWeekday(days []rrule.Weekday, column *time.Weekday) (time.Weekday, error) {
	var found *time.Weekday
	for i := range days {
		wd := time.Weekday((days[i].Day() + 1) % 7)
		if found != nil && *found != wd {
			return 0, fmt.Errorf("%w: mixed weekdays in BYDAY", ErrInvalidDescriptor)
		}
		found = &wd
	}
	switch {
	case found == nil && column == nil:
		return 0, fmt.Errorf("%w: no weekday given", ErrInvalidDescriptor)
	case found == nil:
		return *column, nil
	case column != nil && *column != *found:
		return 0, fmt.Errorf("%w: BYDAY %s contradicts day_of_week %s", ErrInvalidDescriptor, found, column)
	}
	return *found, nil
}

func normalizeOrdinals(in []int) ([]int, error) {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, n := range in {
		if n < 1 || n > 5 {
			return nil, fmt.Errorf("%w: ordinal %d outside 1-5", ErrInvalidDescriptor, n)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}
