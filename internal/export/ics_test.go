package export

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/occurrence"
	"github.com/farellandr/gigboard/internal/recurrence"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func TestCalendarFeed(t *testing.T) {
	region, err := calendar.NewRegion("America/Chicago", calendar.FixedClock(time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	jam := models.Event{
		ID:             uuid.New(),
		Title:          "Jam",
		Venue:          "Back Room",
		EventDate:      "2026-01-05",
		DayOfWeek:      intp(int(time.Monday)),
		RecurrenceRule: strp("weekly"),
		StartTime:      "19:00",
		EndTime:        "22:00",
	}
	late := models.Event{ID: uuid.New(), Title: "Late set", EventDate: "2026-02-14", StartTime: "23:00", EndTime: "01:00"}
	overrides := []models.OccurrenceOverride{
		{ID: uuid.New(), EventID: jam.ID, DateKey: "2026-02-09", Status: models.OverrideCancelled},
		{ID: uuid.New(), EventID: jam.ID, DateKey: "2026-02-02", Status: models.OverrideNormal,
			Patch: models.OverridePatch{Date: strp("2026-02-03"), Notes: strp("Tuesday this week")}},
	}

	w := recurrence.Window{Start: "2026-02-01", End: "2026-02-14"}
	expanded, err := occurrence.Expand([]models.Event{jam, late}, w, 0)
	require.NoError(t, err)
	res := occurrence.Resolve(expanded, overrides, []models.Event{jam, late})

	body, err := Calendar(res, region, Options{Name: "Gigboard", BaseURL: "https://gigs.example/", Stamp: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	require.NoError(t, err)

	byUID := map[string]*ical.VEvent{}
	for _, ev := range cal.Events() {
		byUID[ev.Id()] = ev
	}
	require.Len(t, byUID, 3)

	moved := byUID[UID(occurrence.Key{EventID: jam.ID, DateKey: "2026-02-02"})]
	require.NotNil(t, moved)
	start, err := moved.GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2026, 2, 4, 1, 0, 0, 0, time.UTC)), start.String())
	assert.Contains(t, moved.GetProperty(ical.ComponentPropertyDescription).Value, "Tuesday this week")
	assert.Equal(t, "CONFIRMED", moved.GetProperty(ical.ComponentPropertyStatus).Value)
	assert.Equal(t, "Back Room", moved.GetProperty(ical.ComponentPropertyLocation).Value)

	cancelled := byUID[UID(occurrence.Key{EventID: jam.ID, DateKey: "2026-02-09"})]
	require.NotNil(t, cancelled)
	assert.Equal(t, "CANCELLED", cancelled.GetProperty(ical.ComponentPropertyStatus).Value)

	overnight := byUID[UID(occurrence.Key{EventID: late.ID, DateKey: "2026-02-14"})]
	require.NotNil(t, overnight)
	s, err := overnight.GetStartAt()
	require.NoError(t, err)
	e, err := overnight.GetEndAt()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, e.Sub(s))
}
