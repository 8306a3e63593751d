package occurrence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/dbtest"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/recurrence"
)

func newTestService(t *testing.T, now time.Time) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	region, err := calendar.NewRegion("America/Chicago", calendar.FixedClock(now))
	require.NoError(t, err)
	return NewService(db, region, Config{DisplayDays: 14, OverrideBufferDays: 30, Cap: 500}), db
}

func create(t *testing.T, db *gorm.DB, ev models.Event) models.Event {
	t.Helper()
	require.NoError(t, db.Create(&ev).Error)
	return ev
}

func TestServiceDisplayWindow(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 2, 10, 4, 0, 0, 0, time.UTC))
	assert.Equal(t, recurrence.Window{Start: "2026-02-09", End: "2026-02-22"}, svc.DisplayWindow())
}

func TestServiceWindowAppliesBufferedOverrides(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t, time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC))

	jam := create(t, db, weekly("Jam", "2026-01-05", time.Monday, "19:00"))
	show := create(t, db, oneOff("Show", "2026-02-14", "21:00"))
	create(t, db, oneOff("Long ago", "2025-06-01", "21:00"))

	_, err := svc.SaveOverride(ctx, jam.ID, "2026-03-16", models.OverrideNormal, models.OverridePatch{Date: strp("2026-02-12")})
	require.NoError(t, err)
	_, err = svc.SaveOverride(ctx, jam.ID, "2026-02-02", models.OverrideCancelled, models.OverridePatch{})
	require.NoError(t, err)

	res, err := svc.Window(ctx, Query{Window: recurrence.Window{Start: "2026-02-01", End: "2026-02-15"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-02-02", "2026-02-09", "2026-02-12", "2026-02-14"}, res.Dates())
	assert.True(t, res.Buckets["2026-02-02"][0].IsCancelled)
	assert.Equal(t, "2026-03-16", res.Buckets["2026-02-12"][0].OriginalDate)
	assert.Equal(t, show.ID, res.Buckets["2026-02-14"][0].EventID)

	visible := res.Visible(false)
	assert.Equal(t, []string{"2026-02-09", "2026-02-12", "2026-02-14"}, visible.Dates())
}

func TestServiceWindowCategoryFilter(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t, time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC))

	music := models.Category{Name: "music"}
	require.NoError(t, db.Create(&music).Error)

	jam := weekly("Jam", "2026-01-05", time.Monday, "19:00")
	jam.Categories = []models.Category{music}
	create(t, db, jam)
	create(t, db, weekly("Book club", "2026-01-05", time.Tuesday, "19:00"))

	res, err := svc.Window(ctx, Query{Window: recurrence.Window{Start: "2026-02-01", End: "2026-02-07"}, CategoryID: &music.ID})
	require.NoError(t, err)
	require.Len(t, res.Entries(), 1)
	assert.Equal(t, "Jam", res.Entries()[0].Title)
	assert.Equal(t, []string{"music"}, res.Entries()[0].Categories)
}

func TestResolveKeyNaturalAndRescheduledDates(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t, time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC))
	jam := create(t, db, weekly("Jam", "2026-01-05", time.Monday, "19:00"))

	r, err := svc.ResolveKey(ctx, jam.ID, "2026-02-09")
	require.NoError(t, err)
	assert.Equal(t, Key{EventID: jam.ID, DateKey: "2026-02-09"}, r.Key)

	_, err = svc.ResolveKey(ctx, jam.ID, "2026-02-10")
	assert.True(t, errors.Is(err, ErrNotAnOccurrence))

	_, err = svc.SaveOverride(ctx, jam.ID, "2026-02-09", models.OverrideNormal, models.OverridePatch{Date: strp("2026-02-10")})
	require.NoError(t, err)

	// Both the displayed date and the natural date map to one key.
	viaNew, err := svc.ResolveKey(ctx, jam.ID, "2026-02-10")
	require.NoError(t, err)
	viaOld, err := svc.ResolveKey(ctx, jam.ID, "2026-02-09")
	require.NoError(t, err)
	assert.Equal(t, viaOld.Key, viaNew.Key)
	assert.Equal(t, "2026-02-09", viaNew.Key.DateKey)
	assert.Equal(t, "2026-02-10", viaNew.Entry.Date)

	var ide *calendar.InvalidDateError
	_, err = svc.ResolveKey(ctx, jam.ID, "02/09/2026")
	assert.True(t, errors.As(err, &ide))
}

func TestSaveOverrideThroughRescheduledDateUpdatesSameRow(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t, time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC))
	jam := create(t, db, weekly("Jam", "2026-01-05", time.Monday, "19:00"))

	first, err := svc.SaveOverride(ctx, jam.ID, "2026-02-09", models.OverrideNormal, models.OverridePatch{Date: strp("2026-02-10")})
	require.NoError(t, err)

	second, err := svc.SaveOverride(ctx, jam.ID, "2026-02-10", models.OverrideCancelled, models.OverridePatch{Date: strp("2026-02-10")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "2026-02-09", second.DateKey)

	var count int64
	require.NoError(t, db.Model(&models.OccurrenceOverride{}).Where("event_id = ?", jam.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	deleted, err := svc.DeleteOverride(ctx, jam.ID, "2026-02-10")
	require.NoError(t, err)
	assert.Equal(t, first.ID, deleted.ID)

	_, err = svc.DeleteOverride(ctx, jam.ID, "2026-02-09")
	assert.True(t, errors.Is(err, ErrOverrideNotFound))
}

func TestSaveOverrideKeepsOneOccurrencePerDisplayedDate(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t, time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC))
	jam := create(t, db, weekly("Jam", "2026-01-05", time.Monday, "19:00"))

	// 2026-02-16 is itself a Monday occurrence.
	_, err := svc.SaveOverride(ctx, jam.ID, "2026-02-09", models.OverrideNormal, models.OverridePatch{Date: strp("2026-02-16")})
	assert.True(t, errors.Is(err, ErrRescheduleConflict))
	r, err := svc.ResolveKey(ctx, jam.ID, "2026-02-16")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-16", r.Key.DateKey)

	// Once 02-16 moves away its date is free.
	_, err = svc.SaveOverride(ctx, jam.ID, "2026-02-16", models.OverrideNormal, models.OverridePatch{Date: strp("2026-02-17")})
	require.NoError(t, err)
	_, err = svc.SaveOverride(ctx, jam.ID, "2026-02-09", models.OverrideNormal, models.OverridePatch{Date: strp("2026-02-16")})
	require.NoError(t, err)

	r, err = svc.ResolveKey(ctx, jam.ID, "2026-02-16")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-09", r.Key.DateKey)
	r, err = svc.ResolveKey(ctx, jam.ID, "2026-02-17")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-16", r.Key.DateKey)

	// A second reschedule onto the same target is refused.
	_, err = svc.SaveOverride(ctx, jam.ID, "2026-02-23", models.OverrideNormal, models.OverridePatch{Date: strp("2026-02-16")})
	assert.True(t, errors.Is(err, ErrRescheduleConflict))

	// 02-16 cannot return home while 02-09 is shown there.
	_, err = svc.SaveOverride(ctx, jam.ID, "2026-02-17", models.OverrideNormal, models.OverridePatch{})
	assert.True(t, errors.Is(err, ErrRescheduleConflict))
	_, err = svc.DeleteOverride(ctx, jam.ID, "2026-02-17")
	assert.True(t, errors.Is(err, ErrRescheduleConflict))

	res, err := svc.Window(ctx, Query{Window: recurrence.Window{Start: "2026-02-09", End: "2026-02-23"}})
	require.NoError(t, err)
	require.Len(t, res.Buckets["2026-02-16"], 1)
	assert.Equal(t, "2026-02-09", res.Buckets["2026-02-16"][0].OriginalDate)
	require.Len(t, res.Buckets["2026-02-17"], 1)
	assert.Equal(t, "2026-02-16", res.Buckets["2026-02-17"][0].OriginalDate)
	assert.Empty(t, res.Buckets["2026-02-09"])
}

func TestSaveOverrideRejectsBadPatch(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t, time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC))
	jam := create(t, db, weekly("Jam", "2026-01-05", time.Monday, "19:00"))

	_, err := svc.SaveOverride(ctx, jam.ID, "2026-02-09", models.OverrideNormal, models.OverridePatch{StartTime: strp("7pm")})
	var ide *calendar.InvalidDateError
	assert.True(t, errors.As(err, &ide))

	_, err = svc.SaveOverride(ctx, jam.ID, "2026-02-10", models.OverrideNormal, models.OverridePatch{})
	assert.True(t, errors.Is(err, ErrNotAnOccurrence))
}
