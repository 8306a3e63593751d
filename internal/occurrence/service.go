package occurrence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/recurrence"
)

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrNotAnOccurrence = errors.New("event does not occur on this date")
)

type Config struct {
	DisplayDays        int
	OverrideBufferDays int
	Cap                int
}

// Service runs the expansion pipeline against the database and owns the one
// function that turns (event, date) into an occurrence key.
type Service struct {
	db     *gorm.DB
	region *calendar.Region
	cfg    Config
}

func NewService(db *gorm.DB, region *calendar.Region, cfg Config) *Service {
	if cfg.DisplayDays <= 0 {
		cfg.DisplayDays = 30
	}
	if cfg.OverrideBufferDays < 0 {
		cfg.OverrideBufferDays = 0
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	return &Service{db: db, region: region, cfg: cfg}
}

func (s *Service) Region() *calendar.Region { return s.region }

// DisplayWindow is [today, today+DisplayDays-1] in the region.
func (s *Service) DisplayWindow() recurrence.Window {
	today := s.region.Today()
	end, _ := calendar.AddDays(today, s.cfg.DisplayDays-1)
	return recurrence.Window{Start: today, End: end}
}

type Query struct {
	Window     recurrence.Window
	CategoryID *uuid.UUID
	EventID    *uuid.UUID
}

// Window expands and resolves every event for q.Window.
func (s *Service) Window(ctx context.Context, q Query) (Result, error) {
	if err := q.Window.Validate(); err != nil {
		return Result{}, err
	}
	bufStart, _ := calendar.AddDays(q.Window.Start, -s.cfg.OverrideBufferDays)
	bufEnd, _ := calendar.AddDays(q.Window.End, s.cfg.OverrideBufferDays)

	events, err := s.loadEvents(ctx, q, bufStart, bufEnd)
	if err != nil {
		return Result{}, err
	}

	ids := make([]uuid.UUID, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}
	var overrides []models.OccurrenceOverride
	if len(ids) > 0 {
		err = s.db.WithContext(ctx).
			Where("event_id IN ?", ids).
			Where("((date_key BETWEEN ? AND ?) OR (override_date BETWEEN ? AND ?))", bufStart, bufEnd, q.Window.Start, q.Window.End).
			Find(&overrides).Error
		if err != nil {
			return Result{}, fmt.Errorf("load overrides: %w", err)
		}
	}

	expanded, err := Expand(events, q.Window, s.cfg.Cap)
	if err != nil {
		return Result{}, err
	}
	return Resolve(expanded, overrides, events), nil
}

func (s *Service) loadEvents(ctx context.Context, q Query, bufStart, bufEnd string) ([]models.Event, error) {
	query := s.db.WithContext(ctx).Model(&models.Event{}).Preload("Categories").
		Where("((recurrence_rule IS NOT NULL AND recurrence_rule <> '') OR (event_date BETWEEN ? AND ?))", bufStart, bufEnd)
	if q.CategoryID != nil {
		query = query.Where("events.id IN (?)",
			s.db.Table("event_categories").Select("event_id").Where("category_id = ?", *q.CategoryID))
	}
	if q.EventID != nil {
		query = query.Where("events.id = ?", *q.EventID)
	}

	var events []models.Event
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// Resolved is a canonical occurrence key plus the entry as it is displayed.
type Resolved struct {
	Key   Key
	Entry Entry
	Event models.Event
}

// ResolveKey maps an event and a date, either the natural date or the date a
// reschedule moved it to, onto the canonical occurrence key. Signup writes,
// cancellations, counts and audits all go through here so they agree with
// what expansion shows.
func (s *Service) ResolveKey(ctx context.Context, eventID uuid.UUID, date string) (Resolved, error) {
	return resolveKey(ctx, s.db, eventID, date)
}

func resolveKey(ctx context.Context, db *gorm.DB, eventID uuid.UUID, date string) (Resolved, error) {
	if _, err := calendar.ParseKey(date); err != nil {
		return Resolved{}, err
	}

	var ev models.Event
	if err := db.WithContext(ctx).Preload("Categories").Where("id = ?", eventID).First(&ev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Resolved{}, ErrEventNotFound
		}
		return Resolved{}, fmt.Errorf("load event: %w", err)
	}

	var overrides []models.OccurrenceOverride
	err := db.WithContext(ctx).
		Where("event_id = ? AND (date_key = ? OR override_date = ?)", eventID, date, date).
		Order("date_key").
		Find(&overrides).Error
	if err != nil {
		return Resolved{}, fmt.Errorf("load overrides: %w", err)
	}

	natural := date
	var override *models.OccurrenceOverride
	for i := range overrides {
		o := &overrides[i]
		if o.IsReschedule() && o.TargetDate() == date {
			natural, override = o.DateKey, o
			break
		}
		if o.DateKey == date {
			override = o
		}
	}

	res := EvaluateEvent(&ev, recurrence.Window{Start: natural, End: natural})
	if len(res.Dates) != 1 {
		return Resolved{}, ErrNotAnOccurrence
	}

	entry := newEntry(&ev, natural, res.Confident)
	if override != nil {
		entry = applyOverride(entry, override)
	}
	return Resolved{Key: entry.Key(), Entry: entry, Event: ev}, nil
}
