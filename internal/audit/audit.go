package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/occurrence"
	"github.com/farellandr/gigboard/internal/recurrence"
)

const (
	DefaultSchedule = "15 3 * * *"
	defaultLookback = 30
	runTimeout      = 5 * time.Minute
)

type Reason string

const (
	ReasonEventGone     Reason = "event_gone"
	ReasonNoOccurrence  Reason = "not_an_occurrence"
	ReasonCancelled     Reason = "occurrence_cancelled"
	ReasonWrongKey      Reason = "stored_under_rescheduled_date"
	ReasonInvalidDate   Reason = "invalid_date"
	reasonResolveFailed Reason = "resolve_failed"
)

// Orphan is an active signup whose key no longer names a live occurrence.
type Orphan struct {
	SignupID uuid.UUID      `json:"signup_id"`
	Key      occurrence.Key `json:"key"`
	Reason   Reason         `json:"reason"`
	Expected string         `json:"expected_date_key,omitempty"`
}

type Report struct {
	Window  recurrence.Window  `json:"window"`
	Metrics occurrence.Metrics `json:"metrics"`
	Checked int                `json:"checked_keys"`
	Orphans []Orphan           `json:"orphans"`
}

type Auditor struct {
	db       *gorm.DB
	svc      *occurrence.Service
	lookback int
}

// NewAuditor checks signups dated from lookbackDays before today onward.
func NewAuditor(db *gorm.DB, svc *occurrence.Service, lookbackDays int) *Auditor {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookback
	}
	return &Auditor{db: db, svc: svc, lookback: lookbackDays}
}

// Run expands the display window and cross-checks every active signup
// against the shared key resolver.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	w := a.svc.DisplayWindow()
	res, err := a.svc.Window(ctx, occurrence.Query{Window: w})
	if err != nil {
		return Report{}, fmt.Errorf("expand display window: %w", err)
	}
	report := Report{Window: w, Metrics: res.Metrics, Orphans: []Orphan{}}
	if res.Metrics.WasCapped {
		zap.L().Warn("display window expansion hit the cap",
			zap.String("window_start", w.Start),
			zap.String("window_end", w.End),
			zap.Int("events_processed", res.Metrics.EventsProcessed),
			zap.Int("total_occurrences", res.Metrics.TotalOccurrences),
		)
	}

	from, _ := calendar.AddDays(w.Start, -a.lookback)
	var signups []models.Signup
	err = a.db.WithContext(ctx).
		Where("status <> ? AND date_key >= ?", models.SignupCancelled, from).
		Order("event_id").Order("date_key").
		Find(&signups).Error
	if err != nil {
		return Report{}, fmt.Errorf("load signups: %w", err)
	}

	byKey := make(map[occurrence.Key][]models.Signup)
	var keys []occurrence.Key
	for _, s := range signups {
		k := occurrence.Key{EventID: s.EventID, DateKey: s.DateKey}
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], s)
	}

	for _, k := range keys {
		reason, expected := a.check(ctx, k)
		if reason == "" {
			continue
		}
		for _, s := range byKey[k] {
			report.Orphans = append(report.Orphans, Orphan{SignupID: s.ID, Key: k, Reason: reason, Expected: expected})
		}
	}
	report.Checked = len(keys)
	return report, nil
}

func (a *Auditor) check(ctx context.Context, k occurrence.Key) (Reason, string) {
	resolved, err := a.svc.ResolveKey(ctx, k.EventID, k.DateKey)
	var ide *calendar.InvalidDateError
	switch {
	case errors.Is(err, occurrence.ErrEventNotFound):
		return ReasonEventGone, ""
	case errors.Is(err, occurrence.ErrNotAnOccurrence):
		return ReasonNoOccurrence, ""
	case errors.As(err, &ide):
		return ReasonInvalidDate, ""
	case err != nil:
		zap.L().Error("audit resolve failed", zap.String("occurrence", k.String()), zap.Error(err))
		return reasonResolveFailed, ""
	}

	if resolved.Key != k {
		return ReasonWrongKey, resolved.Key.DateKey
	}
	if resolved.Entry.IsCancelled {
		return ReasonCancelled, ""
	}
	return "", ""
}

// Schedule runs the auditor on a cron schedule in the region's time zone.
// The returned cron is already started; Stop it on shutdown.
func Schedule(a *Auditor, spec string, loc *time.Location) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		started := time.Now()
		report, err := a.Run(ctx)
		if err != nil {
			zap.L().Error("audit failed", zap.Error(err))
			return
		}
		fields := []zap.Field{
			zap.String("window_start", report.Window.Start),
			zap.String("window_end", report.Window.End),
			zap.Int("occurrences", report.Metrics.TotalOccurrences),
			zap.Bool("was_capped", report.Metrics.WasCapped),
			zap.Int("checked_keys", report.Checked),
			zap.Int("orphans", len(report.Orphans)),
			zap.Duration("took", time.Since(started)),
		}
		if len(report.Orphans) > 0 {
			zap.L().Warn("audit found orphaned signups", append(fields, zap.Any("orphans", report.Orphans))...)
			return
		}
		zap.L().Info("audit completed", fields...)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid audit schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
