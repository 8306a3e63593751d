package occurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/recurrence"
)

var (
	ErrOverrideNotFound      = errors.New("override not found")
	ErrInvalidOverrideStatus = errors.New("unknown override status")
	ErrRescheduleConflict    = errors.New("event already has an occurrence on that date")
)

// SaveOverride creates or replaces the override for the occurrence shown on
// date. The row is always stored under the occurrence's natural date, so
// editing a rescheduled occurrence through its new date updates the same row.
//
// A reschedule may not land on a date the event already shows, whether that
// is a natural occurrence still in place or the target of another override.
// Each displayed date therefore maps back to exactly one occurrence.
func (s *Service) SaveOverride(ctx context.Context, eventID uuid.UUID, date string, status models.OverrideStatus, patch models.OverridePatch) (models.OccurrenceOverride, error) {
	if status == "" {
		status = models.OverrideNormal
	}
	if status != models.OverrideNormal && status != models.OverrideCancelled {
		return models.OccurrenceOverride{}, fmt.Errorf("%w %q", ErrInvalidOverrideStatus, status)
	}
	if err := validatePatch(patch); err != nil {
		return models.OccurrenceOverride{}, err
	}

	var saved models.OccurrenceOverride
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockEvent(tx, eventID); err != nil {
			return err
		}
		resolved, err := resolveKey(ctx, tx, eventID, date)
		if err != nil {
			return err
		}
		key := resolved.Key
		if patch.Date != nil && *patch.Date == key.DateKey {
			patch.Date = nil
		}
		target := key.DateKey
		if patch.Date != nil {
			target = *patch.Date
		}
		if err := checkTarget(tx, &resolved.Event, key, target); err != nil {
			return err
		}

		err = tx.Where("event_id = ? AND date_key = ?", eventID, key.DateKey).First(&saved).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			saved = models.OccurrenceOverride{
				EventID: eventID,
				DateKey: key.DateKey,
				Status:  status,
				Patch:   patch,
			}
			return tx.Create(&saved).Error
		case err != nil:
			return fmt.Errorf("save override: %w", err)
		}
		saved.Status = status
		saved.Patch = patch
		if err := tx.Save(&saved).Error; err != nil {
			return fmt.Errorf("save override: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.OccurrenceOverride{}, err
	}
	return saved, nil
}

// DeleteOverride restores the occurrence to the event's defaults. Removing a
// reschedule is refused while another override has moved onto the natural
// date it would return to.
func (s *Service) DeleteOverride(ctx context.Context, eventID uuid.UUID, date string) (models.OccurrenceOverride, error) {
	var o models.OccurrenceOverride
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockEvent(tx, eventID); err != nil {
			return err
		}
		resolved, err := resolveKey(ctx, tx, eventID, date)
		if err != nil {
			return err
		}
		if resolved.Entry.OverrideID == nil {
			return ErrOverrideNotFound
		}
		if err := tx.Where("id = ?", *resolved.Entry.OverrideID).First(&o).Error; err != nil {
			return fmt.Errorf("load override: %w", err)
		}
		if o.IsReschedule() {
			if err := checkTarget(tx, &resolved.Event, resolved.Key, o.DateKey); err != nil {
				return err
			}
		}
		if err := tx.Delete(&o).Error; err != nil {
			return fmt.Errorf("delete override: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.OccurrenceOverride{}, err
	}
	return o, nil
}

// lockEvent serializes override writes for one event on Postgres. SQLite
// already allows a single writer.
func lockEvent(tx *gorm.DB, eventID uuid.UUID) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	var ev models.Event
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", eventID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("lock event: %w", err)
	}
	return nil
}

// checkTarget fails with ErrRescheduleConflict when showing the occurrence
// key on target would put a second occurrence of the event on that date.
func checkTarget(tx *gorm.DB, ev *models.Event, key Key, target string) error {
	var others []models.OccurrenceOverride
	err := tx.Where("event_id = ? AND date_key <> ?", key.EventID, key.DateKey).
		Where("(override_date = ? OR date_key = ?)", target, target).
		Find(&others).Error
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}

	movedAway := false
	for i := range others {
		o := &others[i]
		if o.IsReschedule() && o.TargetDate() == target {
			return fmt.Errorf("%w: %s already shows the occurrence of %s", ErrRescheduleConflict, target, o.DateKey)
		}
		if o.DateKey == target && o.IsReschedule() {
			movedAway = true
		}
	}
	if target == key.DateKey || movedAway {
		return nil
	}
	if res := EvaluateEvent(ev, recurrence.Window{Start: target, End: target}); len(res.Dates) == 1 {
		return fmt.Errorf("%w: %s is already an occurrence", ErrRescheduleConflict, target)
	}
	return nil
}

// DeleteOverridesForEvent removes every override of an event inside tx.
func DeleteOverridesForEvent(tx *gorm.DB, eventID uuid.UUID) error {
	return tx.Where("event_id = ?", eventID).Delete(&models.OccurrenceOverride{}).Error
}

func validatePatch(p models.OverridePatch) error {
	for _, t := range []*string{p.StartTime, p.EndTime} {
		if t == nil {
			continue
		}
		if _, err := time.Parse("15:04", *t); err != nil {
			return &calendar.InvalidDateError{Value: *t, Reason: "time must be HH:MM"}
		}
	}
	if p.Date != nil {
		if _, err := calendar.ParseKey(*p.Date); err != nil {
			return err
		}
	}
	return nil
}
