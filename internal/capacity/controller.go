package capacity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/notify"
	"github.com/farellandr/gigboard/internal/occurrence"
)

const DefaultLockTimeout = 5 * time.Second

// KeyResolver maps (event, date) to the canonical occurrence key.
type KeyResolver interface {
	ResolveKey(ctx context.Context, eventID uuid.UUID, date string) (occurrence.Resolved, error)
}

type Options struct {
	LockTimeout time.Duration
	Publisher   notify.Publisher
}

// Controller allocates capacity for occurrences. Every mutation for one
// occurrence key runs under that key's lock.
type Controller struct {
	db          *gorm.DB
	resolver    KeyResolver
	region      *calendar.Region
	locks       *keyLocks
	lockTimeout time.Duration
	publisher   notify.Publisher
}

func NewController(db *gorm.DB, resolver KeyResolver, region *calendar.Region, opts Options) *Controller {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Publisher == nil {
		opts.Publisher = notify.LogPublisher{}
	}
	return &Controller{
		db:          db,
		resolver:    resolver,
		region:      region,
		locks:       newKeyLocks(),
		lockTimeout: opts.LockTimeout,
		publisher:   opts.Publisher,
	}
}

type Participant struct {
	ID    string
	Name  string
	Email string
}

type CancelResult struct {
	Cancelled models.Signup  `json:"cancelled"`
	Promoted  *models.Signup `json:"promoted,omitempty"`
}

type Count struct {
	Confirmed      int64 `json:"confirmed"`
	WaitlistLength int64 `json:"waitlist_length"`
	Capacity       *int  `json:"capacity"`
	Remaining      *int  `json:"remaining"`
}

// Signup admits p to the occurrence of eventID on date. A full occurrence
// puts p on the waitlist; that is not an error.
func (c *Controller) Signup(ctx context.Context, eventID uuid.UUID, date string, p Participant) (models.Signup, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if p.Name == "" {
		return models.Signup{}, ErrNameRequired
	}

	resolved, err := c.resolver.ResolveKey(ctx, eventID, date)
	if err != nil {
		return models.Signup{}, err
	}
	if resolved.Entry.IsCancelled {
		return models.Signup{}, ErrOccurrenceCancelled
	}
	if calendar.Compare(resolved.Entry.Date, c.region.Today()) < 0 {
		return models.Signup{}, ErrOccurrencePast
	}

	key := resolved.Key
	var signup models.Signup
	err = c.withOccurrenceLock(ctx, key, func(tx *gorm.DB) error {
		ev, err := loadEvent(tx, key.EventID)
		if err != nil {
			return err
		}
		if err := c.ensureOpen(tx, key); err != nil {
			return err
		}
		if err := ensureNotSignedUp(tx, key, p); err != nil {
			return err
		}

		confirmed, err := countStatus(tx, key, models.SignupConfirmed)
		if err != nil {
			return err
		}

		signup = models.Signup{
			EventID:       key.EventID,
			DateKey:       key.DateKey,
			ParticipantID: p.ID,
			Name:          p.Name,
			Email:         p.Email,
		}
		if ev.Capacity == nil || confirmed < int64(*ev.Capacity) {
			signup.Status = models.SignupConfirmed
			if ev.HasTimeslots {
				slot, err := lowestFreeSlot(tx, key)
				if err != nil {
					return err
				}
				signup.SlotNumber = &slot
			}
		} else {
			last, err := lastWaitlistPosition(tx, key)
			if err != nil {
				return err
			}
			pos := last + 1
			signup.Status = models.SignupWaitlist
			signup.WaitlistPosition = &pos
		}
		return tx.Create(&signup).Error
	})
	if err != nil {
		return models.Signup{}, err
	}

	notify.Emit(ctx, c.publisher, notify.SignupCreated, signup)
	return signup, nil
}

// Cancel cancels a signup. Cancelling a confirmed signup promotes the head of
// the waitlist in the same transaction.
func (c *Controller) Cancel(ctx context.Context, signupID uuid.UUID) (CancelResult, error) {
	existing, err := c.findSignup(ctx, c.db, signupID)
	if err != nil {
		return CancelResult{}, err
	}
	key := occurrence.Key{EventID: existing.EventID, DateKey: existing.DateKey}

	var res CancelResult
	err = c.withOccurrenceLock(ctx, key, func(tx *gorm.DB) error {
		s, err := c.findSignup(ctx, tx, signupID)
		if err != nil {
			return err
		}
		if err := checkTransition(s.Status, models.SignupCancelled); err != nil {
			return err
		}

		wasConfirmed := s.Status == models.SignupConfirmed
		position, slot := s.WaitlistPosition, s.SlotNumber

		now := time.Now()
		s.Status = models.SignupCancelled
		s.CancelledAt = &now
		s.WaitlistPosition = nil
		s.SlotNumber = nil
		if err := tx.Save(&s).Error; err != nil {
			return fmt.Errorf("cancel signup: %w", err)
		}
		res.Cancelled = s

		if position != nil {
			return compactAfter(tx, key, *position)
		}
		if wasConfirmed {
			promoted, err := promoteNext(tx, key, slot)
			if err != nil {
				return err
			}
			res.Promoted = promoted
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	notify.Emit(ctx, c.publisher, notify.SignupCancelled, res.Cancelled)
	if res.Promoted != nil {
		notify.Emit(ctx, c.publisher, notify.SignupPromoted, *res.Promoted)
	}
	return res, nil
}

// Count reports capacity usage for one occurrence. Rows are matched on the
// full key so signups for other dates of the same event never leak in.
func (c *Controller) Count(ctx context.Context, eventID uuid.UUID, date string) (Count, error) {
	resolved, err := c.resolver.ResolveKey(ctx, eventID, date)
	if err != nil {
		return Count{}, err
	}
	return c.CountKey(ctx, resolved.Key, resolved.Event.Capacity)
}

func (c *Controller) CountKey(ctx context.Context, key occurrence.Key, capacity *int) (Count, error) {
	db := c.db.WithContext(ctx)
	confirmed, err := countStatus(db, key, models.SignupConfirmed)
	if err != nil {
		return Count{}, err
	}
	waitlist, err := countStatus(db, key, models.SignupWaitlist)
	if err != nil {
		return Count{}, err
	}

	out := Count{Confirmed: confirmed, WaitlistLength: waitlist, Capacity: capacity}
	if capacity != nil {
		remaining := *capacity - int(confirmed)
		if remaining < 0 {
			remaining = 0
		}
		out.Remaining = &remaining
	}
	return out, nil
}

// List returns the signups of one occurrence, confirmed first, then the
// waitlist in order, then cancellations.
func (c *Controller) List(ctx context.Context, eventID uuid.UUID, date string) ([]models.Signup, error) {
	resolved, err := c.resolver.ResolveKey(ctx, eventID, date)
	if err != nil {
		return nil, err
	}

	var signups []models.Signup
	err = c.db.WithContext(ctx).
		Where("event_id = ? AND date_key = ?", resolved.Key.EventID, resolved.Key.DateKey).
		Order("CASE status WHEN 'confirmed' THEN 0 WHEN 'waitlist' THEN 1 ELSE 2 END").
		Order("slot_number").
		Order("waitlist_position").
		Order("created_at").
		Find(&signups).Error
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	return signups, nil
}

func (c *Controller) ListForParticipant(ctx context.Context, participantID string) ([]models.Signup, error) {
	var signups []models.Signup
	err := c.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("date_key").
		Order("created_at").
		Find(&signups).Error
	if err != nil {
		return nil, fmt.Errorf("list participant signups: %w", err)
	}
	return signups, nil
}

// Rebalance promotes waitlisted signups while the occurrence has free seats,
// for example after the event's capacity was raised.
func (c *Controller) Rebalance(ctx context.Context, key occurrence.Key) ([]models.Signup, error) {
	var promoted []models.Signup
	err := c.withOccurrenceLock(ctx, key, func(tx *gorm.DB) error {
		for {
			next, err := promoteNext(tx, key, nil)
			if err != nil {
				return err
			}
			if next == nil {
				return nil
			}
			promoted = append(promoted, *next)
		}
	})
	if err != nil {
		return nil, err
	}

	for _, s := range promoted {
		notify.Emit(ctx, c.publisher, notify.SignupPromoted, s)
	}
	return promoted, nil
}

// RebalanceEvent rebalances every upcoming occurrence of eventID that has a
// waitlist.
func (c *Controller) RebalanceEvent(ctx context.Context, eventID uuid.UUID) ([]models.Signup, error) {
	var dates []string
	err := c.db.WithContext(ctx).Model(&models.Signup{}).
		Where("event_id = ? AND status = ? AND date_key >= ?", eventID, models.SignupWaitlist, c.region.Today()).
		Distinct("date_key").
		Order("date_key").
		Pluck("date_key", &dates).Error
	if err != nil {
		return nil, fmt.Errorf("find waitlisted occurrences: %w", err)
	}

	var promoted []models.Signup
	for _, d := range dates {
		p, err := c.Rebalance(ctx, occurrence.Key{EventID: eventID, DateKey: d})
		if err != nil {
			return promoted, err
		}
		promoted = append(promoted, p...)
	}
	return promoted, nil
}

// CancelAllForEvent cancels every active signup of an event inside the
// caller's transaction and drops its lock markers.
func CancelAllForEvent(tx *gorm.DB, eventID uuid.UUID) (int64, error) {
	now := time.Now()
	res := tx.Model(&models.Signup{}).
		Where("event_id = ? AND status <> ?", eventID, models.SignupCancelled).
		Updates(map[string]interface{}{
			"status":            models.SignupCancelled,
			"cancelled_at":      now,
			"waitlist_position": nil,
			"slot_number":       nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("cancel event signups: %w", res.Error)
	}
	if err := tx.Where("event_id = ?", eventID).Delete(&models.OccurrenceLock{}).Error; err != nil {
		return 0, fmt.Errorf("delete occurrence locks: %w", err)
	}
	return res.RowsAffected, nil
}

func (c *Controller) findSignup(ctx context.Context, db *gorm.DB, id uuid.UUID) (models.Signup, error) {
	var s models.Signup
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Signup{}, ErrSignupNotFound
		}
		return models.Signup{}, fmt.Errorf("load signup: %w", err)
	}
	return s, nil
}

func loadEvent(tx *gorm.DB, id uuid.UUID) (models.Event, error) {
	var ev models.Event
	if err := tx.Select("id", "capacity", "has_timeslots").Where("id = ?", id).First(&ev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Event{}, occurrence.ErrEventNotFound
		}
		return models.Event{}, fmt.Errorf("load event: %w", err)
	}
	return ev, nil
}

// ensureOpen re-reads the occurrence's override under the lock, so a cancel
// or a move into the past saved after the key was resolved still applies.
func (c *Controller) ensureOpen(tx *gorm.DB, key occurrence.Key) error {
	var o models.OccurrenceOverride
	err := tx.Where("event_id = ? AND date_key = ?", key.EventID, key.DateKey).First(&o).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		o = models.OccurrenceOverride{DateKey: key.DateKey}
	case err != nil:
		return fmt.Errorf("load override: %w", err)
	}
	if o.Status == models.OverrideCancelled {
		return ErrOccurrenceCancelled
	}
	if calendar.Compare(o.TargetDate(), c.region.Today()) < 0 {
		return ErrOccurrencePast
	}
	return nil
}

func ensureNotSignedUp(tx *gorm.DB, key occurrence.Key, p Participant) error {
	q := tx.Model(&models.Signup{}).
		Where("event_id = ? AND date_key = ? AND status <> ?", key.EventID, key.DateKey, models.SignupCancelled)
	switch {
	case p.ID != "":
		q = q.Where("participant_id = ?", p.ID)
	case p.Email != "":
		q = q.Where("LOWER(email) = ?", strings.ToLower(p.Email))
	default:
		return nil
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return fmt.Errorf("check existing signup: %w", err)
	}
	if n > 0 {
		return ErrAlreadySignedUp
	}
	return nil
}

func countStatus(db *gorm.DB, key occurrence.Key, status models.SignupStatus) (int64, error) {
	var n int64
	err := db.Model(&models.Signup{}).
		Where("event_id = ? AND date_key = ? AND status = ?", key.EventID, key.DateKey, status).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count %s signups: %w", status, err)
	}
	return n, nil
}

func lastWaitlistPosition(tx *gorm.DB, key occurrence.Key) (int, error) {
	var last int
	err := tx.Model(&models.Signup{}).
		Select("COALESCE(MAX(waitlist_position), 0)").
		Where("event_id = ? AND date_key = ? AND status = ?", key.EventID, key.DateKey, models.SignupWaitlist).
		Row().Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("read waitlist tail: %w", err)
	}
	return last, nil
}

func lowestFreeSlot(tx *gorm.DB, key occurrence.Key) (int, error) {
	var used []int
	err := tx.Model(&models.Signup{}).
		Where("event_id = ? AND date_key = ? AND status = ? AND slot_number IS NOT NULL", key.EventID, key.DateKey, models.SignupConfirmed).
		Order("slot_number").
		Pluck("slot_number", &used).Error
	if err != nil {
		return 0, fmt.Errorf("read slots: %w", err)
	}

	slot := 1
	for _, n := range used {
		if n > slot {
			break
		}
		if n == slot {
			slot++
		}
	}
	return slot, nil
}

// compactAfter closes the gap left by the waitlist row at position.
func compactAfter(tx *gorm.DB, key occurrence.Key, position int) error {
	err := tx.Model(&models.Signup{}).
		Where("event_id = ? AND date_key = ? AND status = ? AND waitlist_position > ?",
			key.EventID, key.DateKey, models.SignupWaitlist, position).
		UpdateColumn("waitlist_position", gorm.Expr("waitlist_position - 1")).Error
	if err != nil {
		return fmt.Errorf("compact waitlist: %w", err)
	}
	return nil
}

// promoteNext confirms the head of the waitlist if a seat is free. In slot
// mode the promoted row takes slot when given, otherwise the lowest free one.
func promoteNext(tx *gorm.DB, key occurrence.Key, slot *int) (*models.Signup, error) {
	ev, err := loadEvent(tx, key.EventID)
	if err != nil {
		return nil, err
	}
	if ev.Capacity != nil {
		confirmed, err := countStatus(tx, key, models.SignupConfirmed)
		if err != nil {
			return nil, err
		}
		if confirmed >= int64(*ev.Capacity) {
			return nil, nil
		}
	}

	var next models.Signup
	err = tx.Where("event_id = ? AND date_key = ? AND status = ?", key.EventID, key.DateKey, models.SignupWaitlist).
		Order("waitlist_position").
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load waitlist head: %w", err)
	}
	if err := checkTransition(next.Status, models.SignupConfirmed); err != nil {
		return nil, err
	}

	position := *next.WaitlistPosition
	now := time.Now()
	next.Status = models.SignupConfirmed
	next.WaitlistPosition = nil
	next.PromotedAt = &now
	if ev.HasTimeslots {
		if slot == nil {
			free, err := lowestFreeSlot(tx, key)
			if err != nil {
				return nil, err
			}
			slot = &free
		}
		next.SlotNumber = slot
	}
	if err := tx.Save(&next).Error; err != nil {
		return nil, fmt.Errorf("promote signup: %w", err)
	}
	if err := compactAfter(tx, key, position); err != nil {
		return nil, err
	}
	return &next, nil
}
