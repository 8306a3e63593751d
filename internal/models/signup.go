package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SignupStatus string

const (
	SignupConfirmed SignupStatus = "confirmed"
	SignupWaitlist  SignupStatus = "waitlist"
	SignupCancelled SignupStatus = "cancelled"
)

// Signup is an RSVP or a performance slot claim for one occurrence. Rows are
// never hard-deleted; cancellation is a status change.
type Signup struct {
	ID               uuid.UUID    `gorm:"type:uuid;primary_key" json:"id"`
	EventID          uuid.UUID    `gorm:"type:uuid;not null;index:idx_signup_occurrence" json:"event_id"`
	DateKey          string       `gorm:"size:10;not null;index:idx_signup_occurrence" json:"date_key"`
	Status           SignupStatus `gorm:"size:16;not null;index:idx_signup_occurrence" json:"status"`
	WaitlistPosition *int         `json:"waitlist_position,omitempty"`
	SlotNumber       *int         `json:"slot_number,omitempty"`
	ParticipantID    string       `gorm:"index" json:"participant_id"`
	Name             string       `gorm:"not null" json:"name"`
	Email            string       `json:"email,omitempty"`
	PromotedAt       *time.Time   `json:"promoted_at,omitempty"`
	CancelledAt      *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (signup *Signup) BeforeCreate(tx *gorm.DB) (err error) {
	if signup.ID == uuid.Nil {
		signup.ID = uuid.New()
	}
	return
}

// OccurrenceLock is the marker row locked to serialize capacity changes for
// one occurrence.
type OccurrenceLock struct {
	EventID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	DateKey   string    `gorm:"size:10;primaryKey"`
	CreatedAt time.Time
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Category{},
		&Event{},
		&OccurrenceOverride{},
		&Signup{},
		&OccurrenceLock{},
	}
}
