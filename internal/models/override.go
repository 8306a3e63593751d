package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OverrideStatus string

const (
	OverrideNormal    OverrideStatus = "normal"
	OverrideCancelled OverrideStatus = "cancelled"
)

// OverridePatch holds the per-occurrence replacements. A nil field falls back
// to the event's own value.
type OverridePatch struct {
	StartTime  *string `gorm:"column:override_start_time;size:5" json:"start_time,omitempty"`
	EndTime    *string `gorm:"column:override_end_time;size:5" json:"end_time,omitempty"`
	CoverImage *string `gorm:"column:override_cover_image" json:"cover_image,omitempty"`
	Notes      *string `gorm:"column:override_notes" json:"notes,omitempty"`
	Venue      *string `gorm:"column:override_venue" json:"venue,omitempty"`
	// Date moves the occurrence to another date key.
	Date *string `gorm:"column:override_date;size:10;index" json:"date,omitempty"`
}

// OccurrenceOverride is an exception for one event on one natural date.
type OccurrenceOverride struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	EventID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_override_occurrence" json:"event_id"`
	DateKey   string         `gorm:"size:10;not null;uniqueIndex:idx_override_occurrence" json:"date_key"`
	Status    OverrideStatus `gorm:"size:16;not null;default:'normal'" json:"status"`
	Patch     OverridePatch  `gorm:"embedded" json:"patch"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (override *OccurrenceOverride) BeforeCreate(tx *gorm.DB) (err error) {
	if override.ID == uuid.Nil {
		override.ID = uuid.New()
	}
	return
}

// TargetDate is the date the occurrence is shown on.
func (override *OccurrenceOverride) TargetDate() string {
	if override.Patch.Date != nil && *override.Patch.Date != "" {
		return *override.Patch.Date
	}
	return override.DateKey
}

func (override *OccurrenceOverride) IsReschedule() bool {
	return override.TargetDate() != override.DateKey
}
