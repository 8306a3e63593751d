package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is the canonical, mutable definition of a one-off or recurring event.
// Occurrence dates are derived from it and never stored as rows.
type Event struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Title          string         `gorm:"not null" json:"title"`
	Description    string         `json:"description"`
	Venue          string         `json:"venue"`
	StartTime      string         `gorm:"size:5" json:"start_time"`
	EndTime        string         `gorm:"size:5" json:"end_time"`
	EventDate      string         `gorm:"size:10;index" json:"event_date"`
	DayOfWeek      *int           `json:"day_of_week"`
	RecurrenceRule *string        `json:"recurrence_rule"`
	MaxOccurrences *int           `json:"max_occurrences"`
	Capacity       *int           `json:"capacity"`
	HasTimeslots   bool           `gorm:"not null;default:false" json:"has_timeslots"`
	CoverImageURL  string         `json:"cover_image_url"`
	HostID         string         `gorm:"index" json:"host_id"`
	Categories     []Category     `gorm:"many2many:event_categories;" json:"categories,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (event *Event) BeforeCreate(tx *gorm.DB) (err error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return
}

func (event *Event) IsRecurring() bool {
	return event.RecurrenceRule != nil && *event.RecurrenceRule != ""
}

func (event *Event) CategoryNames() []string {
	names := make([]string, 0, len(event.Categories))
	for _, c := range event.Categories {
		names = append(names, c.Name)
	}
	return names
}
