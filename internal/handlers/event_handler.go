package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/capacity"
	"github.com/farellandr/gigboard/internal/helpers"
	"github.com/farellandr/gigboard/internal/middleware"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/notify"
	"github.com/farellandr/gigboard/internal/occurrence"
	"github.com/farellandr/gigboard/internal/recurrence"
)

type EventRequest struct {
	Title          string   `json:"title" binding:"required"`
	Description    string   `json:"description"`
	Venue          string   `json:"venue"`
	StartTime      string   `json:"start_time" binding:"required"`
	EndTime        string   `json:"end_time"`
	EventDate      string   `json:"event_date"`
	DayOfWeek      *int     `json:"day_of_week" binding:"omitempty,min=0,max=6"`
	RecurrenceRule *string  `json:"recurrence_rule"`
	MaxOccurrences *int     `json:"max_occurrences" binding:"omitempty,min=1"`
	Capacity       *int     `json:"capacity" binding:"omitempty,min=0"`
	HasTimeslots   bool     `json:"has_timeslots"`
	CoverImageURL  string   `json:"cover_image_url"`
	Categories     []string `json:"categories"`
}

// normalize validates the request and returns the canonical recurrence rule.
func (req *EventRequest) normalize() (*string, string) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, "Title is required."
	}
	if !validClock(req.StartTime) {
		return nil, "Invalid start time format, expected HH:MM."
	}
	if req.EndTime != "" && !validClock(req.EndTime) {
		return nil, "Invalid end time format, expected HH:MM."
	}
	if req.EventDate != "" && !calendar.ValidKey(req.EventDate) {
		return nil, "Invalid event date, expected YYYY-MM-DD."
	}

	desc, err := recurrence.Parse(req.RecurrenceRule, req.DayOfWeek)
	if err != nil {
		return nil, err.Error()
	}
	if !desc.Recurring() {
		if req.EventDate == "" {
			return nil, "One-off events need an event date."
		}
		return nil, ""
	}
	rule := desc.String()
	return &rule, ""
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil && len(s) == 5
}

func resolveCategories(db *gorm.DB, names []string) ([]models.Category, error) {
	var categories []models.Category
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		var category models.Category
		if err := db.Where("name = ?", name).FirstOrCreate(&category, models.Category{Name: name}).Error; err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func CreateEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	rule, problem := req.normalize()
	if problem != "" {
		helpers.RespondWithError(c, http.StatusBadRequest, problem)
		return
	}

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}

	eventCategories, err := resolveCategories(db, req.Categories)
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error processing categories.")
		return
	}

	event := models.Event{
		Title:          req.Title,
		Description:    req.Description,
		Venue:          req.Venue,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		EventDate:      req.EventDate,
		DayOfWeek:      req.DayOfWeek,
		RecurrenceRule: rule,
		MaxOccurrences: req.MaxOccurrences,
		Capacity:       req.Capacity,
		HasTimeslots:   req.HasTimeslots,
		CoverImageURL:  req.CoverImageURL,
		HostID:         identity.UserID,
		Categories:     eventCategories,
	}

	if err := db.Create(&event).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to create event.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "Event created successfully.",
		"event_id": event.ID,
		"event":    event,
	})
}

func GetEvent(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}

	var event models.Event
	if err := db.Preload("Categories").Where("id = ?", eventID).First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			helpers.RespondWithError(c, http.StatusNotFound, "Event not found.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving event.")
		return
	}

	c.JSON(http.StatusOK, event)
}

func ListEvents(c *gin.Context) {
	db, ok := database(c)
	if !ok {
		return
	}

	pageNum, limitNum, err := helpers.Pagination(c.DefaultQuery("page", "1"), c.DefaultQuery("limit", "10"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid page or limit.")
		return
	}

	query := db.Model(&models.Event{})
	if category := c.Query("category"); category != "" {
		query = query.Where("events.id IN (?)",
			db.Table("event_categories").
				Select("event_categories.event_id").
				Joins("JOIN categories ON categories.id = event_categories.category_id").
				Where("categories.name = ?", strings.ToLower(category)))
	}
	if host := c.Query("host"); host != "" {
		query = query.Where("host_id = ?", host)
	}
	if recurring := c.Query("recurring"); recurring != "" {
		want, err := helpers.ParseBool(recurring, false)
		if err != nil {
			helpers.RespondWithError(c, http.StatusBadRequest, "Invalid recurring flag.")
			return
		}
		if want {
			query = query.Where("recurrence_rule IS NOT NULL AND recurrence_rule <> ''")
		} else {
			query = query.Where("(recurrence_rule IS NULL OR recurrence_rule = '')")
		}
	}

	var totalCount int64
	query.Count(&totalCount)

	var events []models.Event
	offset := (pageNum - 1) * limitNum
	err = query.Preload("Categories").Offset(offset).Limit(limitNum).Order("created_at DESC").Find(&events).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving events.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":      events,
		"total":       totalCount,
		"page":        pageNum,
		"limit":       limitNum,
		"total_pages": (totalCount + int64(limitNum) - 1) / int64(limitNum),
	})
}

// UpdateEvent replaces the event definition. Raising or removing the capacity
// promotes waitlisted signups on upcoming occurrences.
func UpdateEvent(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	rule, problem := req.normalize()
	if problem != "" {
		helpers.RespondWithError(c, http.StatusBadRequest, problem)
		return
	}

	db, ok := database(c)
	if !ok {
		return
	}
	event, ok := ownedEvent(c, db, eventID)
	if !ok {
		return
	}
	previousCapacity := event.Capacity

	updatedCategories, err := resolveCategories(db, req.Categories)
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error processing categories.")
		return
	}

	event.Title = req.Title
	event.Description = req.Description
	event.Venue = req.Venue
	event.StartTime = req.StartTime
	event.EndTime = req.EndTime
	event.EventDate = req.EventDate
	event.DayOfWeek = req.DayOfWeek
	event.RecurrenceRule = rule
	event.MaxOccurrences = req.MaxOccurrences
	event.Capacity = req.Capacity
	event.HasTimeslots = req.HasTimeslots
	event.CoverImageURL = req.CoverImageURL

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Categories").Save(&event).Error; err != nil {
			return err
		}
		return tx.Model(&event).Association("Categories").Replace(updatedCategories)
	})
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to update event.")
		return
	}
	event.Categories = updatedCategories

	var promoted []models.Signup
	if capacityRaised(previousCapacity, event.Capacity) {
		if ctrl := middleware.GetCapacityController(c); ctrl != nil {
			promoted, err = ctrl.RebalanceEvent(c.Request.Context(), event.ID)
			if err != nil {
				zap.L().Error("rebalance after capacity change failed", zap.String("event_id", event.ID.String()), zap.Error(err))
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Event updated successfully.",
		"event":    event,
		"promoted": promoted,
	})
}

func capacityRaised(before, after *int) bool {
	switch {
	case before == nil:
		return false
	case after == nil:
		return true
	default:
		return *after > *before
	}
}

// DeleteEvent soft-deletes the event, cancels its signups and drops its
// overrides in one transaction.
func DeleteEvent(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}
	event, ok := ownedEvent(c, db, eventID)
	if !ok {
		return
	}

	var cancelled int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		if cancelled, err = capacity.CancelAllForEvent(tx, event.ID); err != nil {
			return err
		}
		if err := occurrence.DeleteOverridesForEvent(tx, event.ID); err != nil {
			return err
		}
		if err := tx.Model(&event).Association("Categories").Clear(); err != nil {
			return err
		}
		return tx.Delete(&event).Error
	})
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to delete event.")
		return
	}

	notify.Emit(c.Request.Context(), middleware.GetPublisher(c), notify.EventDeleted, gin.H{
		"event_id":          event.ID,
		"cancelled_signups": cancelled,
	})

	c.JSON(http.StatusOK, gin.H{
		"message":           "Event deleted successfully.",
		"cancelled_signups": cancelled,
	})
}
