package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/export"
	"github.com/farellandr/gigboard/internal/helpers"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/occurrence"
)

// maxWindowDays bounds a requested listing window.
const maxWindowDays = 366

// occurrenceQuery reads start, end and category. Missing bounds fall back to
// the display window; a start without an end keeps the display length.
func occurrenceQuery(c *gin.Context, svc *occurrence.Service) (occurrence.Query, bool) {
	display := svc.DisplayWindow()
	w := display
	if start := c.Query("start"); start != "" {
		w.Start = start
		length, _ := calendar.DaysBetween(display.Start, display.End)
		if c.Query("end") == "" {
			end, err := calendar.AddDays(start, length)
			if err != nil {
				helpers.RespondWithDomainError(c, err)
				return occurrence.Query{}, false
			}
			w.End = end
		}
	}
	if end := c.Query("end"); end != "" {
		w.End = end
	}
	if err := w.Validate(); err != nil {
		helpers.RespondWithDomainError(c, err)
		return occurrence.Query{}, false
	}
	if days, _ := calendar.DaysBetween(w.Start, w.End); days >= maxWindowDays {
		helpers.RespondWithError(c, http.StatusBadRequest, "Window is too long, use at most a year.")
		return occurrence.Query{}, false
	}

	q := occurrence.Query{Window: w}
	if category := c.Query("category"); category != "" {
		id, ok := categoryID(c, category)
		if !ok {
			return occurrence.Query{}, false
		}
		q.CategoryID = &id
	}
	return q, true
}

// categoryID accepts a category id or name.
func categoryID(c *gin.Context, value string) (uuid.UUID, bool) {
	if id, err := uuid.Parse(value); err == nil {
		return id, true
	}
	db, ok := database(c)
	if !ok {
		return uuid.Nil, false
	}
	var category models.Category
	err := db.Where("name = ?", strings.ToLower(strings.TrimSpace(value))).First(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Category not found.")
		return uuid.Nil, false
	}
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error finding category.")
		return uuid.Nil, false
	}
	return category.ID, true
}

// ListOccurrences returns the resolved occurrences grouped by display date.
func ListOccurrences(c *gin.Context) {
	svc, ok := occurrences(c)
	if !ok {
		return
	}
	q, ok := occurrenceQuery(c, svc)
	if !ok {
		return
	}
	showCancelled, err := helpers.ParseBool(c.Query("show_cancelled"), false)
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid show_cancelled flag.")
		return
	}

	res, err := svc.Window(c.Request.Context(), q)
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}
	visible := res.Visible(showCancelled)

	c.JSON(http.StatusOK, gin.H{
		"window":      visible.Window,
		"dates":       visible.Dates(),
		"occurrences": visible.Buckets,
		"metrics":     visible.Metrics,
	})
}

// ExportOccurrences serves the window as an iCalendar feed. Cancelled
// occurrences stay in the feed so subscribers drop them.
func ExportOccurrences(c *gin.Context) {
	svc, ok := occurrences(c)
	if !ok {
		return
	}
	q, ok := occurrenceQuery(c, svc)
	if !ok {
		return
	}

	res, err := svc.Window(c.Request.Context(), q)
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	body, err := export.Calendar(res, svc.Region(), export.Options{
		Name:    "Gigboard",
		BaseURL: scheme + "://" + c.Request.Host + "/v1",
		Stamp:   time.Now(),
	})
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="gigboard.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// GetOccurrence resolves one occurrence by its natural or displayed date.
func GetOccurrence(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	svc, ok := occurrences(c)
	if !ok {
		return
	}
	ctrl, ok := controller(c)
	if !ok {
		return
	}

	resolved, err := svc.ResolveKey(c.Request.Context(), eventID, c.Param("date"))
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}
	count, err := ctrl.CountKey(c.Request.Context(), resolved.Key, resolved.Event.Capacity)
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":        resolved.Key,
		"occurrence": resolved.Entry,
		"count":      count,
	})
}

func GetOccurrenceCount(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctrl, ok := controller(c)
	if !ok {
		return
	}

	count, err := ctrl.Count(c.Request.Context(), eventID, c.Param("date"))
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}
