package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/farellandr/gigboard/internal/helpers"
	"github.com/farellandr/gigboard/internal/middleware"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/notify"
)

type OverrideRequest struct {
	Status     models.OverrideStatus `json:"status" binding:"omitempty,oneof=normal cancelled"`
	StartTime  *string               `json:"start_time"`
	EndTime    *string               `json:"end_time"`
	CoverImage *string               `json:"cover_image"`
	Notes      *string               `json:"notes"`
	Venue      *string               `json:"venue"`
	Date       *string               `json:"date"`
}

func (req OverrideRequest) patch() models.OverridePatch {
	return models.OverridePatch{
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		CoverImage: req.CoverImage,
		Notes:      req.Notes,
		Venue:      req.Venue,
		Date:       req.Date,
	}
}

// SaveOverride cancels, edits or reschedules one occurrence. The :date may be
// the natural date or the date the occurrence was already moved to.
func SaveOverride(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	db, ok := database(c)
	if !ok {
		return
	}
	if _, ok := ownedEvent(c, db, eventID); !ok {
		return
	}
	svc, ok := occurrences(c)
	if !ok {
		return
	}

	saved, err := svc.SaveOverride(c.Request.Context(), eventID, c.Param("date"), req.Status, req.patch())
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}
	notify.Emit(c.Request.Context(), middleware.GetPublisher(c), notify.OverrideSaved, saved)

	c.JSON(http.StatusOK, gin.H{
		"message":  "Occurrence updated successfully.",
		"override": saved,
	})
}

func DeleteOverride(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}
	if _, ok := ownedEvent(c, db, eventID); !ok {
		return
	}
	svc, ok := occurrences(c)
	if !ok {
		return
	}

	removed, err := svc.DeleteOverride(c.Request.Context(), eventID, c.Param("date"))
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}
	notify.Emit(c.Request.Context(), middleware.GetPublisher(c), notify.OverrideDeleted, removed)

	c.JSON(http.StatusOK, gin.H{
		"message":  "Occurrence restored to the event defaults.",
		"override": removed,
	})
}
