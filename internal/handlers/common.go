package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/capacity"
	"github.com/farellandr/gigboard/internal/helpers"
	"github.com/farellandr/gigboard/internal/middleware"
	"github.com/farellandr/gigboard/internal/models"
	"github.com/farellandr/gigboard/internal/occurrence"
)

func database(c *gin.Context) (*gorm.DB, bool) {
	db := middleware.GetDB(c)
	if db == nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return nil, false
	}
	return db, true
}

func occurrences(c *gin.Context) (*occurrence.Service, bool) {
	svc := middleware.GetOccurrenceService(c)
	if svc == nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Occurrence service not configured.")
		return nil, false
	}
	return svc, true
}

func controller(c *gin.Context) (*capacity.Controller, bool) {
	ctrl := middleware.GetCapacityController(c)
	if ctrl == nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Capacity controller not configured.")
		return nil, false
	}
	return ctrl, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := helpers.ParseUUID(c.Param(name))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// ownedEvent loads an event the caller may manage: its host or an admin.
func ownedEvent(c *gin.Context, db *gorm.DB, id uuid.UUID) (models.Event, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return models.Event{}, false
	}

	var event models.Event
	if err := db.WithContext(c.Request.Context()).Preload("Categories").Where("id = ?", id).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			helpers.RespondWithError(c, http.StatusNotFound, "Event not found.")
			return models.Event{}, false
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error finding event.")
		return models.Event{}, false
	}

	if event.HostID != identity.UserID && !identity.IsAdmin() {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to manage this event.")
		return models.Event{}, false
	}
	return event, true
}
