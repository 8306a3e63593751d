package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/farellandr/gigboard/internal/helpers"
	"github.com/farellandr/gigboard/internal/middleware"
)

// GetMySignups lists the caller's signups across all occurrences.
func GetMySignups(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	ctrl, ok := controller(c)
	if !ok {
		return
	}

	signups, err := ctrl.ListForParticipant(c.Request.Context(), identity.UserID)
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": identity.UserID,
		"signups": signups,
		"total":   len(signups),
	})
}
