package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/capacity"
	"github.com/farellandr/gigboard/internal/helpers"
	"github.com/farellandr/gigboard/internal/middleware"
	"github.com/farellandr/gigboard/internal/models"
)

type SignupRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"omitempty,email"`
}

// CreateSignup RSVPs or claims a slot. A full occurrence answers 201 with
// status "waitlist".
func CreateSignup(c *gin.Context) {
	eventID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	ctrl, ok := controller(c)
	if !ok {
		return
	}

	p := capacity.Participant{Name: req.Name, Email: req.Email}
	if identity, ok := middleware.GetIdentity(c); ok {
		p.ID = identity.UserID
		if p.Name == "" {
			p.Name = identity.Name
		}
		if p.Email == "" {
			p.Email = identity.Email
		}
	}

	signup, err := ctrl.Signup(c.Request.Context(), eventID, c.Param("date"), p)
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"signup":            signup,
		"status":            signup.Status,
		"waitlist_position": signup.WaitlistPosition,
		"slot_number":       signup.SlotNumber,
	})
}

// CancelSignup cancels by id. Signups made with a token can only be
// cancelled by the same user, the event host or an admin.
func CancelSignup(c *gin.Context) {
	signupID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}
	ctrl, ok := controller(c)
	if !ok {
		return
	}

	var signup models.Signup
	if err := db.Where("id = ?", signupID).First(&signup).Error; err != nil {
		helpers.RespondWithDomainError(c, capacity.ErrSignupNotFound)
		return
	}
	if signup.ParticipantID != "" && !mayCancel(c, db, signup) {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to cancel this signup.")
		return
	}

	res, err := ctrl.Cancel(c.Request.Context(), signupID)
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Signup cancelled successfully.",
		"signup":   res.Cancelled,
		"promoted": res.Promoted,
	})
}

func mayCancel(c *gin.Context, db *gorm.DB, signup models.Signup) bool {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return false
	}
	if identity.UserID == signup.ParticipantID || identity.IsAdmin() {
		return true
	}
	var hosted int64
	db.Model(&models.Event{}).Where("id = ? AND host_id = ?", signup.EventID, identity.UserID).Count(&hosted)
	return hosted > 0
}

// ListSignups shows the host everyone signed up for one occurrence.
func ListSignups(c *gin.Context) {
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
	ctrl, ok := controller(c)
	if !ok {
		return
	}

	signups, err := ctrl.List(c.Request.Context(), eventID, c.Param("date"))
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}
	count, err := ctrl.Count(c.Request.Context(), eventID, c.Param("date"))
	if err != nil {
		helpers.RespondWithDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signups": signups,
		"count":   count,
	})
}
