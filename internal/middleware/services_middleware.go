package middleware

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/capacity"
	"github.com/farellandr/gigboard/internal/notify"
	"github.com/farellandr/gigboard/internal/occurrence"
)

const (
	dbKey         = "db"
	occurrenceKey = "occurrence_service"
	capacityKey   = "capacity_controller"
	publisherKey  = "publisher"
)

func DatabaseMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(dbKey, db)
		c.Next()
	}
}

// Services carries the domain services shared by every request.
type Services struct {
	Occurrences *occurrence.Service
	Capacity    *capacity.Controller
	Publisher   notify.Publisher
}

func ServicesMiddleware(s Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(occurrenceKey, s.Occurrences)
		c.Set(capacityKey, s.Capacity)
		c.Set(publisherKey, s.Publisher)
		c.Next()
	}
}

func GetDB(c *gin.Context) *gorm.DB {
	db, exists := c.Get(dbKey)
	if !exists {
		return nil
	}
	return db.(*gorm.DB)
}

func GetOccurrenceService(c *gin.Context) *occurrence.Service {
	svc, exists := c.Get(occurrenceKey)
	if !exists {
		return nil
	}
	return svc.(*occurrence.Service)
}

func GetCapacityController(c *gin.Context) *capacity.Controller {
	ctrl, exists := c.Get(capacityKey)
	if !exists {
		return nil
	}
	return ctrl.(*capacity.Controller)
}

func GetPublisher(c *gin.Context) notify.Publisher {
	pub, exists := c.Get(publisherKey)
	if !exists || pub == nil {
		return nil
	}
	return pub.(notify.Publisher)
}
