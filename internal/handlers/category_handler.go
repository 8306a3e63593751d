package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/helpers"
	"github.com/farellandr/gigboard/internal/models"
)

type CategoryRequest struct {
	Name string `json:"name" binding:"required,min=2"`
}

type categoryCount struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	EventCount int64     `json:"event_count"`
}

func CreateCategory(c *gin.Context) {
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}

	name := strings.ToLower(strings.TrimSpace(req.Name))
	var existing int64
	db.Model(&models.Category{}).Where("name = ?", name).Count(&existing)
	if existing > 0 {
		helpers.RespondWithError(c, http.StatusConflict, "Category already exists.")
		return
	}

	category := models.Category{Name: name}
	if err := db.Create(&category).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to create category.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Category created successfully.",
		"category_id": category.ID,
	})
}

// ListCategories returns every category with the number of live events in it.
func ListCategories(c *gin.Context) {
	db, ok := database(c)
	if !ok {
		return
	}

	var categories []categoryCount
	err := db.Model(&models.Category{}).
		Select("categories.id, categories.name, COUNT(events.id) AS event_count").
		Joins("LEFT JOIN event_categories ON event_categories.category_id = categories.id").
		Joins("LEFT JOIN events ON events.id = event_categories.event_id AND events.deleted_at IS NULL").
		Group("categories.id, categories.name").
		Order("categories.name").
		Scan(&categories).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving categories.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"categories": categories,
		"total":      len(categories),
	})
}

func UpdateCategory(c *gin.Context) {
	categoryID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}

	var category models.Category
	if err := db.Where("id = ?", categoryID).First(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			helpers.RespondWithError(c, http.StatusNotFound, "Category not found.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error finding category.")
		return
	}

	category.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if err := db.Save(&category).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to update category.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Category updated successfully.",
		"category": category,
	})
}

// DeleteCategory detaches the category from its events before removing it.
func DeleteCategory(c *gin.Context) {
	categoryID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	db, ok := database(c)
	if !ok {
		return
	}

	var affected int64
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM event_categories WHERE category_id = ?", categoryID).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Where("id = ?", categoryID).Delete(&models.Category{})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to delete category.")
		return
	}
	if affected == 0 {
		helpers.RespondWithError(c, http.StatusNotFound, "Category not found.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Category deleted successfully.",
	})
}
