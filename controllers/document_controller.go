package controllers

import (
	"log"
	"net/http"

	"github.com/codecollab/backend/database"
	"github.com/codecollab/backend/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm/clause"
)

type SaveDocumentInput struct {
	RoomID   string `json:"roomId" binding:"required"`
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
}

// SaveDocument godoc
// @Summary Save the current document for a room
// @Description Upserts the room's document snapshot, bypassing the live broadcast path
// @Tags documents
// @Accept json
// @Produce json
// @Param document body SaveDocumentInput true "Document"
// @Success 200 {object} map[string]interface{} "Saved"
// @Failure 400 {object} map[string]interface{} "Missing fields"
// @Failure 500 {object} map[string]interface{} "Server error"
// @Router /api/save [post]
func SaveDocument(c *gin.Context) {
	var input SaveDocumentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId, code, and language required"})
		return
	}

	// Upsert: the row is created on first save, overwritten afterwards.
	// Last write wins; there is no merge.
	doc := models.Document{
		RoomID:   input.RoomID,
		Code:     input.Code,
		Language: input.Language,
	}

	if err := database.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "language", "updated_at"}),
	}).Create(&doc).Error; err != nil {
		log.Printf("Error saving document for room %s: %v", input.RoomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// LoadDocument godoc
// @Summary Load the current document for a room
// @Description Returns the room's document snapshot, or an empty javascript document if none exists
// @Tags documents
// @Produce json
// @Param roomId path string true "Room ID"
// @Success 200 {object} map[string]interface{} "Document"
// @Router /api/load/{roomId} [get]
func LoadDocument(c *gin.Context) {
	roomID := c.Param("roomId")

	var doc models.Document
	if err := database.DB.Where("room_id = ?", roomID).First(&doc).Error; err != nil {
		// A missing or unreachable document degrades to the empty default
		// rather than failing the whole interaction.
		c.JSON(http.StatusOK, gin.H{"code": "", "language": "javascript"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": doc.Code, "language": doc.Language})
}

// GetHistory godoc
// @Summary Fetch the edit history for a room
// @Description Returns every code snapshot recorded for the room, ascending by creation time
// @Tags documents
// @Produce json
// @Param roomId path string true "Room ID"
// @Success 200 {array} models.CodeHistory "History entries"
// @Failure 500 {object} map[string]interface{} "Server error"
// @Router /api/history/{roomId} [get]
func GetHistory(c *gin.Context) {
	roomID := c.Param("roomId")

	var entries []models.CodeHistory
	if err := database.DB.Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		log.Printf("Error fetching history for room %s: %v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, entries)
}
