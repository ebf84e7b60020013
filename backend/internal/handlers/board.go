package handlers

import (
	"log"
	"net/http"
	"strconv"

	"collab-board/backend/internal/models"
	"collab-board/backend/internal/services"

	"github.com/gin-gonic/gin"
)

// BoardHandler serves the read-only side panels: users and recent activity.
type BoardHandler struct {
	taskService services.TaskService
}

func NewBoardHandler(taskService services.TaskService) *BoardHandler {
	return &BoardHandler{taskService: taskService}
}

func (h *BoardHandler) GetUsers(c *gin.Context) {
	users, err := h.taskService.ListUsers(c.Request.Context())
	if err != nil {
		log.Printf("❌ Listing users failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	if users == nil {
		users = []models.UserSummary{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *BoardHandler) GetActions(c *gin.Context) {
	limit := services.DefaultActionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	actions, err := h.taskService.RecentActions(c.Request.Context(), limit)
	if err != nil {
		log.Printf("❌ Listing actions failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list actions"})
		return
	}
	if actions == nil {
		actions = []models.ActionLogView{}
	}
	c.JSON(http.StatusOK, actions)
}
