package handlers

import (
	"errors"
	"log"
	"net/http"

	"collab-board/backend/internal/middleware"
	"collab-board/backend/internal/models"
	"collab-board/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TaskHandler struct {
	taskService services.TaskService
}

func NewTaskHandler(taskService services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

func (h *TaskHandler) GetTasks(c *gin.Context) {
	tasks, err := h.taskService.ListTasks(c.Request.Context())
	if err != nil {
		handleTaskError(c, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTaskByID(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	task, err := h.taskService.GetTask(c.Request.Context(), id)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var taskInput struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Priority    string `json:"priority"`
	}
	if err := c.ShouldBindJSON(&taskInput); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, _ := middleware.UserID(c)
	task, err := h.taskService.CreateTask(c.Request.Context(), actor, services.CreateTaskInput{
		Title:       taskInput.Title,
		Description: taskInput.Description,
		Status:      taskInput.Status,
		Priority:    taskInput.Priority,
	})
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// UpdateTask is the version-checked edit. A stale version answers 409 with
// the stored task and the rejected fields so the client can resolve.
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var taskInput struct {
		models.TaskFields
		Version *int `json:"version" binding:"required"`
	}
	if err := c.ShouldBindJSON(&taskInput); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, _ := middleware.UserID(c)
	task, err := h.taskService.AttemptUpdate(c.Request.Context(), actor, id, taskInput.TaskFields, *taskInput.Version)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ResolveConflict(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var resolveInput struct {
		models.TaskFields
		Strategy string `json:"strategy"`
		Merge    bool   `json:"merge"`
	}
	if err := c.ShouldBindJSON(&resolveInput); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strategy := services.ResolutionStrategy(resolveInput.Strategy)
	if strategy == "" {
		strategy = services.ResolveOverwrite
		if resolveInput.Merge {
			strategy = services.ResolveMerge
		}
	}

	actor, _ := middleware.UserID(c)
	task, err := h.taskService.ResolveConflict(c.Request.Context(), actor, id, services.Resolution{
		Strategy: strategy,
		Fields:   resolveInput.TaskFields,
	})
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) SmartAssign(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	actor, _ := middleware.UserID(c)
	task, err := h.taskService.SmartAssign(c.Request.Context(), actor, id)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	actor, _ := middleware.UserID(c)
	task, err := h.taskService.DeleteTask(c.Request.Context(), actor, id)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task deleted", "task": task})
}

func taskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return uuid.Nil, false
	}
	return id, true
}

func handleTaskError(c *gin.Context, err error) {
	if conflict, ok := services.AsConflict(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"message":  "Conflict detected",
			"current":  conflict.Current,
			"proposed": conflict.Proposed,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, services.ErrNoUsers):
		c.JSON(http.StatusNotFound, gin.H{"error": "no users available for assignment"})
	case errors.Is(err, services.ErrDuplicateTitle):
		c.JSON(http.StatusConflict, gin.H{"error": "Task title must be unique"})
	case errors.Is(err, services.ErrReservedName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title cannot match column names"})
	case errors.Is(err, services.ErrTitleRequired),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidPriority),
		errors.Is(err, services.ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTaskBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task is busy, retry"})
	default:
		log.Printf("❌ Task request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process task request"})
	}
}
