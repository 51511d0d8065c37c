package scheduler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ozoneai/ozone/internal/auth"
	apierrors "github.com/ozoneai/ozone/internal/errors"
	"github.com/ozoneai/ozone/internal/logger"
)

// Handler serves the scheduled task API.
type Handler struct {
	scheduler *Scheduler
	logger    *logger.Logger
}

func NewHandler(scheduler *Scheduler, logger *logger.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		logger:    logger.WithComponent("task-handler"),
	}
}

// RegisterRoutes mounts the task endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/tasks", h.CreateTask)
	rg.GET("/tasks", h.GetTasks)
	rg.GET("/tasks/:id", h.GetTask)
	rg.POST("/tasks/:id/cancel", h.CancelTask)
	rg.POST("/tasks/:id/send", h.SendTask)
	rg.DELETE("/tasks/:id", h.DeleteTask)
}

// CreateTask handles POST /api/v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	task, err := h.scheduler.Create(c.Request.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingDestination):
			c.AbortWithStatusJSON(http.StatusBadRequest, &apierrors.APIError{
				Error:  err.Error(),
				Reason: apierrors.ReasonMissingDestinations,
			})
		case errors.Is(err, ErrInvalidTask):
			apierrors.AbortWithBadRequest(c, err.Error(), nil)
		case errors.Is(err, ErrSchedulerClosed):
			apierrors.AbortWithUnavailable(c, "scheduler is shutting down", "")
		default:
			log.Error("failed to create task",
				slog.String("error", err.Error()),
				slog.String("user_id", userID))
			apierrors.AbortWithInternal(c, "failed to create task", nil)
		}
		return
	}

	c.JSON(http.StatusCreated, CreateTaskResponse{Task: task})
}

// GetTasks handles GET /api/v1/tasks
func (h *Handler) GetTasks(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return
	}

	tasks, err := h.scheduler.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to list tasks", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "failed to list tasks", nil)
		return
	}

	c.JSON(http.StatusOK, GetTasksResponse{Tasks: tasks})
}

// GetTask handles GET /api/v1/tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// CancelTask handles POST /api/v1/tasks/:id/cancel
func (h *Handler) CancelTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}

	updated, err := h.scheduler.Cancel(c.Request.Context(), task.ID)
	switch {
	case errors.Is(err, ErrTaskAlreadySent):
		apierrors.AbortWithConflict(c, "task already sent", apierrors.ReasonTaskAlreadySent)
		return
	case errors.Is(err, ErrTaskBusy):
		apierrors.AbortWithConflict(c, err.Error(), apierrors.ReasonTaskAlreadySent)
		return
	case errors.Is(err, ErrTaskNotFound):
		apierrors.AbortWithNotFound(c, "task not found", nil)
		return
	case err != nil:
		h.logger.WithContext(c.Request.Context()).Error("failed to cancel task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID))
		apierrors.AbortWithInternal(c, "failed to cancel task", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": updated})
}

// SendTask handles POST /api/v1/tasks/:id/send
func (h *Handler) SendTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}

	updated, err := h.scheduler.SendNow(c.Request.Context(), task.ID)
	switch {
	case errors.Is(err, ErrTaskAlreadySent), errors.Is(err, ErrTaskBusy):
		apierrors.AbortWithConflict(c, err.Error(), apierrors.ReasonTaskAlreadySent)
		return
	case errors.Is(err, ErrInvalidTask):
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	case errors.Is(err, ErrTaskNotFound):
		apierrors.AbortWithNotFound(c, "task not found", nil)
		return
	case errors.Is(err, ErrSchedulerClosed):
		apierrors.AbortWithUnavailable(c, "scheduler is shutting down", "")
		return
	case err != nil:
		h.logger.WithContext(c.Request.Context()).Error("failed to send task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID))
		apierrors.AbortWithInternal(c, "failed to send task", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": updated})
}

// DeleteTask handles DELETE /api/v1/tasks/:id
func (h *Handler) DeleteTask(c *gin.Context) {
	task, ok := h.ownedTask(c)
	if !ok {
		return
	}

	if err := h.scheduler.Delete(c.Request.Context(), task.ID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			apierrors.AbortWithNotFound(c, "task not found", nil)
			return
		}
		if errors.Is(err, ErrTaskBusy) {
			apierrors.AbortWithConflict(c, err.Error(), apierrors.ReasonTaskAlreadySent)
			return
		}
		h.logger.WithContext(c.Request.Context()).Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID))
		apierrors.AbortWithInternal(c, "failed to delete task", nil)
		return
	}

	c.JSON(http.StatusOK, DeleteTaskResponse{
		Success: true,
		Message: "task deleted successfully",
	})
}

// ownedTask loads the task named in the path and checks it belongs to the caller.
// It writes the error response itself.
func (h *Handler) ownedTask(c *gin.Context) (*ScheduledTask, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return nil, false
	}

	id := c.Param("id")
	task, err := h.scheduler.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			apierrors.AbortWithNotFound(c, "task not found", map[string]interface{}{"task_id": id})
			return nil, false
		}
		h.logger.WithContext(c.Request.Context()).Error("failed to load task",
			slog.String("error", err.Error()),
			slog.String("task_id", id))
		apierrors.AbortWithInternal(c, "failed to load task", nil)
		return nil, false
	}

	if task.OwnerID != userID {
		apierrors.AbortWithForbidden(c, "task belongs to another user", apierrors.ReasonTaskNotOwned)
		return nil, false
	}
	return task, true
}
