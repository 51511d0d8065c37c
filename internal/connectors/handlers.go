package connectors

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ozoneai/ozone/internal/auth"
	apierrors "github.com/ozoneai/ozone/internal/errors"
	"github.com/ozoneai/ozone/internal/logger"
)

type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, logger *logger.Logger) *Handler {
	return &Handler{service: service, logger: logger.WithComponent("connectors-handler")}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/connectors", h.GetSettings)
	rg.PUT("/connectors", h.PutSettings)
}

// GetSettings handles GET /api/v1/connectors
func (h *Handler) GetSettings(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return
	}

	settings, err := h.service.Get(c.Request.Context(), userID)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to get connector settings", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "failed to get connector settings", nil)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// PutSettings handles PUT /api/v1/connectors
func (h *Handler) PutSettings(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return
	}

	var req Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}

	settings, err := h.service.Update(c.Request.Context(), userID, req)
	if err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			c.AbortWithStatusJSON(http.StatusBadRequest, &apierrors.APIError{
				Error:  err.Error(),
				Reason: apierrors.ReasonMissingDestinations,
			})
			return
		}
		h.logger.WithContext(c.Request.Context()).Error("failed to update connector settings", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "failed to update connector settings", nil)
		return
	}

	c.JSON(http.StatusOK, settings)
}
