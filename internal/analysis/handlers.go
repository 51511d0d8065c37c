package analysis

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ozoneai/ozone/internal/auth"
	apierrors "github.com/ozoneai/ozone/internal/errors"
	"github.com/ozoneai/ozone/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the router
	},
}

type StartRequest struct {
	Query string `json:"query" binding:"required"`
}

type StartResponse struct {
	ID       string   `json:"id"`
	Snapshot Snapshot `json:"snapshot"`
}

type ListResponse struct {
	Analyses []Snapshot `json:"analyses"`
}

// Handler serves the analysis REST endpoints and the websocket relay.
type Handler struct {
	manager *Manager
	logger  *logger.Logger
}

func NewHandler(manager *Manager, logger *logger.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger.WithComponent("analysis-handler"),
	}
}

// RegisterRoutes mounts the REST endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.StartAnalysis)
	rg.GET("/analyses", h.ListAnalyses)
	rg.GET("/analyses/:id", h.GetAnalysis)
	rg.DELETE("/analyses/:id", h.CloseAnalysis)
}

// StartAnalysis handles POST /api/v1/analyses
func (h *Handler) StartAnalysis(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return
	}

	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		apierrors.AbortWithBadRequest(c, "query is required", nil)
		return
	}

	session, id, err := h.manager.Start(c.Request.Context(), userID, req.Query)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to start analysis",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		if errors.Is(err, ErrConnect) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, &apierrors.APIError{
				Error:   "analysis backend unavailable",
				Reason:  apierrors.ReasonBackendUnavailable,
				Details: map[string]interface{}{"id": id},
			})
			return
		}
		apierrors.AbortWithInternal(c, "failed to start analysis", map[string]interface{}{"id": id})
		return
	}

	c.JSON(http.StatusCreated, StartResponse{ID: id, Snapshot: session.Snapshot()})
}

// ListAnalyses handles GET /api/v1/analyses
func (h *Handler) ListAnalyses(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return
	}
	c.JSON(http.StatusOK, ListResponse{Analyses: h.manager.List(userID)})
}

// GetAnalysis handles GET /api/v1/analyses/:id
func (h *Handler) GetAnalysis(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Snapshot())
}

// CloseAnalysis handles DELETE /api/v1/analyses/:id
func (h *Handler) CloseAnalysis(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	h.manager.Close(session.ID())
	c.JSON(http.StatusOK, session.Snapshot())
}

func (h *Handler) ownedSession(c *gin.Context) (*Session, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return nil, false
	}

	id := c.Param("id")
	session, ok := h.manager.Get(id)
	if !ok {
		apierrors.AbortWithNotFound(c, "analysis not found", map[string]interface{}{"id": id})
		return nil, false
	}
	if session.OwnerID() != userID {
		apierrors.AbortWithForbidden(c, "analysis belongs to another user", apierrors.ReasonSessionNotOwned)
		return nil, false
	}
	return session, true
}

// Relay handles GET /ws/analyze. The client sends one {"input": ...} frame and
// receives a snapshot on every change until the session is terminal.
func (h *Handler) Relay(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("failed to upgrade connection to websocket", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	var req Request
	if err := conn.ReadJSON(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		_ = conn.WriteJSON(apierrors.NewAPIError("first frame must be {\"input\": \"...\"}", nil))
		return
	}

	session := h.manager.NewSession(userID, req.Input)
	log = log.WithContext(logger.WithSessionID(c.Request.Context(), session.ID()))

	var writeMu sync.Mutex
	unsubscribe := session.Subscribe(func(snap Snapshot) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(snap); err != nil {
			log.Debug("relay write failed", slog.String("error", err.Error()))
		}
	})
	defer unsubscribe()

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := session.Start(logger.WithSessionID(c.Request.Context(), session.ID())); err != nil {
		log.Warn("analysis session failed to start", slog.String("error", err.Error()))
	}

	select {
	case <-session.Done():
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "analysis finished"))
		writeMu.Unlock()
	case <-clientGone:
		log.Info("relay client disconnected")
		session.Close()
	}
}
