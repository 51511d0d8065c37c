package news

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/ozoneai/ozone/internal/errors"
	"github.com/ozoneai/ozone/internal/logger"
)

type ArticlesResponse struct {
	Articles []Article `json:"articles"`
}

type TopicsResponse struct {
	Topics map[string][]Article `json:"topics"`
}

type ClaimsResponse struct {
	Claims []FactCheck `json:"claims"`
}

// Handler serves the news feed and claim lookup endpoints.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.WithComponent("news-handler"),
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/news/trending", h.GetTrending)
	rg.GET("/news/topics", h.GetTopics)
	rg.GET("/news/factchecks", h.GetFactChecks)
	rg.GET("/claims/search", h.SearchClaims)
}

// GetTrending handles GET /api/v1/news/trending?q=&keywords=a,b&page_size=
func (h *Handler) GetTrending(c *gin.Context) {
	if !h.requireConfigured(c) {
		return
	}
	pageSize, ok := pageSizeParam(c, "page_size")
	if !ok {
		return
	}

	var articles []Article
	if kw := c.Query("keywords"); kw != "" {
		articles = h.service.SearchKeywords(c.Request.Context(), splitList(kw), pageSize)
	} else {
		articles = h.service.Trending(c.Request.Context(), c.Query("q"), pageSize)
	}
	c.JSON(http.StatusOK, ArticlesResponse{Articles: articles})
}

// GetTopics handles GET /api/v1/news/topics?topics=a,b&per_topic=
func (h *Handler) GetTopics(c *gin.Context) {
	if !h.requireConfigured(c) {
		return
	}
	perTopic, ok := pageSizeParam(c, "per_topic")
	if !ok {
		return
	}
	if perTopic == 0 {
		perTopic = 5
	}
	c.JSON(http.StatusOK, TopicsResponse{
		Topics: h.service.Topics(c.Request.Context(), splitList(c.Query("topics")), perTopic),
	})
}

// GetFactChecks handles GET /api/v1/news/factchecks?page_size=
func (h *Handler) GetFactChecks(c *gin.Context) {
	if !h.requireConfigured(c) {
		return
	}
	pageSize, ok := pageSizeParam(c, "page_size")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ArticlesResponse{Articles: h.service.FactCheckFeed(c.Request.Context(), pageSize)})
}

// SearchClaims handles GET /api/v1/claims/search?query=&language=
func (h *Handler) SearchClaims(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		apierrors.AbortWithBadRequest(c, "query is required", nil)
		return
	}
	c.JSON(http.StatusOK, ClaimsResponse{Claims: h.service.CheckClaim(c.Request.Context(), query, c.Query("language"))})
}

func (h *Handler) requireConfigured(c *gin.Context) bool {
	if h.service.Configured() {
		return true
	}
	apierrors.AbortWithUnavailable(c, "news feed is not configured", apierrors.ReasonNewsNotConfigured)
	return false
}

func pageSizeParam(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 100 {
		apierrors.AbortWithBadRequest(c, name+" must be between 1 and 100", map[string]interface{}{name: raw})
		return 0, false
	}
	return n, true
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
