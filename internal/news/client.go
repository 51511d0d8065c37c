// Package news serves the trending misinformation feed and fact-check lookups.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ozoneai/ozone/internal/logger"
)

var ErrNotConfigured = errors.New("news api key is not configured")

// Article is one NewsAPI article, kept in its wire shape.
type Article struct {
	Source      ArticleSource `json:"source"`
	Author      *string       `json:"author"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	URLToImage  *string       `json:"urlToImage"`
	PublishedAt string        `json:"publishedAt"`
	Content     string        `json:"content"`
}

type ArticleSource struct {
	ID   *string `json:"id"`
	Name string  `json:"name"`
}

// everythingResponse is the raw /v2/everything body. Error bodies carry code and message.
type everythingResponse struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []Article `json:"articles"`
	Code         string    `json:"code,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// Query is one /v2/everything search.
type Query struct {
	Q        string
	Domains  []string
	From     time.Time
	PageSize int
	Language string
}

type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client talks to the NewsAPI REST API.
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
	apiKey     string
	baseURL    string
}

func NewClient(cfg ClientConfig, logger *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://newsapi.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.WithComponent("newsapi"),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Configured reports whether an API key is set. The literal env var name counts
// as unset since it is what a copied .env template contains.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.apiKey != "NEWS_API_KEY"
}

// Everything runs one search sorted by publication date.
func (c *Client) Everything(ctx context.Context, q Query) ([]Article, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("q", q.Q)
	if len(q.Domains) > 0 {
		params.Set("domains", strings.Join(q.Domains, ","))
	}
	params.Set("sortBy", "publishedAt")
	if !q.From.IsZero() {
		params.Set("from", q.From.UTC().Format("2006-01-02"))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.Language != "" {
		params.Set("language", q.Language)
	}

	c.logger.WithContext(ctx).Debug("fetching from newsapi",
		slog.String("query", q.Q),
		slog.Int("page_size", q.PageSize),
		slog.String("from", params.Get("from")))

	params.Set("apiKey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var data everythingResponse
	if err := json.Unmarshal(body, &data); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("newsapi returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to parse newsapi response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || data.Status == "error" {
		return nil, fmt.Errorf("newsapi returned status %d: %s %s", resp.StatusCode, data.Code, data.Message)
	}

	return data.Articles, nil
}
