package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ozoneai/ozone/internal/logger"
)

const defaultSendGridBaseURL = "https://api.sendgrid.com"

// SendGridConfig holds the sender credentials. An empty APIKey disables network delivery.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	BaseURL   string
	Timeout   time.Duration
}

// SendGridClient sends plain text email through the SendGrid v3 mail API.
type SendGridClient struct {
	cfg        SendGridConfig
	httpClient *http.Client
	logger     *logger.Logger
}

func NewSendGridClient(cfg SendGridConfig, logger *logger.Logger) *SendGridClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSendGridBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SendGridClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.WithComponent("sendgrid"),
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

func (c *SendGridClient) SendEmail(ctx context.Context, msg EmailMessage) Result {
	log := c.logger.WithContext(ctx)

	if c.cfg.APIKey == "" {
		log.Info("sendgrid api key missing, skipping send", slog.String("to", msg.To))
		return Result{OK: false, Reason: ReasonNoCredentials}
	}

	payload, err := json.Marshal(sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: msg.To}}}},
		From:             sendGridAddress{Email: c.cfg.FromEmail},
		Subject:          msg.Subject,
		Content:          []sendGridContent{{Type: "text/plain", Value: msg.Content}},
	})
	if err != nil {
		return Result{OK: false, Reason: ReasonFetchFailed, Error: err.Error()}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{OK: false, Reason: ReasonFetchFailed, Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("sendgrid request failed", slog.String("error", err.Error()))
		return Result{OK: false, Reason: ReasonFetchFailed, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	log.Info("sendgrid response",
		slog.Int("status", resp.StatusCode),
		slog.Bool("ok", ok))

	return Result{OK: ok, Status: resp.StatusCode, Body: string(body)}
}
