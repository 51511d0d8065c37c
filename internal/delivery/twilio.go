package delivery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ozoneai/ozone/internal/logger"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds the sender credentials. Empty AccountSID or AuthToken
// disables network delivery.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// TwilioClient sends WhatsApp messages through the Twilio Messages API.
type TwilioClient struct {
	cfg        TwilioConfig
	httpClient *http.Client
	logger     *logger.Logger
}

func NewTwilioClient(cfg TwilioConfig, logger *logger.Logger) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TwilioClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.WithComponent("twilio"),
	}
}

func (c *TwilioClient) SendWhatsApp(ctx context.Context, msg WhatsAppMessage) Result {
	log := c.logger.WithContext(ctx)

	if c.cfg.AccountSID == "" || c.cfg.AuthToken == "" {
		log.Info("twilio credentials missing, skipping send", slog.String("to", msg.To))
		return Result{OK: false, Reason: ReasonNoCredentials}
	}

	form := url.Values{}
	form.Set("To", "whatsapp:"+msg.To)
	form.Set("From", "whatsapp:"+c.cfg.FromNumber)
	if msg.Body != "" {
		form.Set("Body", msg.Body)
	}
	if msg.ContentSID != "" {
		form.Set("ContentSid", msg.ContentSID)
		if len(msg.ContentVariables) > 0 {
			vars, err := json.Marshal(msg.ContentVariables)
			if err == nil {
				form.Set("ContentVariables", string(vars))
			}
		}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/2010-04-01/Accounts/" + url.PathEscape(c.cfg.AccountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{OK: false, Reason: ReasonFetchFailed, Error: err.Error()}
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("twilio request failed", slog.String("error", err.Error()))
		return Result{OK: false, Reason: ReasonFetchFailed, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	log.Info("twilio response",
		slog.Int("status", resp.StatusCode),
		slog.Bool("ok", ok))
	if !ok {
		log.Warn("twilio rejected message", slog.String("body", string(body)))
	}

	return Result{OK: ok, Status: resp.StatusCode, Body: string(body)}
}
