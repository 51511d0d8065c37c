// Package connectors stores which outbound connectors a user enabled and the
// destination each one delivers to by default.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ozoneai/ozone/internal/delivery"
	"github.com/ozoneai/ozone/internal/logger"
)

var ErrInvalidSettings = errors.New("invalid connector settings")

// Settings are the per-owner connector preferences.
type Settings struct {
	WhatsAppEnabled bool      `json:"whatsapp_enabled"`
	WhatsAppNumber  string    `json:"whatsapp_number"`
	EmailEnabled    bool      `json:"email_enabled"`
	EmailAddress    string    `json:"email_address"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// Destination returns the saved destination for connector, enabled or not.
func (s Settings) Destination(connector delivery.Connector) string {
	switch connector {
	case delivery.ConnectorWhatsApp:
		return s.WhatsAppNumber
	case delivery.ConnectorEmail:
		return s.EmailAddress
	default:
		return ""
	}
}

// Validate rejects enabling a connector without a destination.
func (s Settings) Validate() error {
	if s.WhatsAppEnabled && s.WhatsAppNumber == "" {
		return fmt.Errorf("%w: whatsapp enabled without a number", ErrInvalidSettings)
	}
	if s.EmailEnabled && s.EmailAddress == "" {
		return fmt.Errorf("%w: email enabled without an address", ErrInvalidSettings)
	}
	if s.EmailAddress != "" && !strings.Contains(s.EmailAddress, "@") {
		return fmt.Errorf("%w: %q is not an email address", ErrInvalidSettings, s.EmailAddress)
	}
	return nil
}

func (s Settings) normalized() Settings {
	s.WhatsAppNumber = strings.ReplaceAll(strings.TrimSpace(s.WhatsAppNumber), " ", "")
	s.EmailAddress = strings.TrimSpace(s.EmailAddress)
	return s
}

// SettingsStore persists Settings by owner. Get returns zero Settings for unknown owners.
type SettingsStore interface {
	Get(ctx context.Context, ownerID string) (Settings, error)
	Put(ctx context.Context, ownerID string, settings Settings) error
}

// Service validates and stores connector settings.
type Service struct {
	store  SettingsStore
	now    func() time.Time
	logger *logger.Logger
}

func NewService(store SettingsStore, logger *logger.Logger) *Service {
	return &Service{
		store:  store,
		now:    time.Now,
		logger: logger.WithComponent("connectors"),
	}
}

func (s *Service) Get(ctx context.Context, ownerID string) (Settings, error) {
	settings, err := s.store.Get(ctx, ownerID)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load connector settings: %w", err)
	}
	return settings, nil
}

// Update validates and replaces the settings of ownerID.
func (s *Service) Update(ctx context.Context, ownerID string, settings Settings) (Settings, error) {
	settings = settings.normalized()
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	settings.UpdatedAt = s.now().UTC()

	if err := s.store.Put(ctx, ownerID, settings); err != nil {
		return Settings{}, fmt.Errorf("failed to save connector settings: %w", err)
	}

	s.logger.WithContext(ctx).Info("connector settings updated",
		slog.Bool("whatsapp_enabled", settings.WhatsAppEnabled),
		slog.Bool("email_enabled", settings.EmailEnabled))
	return settings, nil
}

// DefaultDestination lets the scheduler fill an empty destination.
func (s *Service) DefaultDestination(ctx context.Context, ownerID string, connector delivery.Connector) (string, error) {
	settings, err := s.Get(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return settings.Destination(connector), nil
}
