package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ozoneai/ozone/internal/connectors"
)

// SettingsStore keeps connector settings in PostgreSQL, one row per owner.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context, ownerID string) (connectors.Settings, error) {
	var settings connectors.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT whatsapp_enabled, whatsapp_number, email_enabled, email_address, updated_at
		FROM connector_settings
		WHERE owner_id = $1
	`, ownerID).Scan(
		&settings.WhatsAppEnabled, &settings.WhatsAppNumber,
		&settings.EmailEnabled, &settings.EmailAddress, &settings.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return connectors.Settings{}, nil
	}
	if err != nil {
		return connectors.Settings{}, fmt.Errorf("failed to get connector settings: %w", err)
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}

func (s *SettingsStore) Put(ctx context.Context, ownerID string, settings connectors.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_settings (owner_id, whatsapp_enabled, whatsapp_number, email_enabled, email_address, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			whatsapp_enabled = EXCLUDED.whatsapp_enabled,
			whatsapp_number = EXCLUDED.whatsapp_number,
			email_enabled = EXCLUDED.email_enabled,
			email_address = EXCLUDED.email_address,
			updated_at = EXCLUDED.updated_at
	`, ownerID, settings.WhatsAppEnabled, settings.WhatsAppNumber, settings.EmailEnabled, settings.EmailAddress, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save connector settings: %w", err)
	}
	return nil
}
