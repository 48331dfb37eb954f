package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatstreamd/internal/model"
)

// sealBlob encrypts v via the Store's Sealer if one is installed; otherwise
// it stores the plain JSON marshaling, which OpenJSON's legacy fallback
// reads back transparently (spec §9).
func (s *Store) sealBlob(v any) ([]byte, error) {
	if s.sealer != nil {
		return s.sealer.SealJSON(v)
	}
	return json.Marshal(v)
}

func (s *Store) openBlob(blob []byte, v any) error {
	if len(blob) == 0 {
		return nil
	}
	if s.sealer != nil {
		return s.sealer.OpenJSON(blob, v)
	}
	return json.Unmarshal(blob, v)
}

// UpsertUserSettings inserts or replaces a UserSettings row, encrypting
// ProviderCredentials/CustomProviders at rest (spec §3).
func (s *Store) UpsertUserSettings(ctx context.Context, settings *model.UserSettings) error {
	credsBlob, err := s.sealBlob(settings.ProviderCredentials)
	if err != nil {
		return fmt.Errorf("store: seal provider credentials: %w", err)
	}
	providersBlob, err := s.sealBlob(settings.CustomProviders)
	if err != nil {
		return fmt.Errorf("store: seal custom providers: %w", err)
	}
	toggles, err := json.Marshal(settings.FeatureToggles)
	if err != nil {
		return fmt.Errorf("store: marshal feature toggles: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_settings (user_id, provider_credentials, custom_providers, sandbox_provider, sandbox_id, feature_toggles)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				provider_credentials = excluded.provider_credentials,
				custom_providers = excluded.custom_providers,
				sandbox_provider = excluded.sandbox_provider,
				sandbox_id = excluded.sandbox_id,
				feature_toggles = excluded.feature_toggles`,
			settings.UserID, credsBlob, providersBlob, settings.SandboxProvider, settings.SandboxID, toggles)
		return err
	})
}

// GetUserSettings loads and decrypts a user's UserSettings; ErrNotFound if no
// row exists (spec §7's UserError covers the "no UserSettings" case at the
// call site).
func (s *Store) GetUserSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	var credsBlob, providersBlob []byte
	var togglesJSON string
	settings := &model.UserSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT provider_credentials, custom_providers, sandbox_provider, sandbox_id, feature_toggles
		FROM user_settings WHERE user_id = ?`, userID).Scan(
		&credsBlob, &providersBlob, &settings.SandboxProvider, &settings.SandboxID, &togglesJSON)
	if err != nil {
		return nil, err
	}

	if err := s.openBlob(credsBlob, &settings.ProviderCredentials); err != nil {
		return nil, fmt.Errorf("store: decrypt provider credentials: %w", err)
	}
	if err := s.openBlob(providersBlob, &settings.CustomProviders); err != nil {
		return nil, fmt.Errorf("store: decrypt custom providers: %w", err)
	}
	if togglesJSON != "" {
		if err := json.Unmarshal([]byte(togglesJSON), &settings.FeatureToggles); err != nil {
			return nil, fmt.Errorf("store: unmarshal feature toggles: %w", err)
		}
	}
	return settings, nil
}
