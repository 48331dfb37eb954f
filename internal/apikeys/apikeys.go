// Package apikeys validates that a user's configured providers can actually
// serve a requested model_id, ported from original_source's
// utils/validators.py.
package apikeys

import (
	"chatstreamd/internal/errs"
	"chatstreamd/internal/model"
)

// ValidateModelAPIKeys checks that settings names an enabled provider for
// modelID, that the provider is enabled, and that it carries the
// credentials its provider_type requires (auth_token for anthropic/
// openrouter, base_url for custom).
func ValidateModelAPIKeys(settings *model.UserSettings, modelID string) error {
	provider := settings.FindProviderForModel(modelID)
	if provider == nil {
		return errs.NewAPIKeyValidationError(
			"no provider configured for model '%s'. please configure a provider in Settings > Providers", modelID)
	}
	if !provider.Enabled {
		return errs.NewAPIKeyValidationError("provider '%s' is disabled", provider.Name)
	}
	if provider.ProviderType != model.ProviderTypeCustom && provider.AuthToken == "" {
		return errs.NewAPIKeyValidationError(
			"API key is required for provider '%s'. please configure it in Settings", provider.Name)
	}
	if provider.ProviderType == model.ProviderTypeCustom && provider.BaseURL == "" {
		return errs.NewAPIKeyValidationError("base URL is required for custom provider '%s'", provider.Name)
	}
	return nil
}
