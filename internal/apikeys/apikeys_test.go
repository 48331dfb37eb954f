package apikeys

import (
	"errors"
	"testing"

	"chatstreamd/internal/errs"
	"chatstreamd/internal/model"
)

func settingsWith(p model.CustomProvider) *model.UserSettings {
	return &model.UserSettings{CustomProviders: []model.CustomProvider{p}}
}

func TestValidateModelAPIKeys_NoProviderConfigured(t *testing.T) {
	err := ValidateModelAPIKeys(&model.UserSettings{}, "claude-x")
	var target *errs.APIKeyValidationError
	if !errors.As(err, &target) {
		t.Fatalf("expected APIKeyValidationError, got %v", err)
	}
}

func TestValidateModelAPIKeys_DisabledProvider(t *testing.T) {
	settings := settingsWith(model.CustomProvider{
		Name:         "anthropic-direct",
		ProviderType: model.ProviderTypeAnthropic,
		Enabled:      false,
		AuthToken:    "tok",
		Models:       []model.ProviderModel{{ModelID: "claude-x", Enabled: true}},
	})
	if err := ValidateModelAPIKeys(settings, "claude-x"); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestValidateModelAPIKeys_MissingAuthToken(t *testing.T) {
	settings := settingsWith(model.CustomProvider{
		Name:         "anthropic-direct",
		ProviderType: model.ProviderTypeAnthropic,
		Enabled:      true,
		Models:       []model.ProviderModel{{ModelID: "claude-x", Enabled: true}},
	})
	if err := ValidateModelAPIKeys(settings, "claude-x"); err == nil {
		t.Fatal("expected error for missing auth_token")
	}
}

func TestValidateModelAPIKeys_CustomMissingBaseURL(t *testing.T) {
	settings := settingsWith(model.CustomProvider{
		Name:         "my-custom",
		ProviderType: model.ProviderTypeCustom,
		Enabled:      true,
		Models:       []model.ProviderModel{{ModelID: "llama-x", Enabled: true}},
	})
	if err := ValidateModelAPIKeys(settings, "llama-x"); err == nil {
		t.Fatal("expected error for missing base_url on custom provider")
	}
}

func TestValidateModelAPIKeys_ValidConfiguration(t *testing.T) {
	settings := settingsWith(model.CustomProvider{
		Name:         "anthropic-direct",
		ProviderType: model.ProviderTypeAnthropic,
		Enabled:      true,
		AuthToken:    "tok",
		Models:       []model.ProviderModel{{ModelID: "claude-x", Enabled: true}},
	})
	if err := ValidateModelAPIKeys(settings, "claude-x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
