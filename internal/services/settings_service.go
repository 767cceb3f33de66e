// Package services – SettingsService
//
// This file implements per-user settings access. Reads return defaults when
// the user never saved anything and never include the completion-endpoint
// credential. Writes merge the provided subset over the stored row; a
// credential, when present, is encrypted before it touches the database.
package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/avachat/backend/internal/domain"
	"github.com/avachat/backend/internal/repo"
	"github.com/avachat/backend/internal/secrets"
)

// DefaultAvatar and DefaultVoice are returned when a user has no stored
// settings (and used to fill absent fields on first write).
const (
	DefaultAvatar = "default"
	DefaultVoice  = "default"
)

// SettingsView is the externally visible shape of a user's settings.
// The credential is deliberately not part of it.
type SettingsView struct {
	SelectedAvatar string `json:"selectedAvatar"`
	SelectedVoice  string `json:"selectedVoice"`
	FlowiseAPIURL  string `json:"flowiseApiUrl"`
}

// SettingsPatch carries the subset of fields a write may update. Nil fields
// are left untouched.
type SettingsPatch struct {
	SelectedAvatar *string
	SelectedVoice  *string
	FlowiseAPIURL  *string
	FlowiseAPIKey  *string
}

// SettingsService reads and writes per-user settings.
type SettingsService struct {
	DB     *gorm.DB
	Cipher *secrets.Cipher
}

// Get returns the caller's settings, defaulted when absent. The stored
// credential is never part of the result.
func (s *SettingsService) Get(ctx context.Context, userID string) (*SettingsView, error) {
	row, err := repo.GetSettings(ctx, s.DB, userID)
	if err == repo.ErrNotFound {
		return &SettingsView{
			SelectedAvatar: DefaultAvatar,
			SelectedVoice:  DefaultVoice,
			FlowiseAPIURL:  "",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return viewOf(row), nil
}

// Put merges the patch over the stored row (creating it when absent),
// encrypting the credential with a fresh IV when one is provided. The
// response mirrors Get: no credential, ever.
func (s *SettingsService) Put(ctx context.Context, userID string, p SettingsPatch) (*SettingsView, error) {
	row, err := repo.GetSettings(ctx, s.DB, userID)
	if err == repo.ErrNotFound {
		row = &domain.Settings{
			UserID:         userID,
			SelectedAvatar: DefaultAvatar,
			SelectedVoice:  DefaultVoice,
		}
	} else if err != nil {
		return nil, err
	}

	if p.SelectedAvatar != nil {
		row.SelectedAvatar = strings.TrimSpace(*p.SelectedAvatar)
	}
	if p.SelectedVoice != nil {
		row.SelectedVoice = strings.TrimSpace(*p.SelectedVoice)
	}
	if p.FlowiseAPIURL != nil {
		row.FlowiseAPIURL = strings.TrimSpace(*p.FlowiseAPIURL)
	}
	if p.FlowiseAPIKey != nil && strings.TrimSpace(*p.FlowiseAPIKey) != "" {
		enc, err := s.Cipher.Encrypt(strings.TrimSpace(*p.FlowiseAPIKey))
		if err != nil {
			return nil, err
		}
		row.FlowiseAPIKey = enc
	}

	if err := repo.UpsertSettings(ctx, s.DB, row); err != nil {
		return nil, err
	}
	return viewOf(row), nil
}

// EndpointConfig resolves the completion-endpoint URL and decrypted
// credential for a user. It is the only place the credential leaves storage,
// and it goes straight into the completion client, never into a response.
func (s *SettingsService) EndpointConfig(ctx context.Context, userID string) (url, credential string, err error) {
	row, err := repo.GetSettings(ctx, s.DB, userID)
	if err == repo.ErrNotFound {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	if row.FlowiseAPIKey != "" {
		credential, err = s.Cipher.Decrypt(row.FlowiseAPIKey)
		if err != nil {
			return "", "", err
		}
	}
	return row.FlowiseAPIURL, credential, nil
}

func viewOf(row *domain.Settings) *SettingsView {
	return &SettingsView{
		SelectedAvatar: row.SelectedAvatar,
		SelectedVoice:  row.SelectedVoice,
		FlowiseAPIURL:  row.FlowiseAPIURL,
	}
}
