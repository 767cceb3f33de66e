// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Settings
// model (one row per user, created lazily on first write).
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avachat/backend/internal/domain"
)

// GetSettings fetches the settings row for userID, or ErrNotFound when the
// user never saved any. Callers are expected to substitute defaults.
func GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.Settings, error) {
	var s domain.Settings
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSettings writes the full settings row for userID, inserting it when
// absent. The caller owns merge semantics (partial updates are resolved in
// the service layer before this runs).
func UpsertSettings(ctx context.Context, db *gorm.DB, s *domain.Settings) error {
	s.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"selected_avatar", "selected_voice",
				"flowise_api_url", "flowise_api_key", "updated_at",
			}),
		}).
		Create(s).Error
}
