// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. Messages are append-only: there is no update or delete helper here
// (a chat deletion removes its messages via DeleteChat).
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avachat/backend/internal/domain"
)

// CreateMessage inserts a new message row. When ts is zero the current UTC
// time is used, otherwise the caller-supplied timestamp is honored (clients
// report the moment the user actually typed the message).
func CreateMessage(db *gorm.DB, chatID string, role domain.Role, content string, ts time.Time) (*domain.Message, error) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	m := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: ts.UTC(),
	}
	return m, db.Create(m).Error
}

// ListMessages returns all messages of a chat ordered deterministically
// (CreatedAt ASC, ID ASC). The result is the chat's transcript.
func ListMessages(db *gorm.DB, chatID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ? AND deleted_at IS NULL", chatID).Scan(&total).Error
	return total, err
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
