// Package services – ChatService
//
// This file implements the ChatService, which manages the lifecycle of chats:
// listing by recent activity, ownership-checked retrieval with the full
// ordered transcript, renaming, and deletion. Title handling is intentionally
// minimal here because automatic title generation happens in MessageService
// on the first user message.
//
// Service-level errors (e.g., ErrChatNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/avachat/backend/internal/domain"
)

// ChatRepo defines the repository contract required by ChatService.
type ChatRepo interface {
	// ListChats returns the user's chats ordered by last-update descending.
	ListChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error)

	// GetChat fetches a chat by ID ensuring it belongs to the user.
	GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error)

	// ListMessages returns the chat's messages ordered by timestamp ascending.
	ListMessages(db *gorm.DB, chatID string) ([]domain.Message, error)

	// UpdateChatTitle updates a chat's title (only if it belongs to the user).
	UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error

	// DeleteChat removes a chat and its messages (only if owned by the user).
	DeleteChat(ctx context.Context, db *gorm.DB, id, userID string) error
}

// ChatService provides chat-level operations. Every operation verifies
// ownership before touching data; a foreign chat is indistinguishable from a
// missing one.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chat repository used by this service.
	Repo ChatRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewChatService constructs a ChatService with sane defaults for title handling.
func NewChatService(db *gorm.DB, r ChatRepo) *ChatService {
	return &ChatService{
		DB:          db,
		Repo:        r,
		TitleMaxLen: 60,
	}
}

// List returns all chats for a user, most recently updated first.
func (s *ChatService) List(ctx context.Context, userID string) ([]domain.Chat, error) {
	return s.Repo.ListChats(ctx, s.DB, userID)
}

// Get returns a chat together with its full transcript (messages ordered by
// timestamp ascending). Missing or foreign chats yield ErrChatNotFound.
func (s *ChatService) Get(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	chat, err := s.Repo.GetChat(ctx, s.DB, chatID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	msgs, err := s.Repo.ListMessages(s.DB.WithContext(ctx), chatID)
	if err != nil {
		return nil, err
	}
	chat.Messages = msgs
	return chat, nil
}

// UpdateTitle renames a chat, ensuring it exists and belongs to the given
// user. Blank titles are rejected with ErrEmptyTitle.
func (s *ChatService) UpdateTitle(ctx context.Context, userID, chatID, title string) (*domain.Chat, error) {
	title = normalizeTitle(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if err := s.Repo.UpdateChatTitle(ctx, s.DB, chatID, userID, s.clip(title)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	chat, err := s.Repo.GetChat(ctx, s.DB, chatID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return chat, nil
}

// Delete removes a chat and all of its messages. Missing or foreign chats
// yield ErrChatNotFound.
func (s *ChatService) Delete(ctx context.Context, userID, chatID string) error {
	if err := s.Repo.DeleteChat(ctx, s.DB, chatID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		return err
	}
	return nil
}

// clip truncates a chat title to the configured maximum rune length.
func (s *ChatService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
