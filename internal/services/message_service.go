// Package services – MessageService
//
// This file implements MessageService, the persistence boundary for chat
// messages. It validates role and content once for every write, checks chat
// ownership, creates a new chat when the caller has none yet, and touches the
// chat's last-update time so listings order by recent activity.
//
// Optional enhancement carried over from the chat lifecycle: when a chat
// still has a placeholder title, the first user message is distilled into a
// short generated title.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// chat/user identifiers.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/avachat/backend/internal/domain"
	"github.com/avachat/backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// default titles considered placeholders, eligible for auto-generation
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"
)

// MessageService owns message writes and transcript reads.
type MessageService struct {
	DB *gorm.DB

	// MaxContentRunes caps message content length; 0 disables the check.
	MaxContentRunes int

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int
}

// CreateOrAppend validates and persists one message.
//
// With a chatID it verifies ownership and appends; without one it creates a
// new chat owned by userID with this message as its first entry. The returned
// chat id is the one the message landed in; callers adopt it as their active
// chat when they had none. A zero ts means "now"; otherwise the caller's
// timestamp is honored.
func (s *MessageService) CreateOrAppend(ctx context.Context, userID, chatID string, role domain.Role, content string, ts time.Time) (*domain.Message, string, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "CreateOrAppend",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
			attribute.String("message.role", string(role)),
		),
	)
	defer span.End()

	// Validate once, here, for every path that writes a message.
	if !role.Valid() {
		return nil, "", ErrInvalidRole
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, "", ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, "", ErrTooLong
	}

	// Append to an existing chat.
	if chatID != "" {
		chat, err := repo.GetChat(ctx, s.DB, chatID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrChatNotFound
			}
			return nil, "", err
		}

		var msg *domain.Message
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			m, err := repo.CreateMessage(tx, chatID, role, content, ts)
			if err != nil {
				return err
			}
			msg = m
			if err := repo.TouchChat(ctx, tx, chatID, userID, m.CreatedAt); err != nil {
				return err
			}
			if role == domain.RoleUser && s.shouldAutoTitle(chat.Title) {
				if gen := s.generateTitle(content); gen != "" {
					if uerr := tx.Model(&domain.Chat{}).Where("id = ?", chatID).Update("title", s.clipTitle(gen)).Error; uerr != nil {
						return uerr
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, "", err
		}
		return msg, chatID, nil
	}

	// No chat yet: create one owned by the caller with this first message.
	var msg *domain.Message
	var newChatID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		title := defaultTitleNew
		if role == domain.RoleUser {
			if gen := s.generateTitle(content); gen != "" {
				title = s.clipTitle(gen)
			}
		}
		chat, err := repo.CreateChat(ctx, tx, userID, title)
		if err != nil {
			return err
		}
		newChatID = chat.ID
		m, err := repo.CreateMessage(tx, chat.ID, role, content, ts)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return msg, newChatID, nil
}

// Transcript returns a chat's messages ordered by timestamp ascending after
// verifying ownership.
func (s *MessageService) Transcript(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Transcript",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := repo.GetChat(ctx, s.DB, chatID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return repo.ListMessages(s.DB.WithContext(ctx), chatID)
}

// shouldAutoTitle reports whether the current title is a placeholder.
func (s *MessageService) shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// generateTitle derives a concise title from the first user prompt.
func (s *MessageService) generateTitle(content string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(content), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.titleLocaleOrDefault())
	out := make([]string, 0, 8)

	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

// clipTitle truncates a generated title to the configured maximum rune length.
func (s *MessageService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

func (s *MessageService) titleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// Extract Unicode letters with optional trailing numbers (e.g., "vrm2025").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}
