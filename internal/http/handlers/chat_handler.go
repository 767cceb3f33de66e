// Chat HTTP handlers.
//
// This file defines the handler wiring (service contracts, the Handlers
// struct) and the chat resource endpoints:
//   - GET    /chats       (list, most recently updated first, ETag support)
//   - GET    /chats/{id}  (chat with its full ordered transcript)
//   - PATCH  /chats/{id}  (rename)
//   - DELETE /chats/{id}  (delete chat and its messages)
//
// Ownership is enforced in the service layer: a chat that exists but belongs
// to another user is answered exactly like a missing one (404, not_found).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avachat/backend/internal/domain"
	"github.com/avachat/backend/internal/http/middleware"
	"github.com/avachat/backend/internal/repo"
	"github.com/avachat/backend/internal/services"
	"github.com/avachat/backend/internal/session"
)

//
// Service contracts (context-aware)
//

// ChatService defines the chat lifecycle operations consumed by handlers.
// Implementations must be safe for concurrent use and honor the context.
type ChatService interface {
	// List returns the user's chats, most recently updated first.
	List(ctx context.Context, userID string) ([]domain.Chat, error)
	// Get returns a chat with its full ordered transcript.
	Get(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	// UpdateTitle renames a chat that belongs to userID.
	UpdateTitle(ctx context.Context, userID, chatID, title string) (*domain.Chat, error)
	// Delete removes a chat and all of its messages.
	Delete(ctx context.Context, userID, chatID string) error
}

// MessageService defines message persistence operations consumed by handlers.
type MessageService interface {
	// CreateOrAppend persists one message, creating a chat when chatID is
	// empty, and returns the message plus the chat id it landed in.
	CreateOrAppend(ctx context.Context, userID, chatID string, role domain.Role, content string, ts time.Time) (*domain.Message, string, error)
}

// SettingsService defines per-user settings access consumed by handlers.
type SettingsService interface {
	Get(ctx context.Context, userID string) (*services.SettingsView, error)
	Put(ctx context.Context, userID string, p services.SettingsPatch) (*services.SettingsView, error)
}

// AuthService defines registration and login consumed by handlers.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.User, *services.Token, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for auth, chats, messages, settings,
// and the session orchestrator.
type Handlers struct {
	chatSvc     ChatService
	msgSvc      MessageService
	settingsSvc SettingsService
	authSvc     AuthService
	sessions    *session.Manager

	// db backs the ETag pre-check and idempotency records; nil disables both.
	db *gorm.DB
	// idemTTL is the replay window for Idempotency-Key records.
	idemTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(chatSvc ChatService, msgSvc MessageService, settingsSvc SettingsService, authSvc AuthService, sessions *session.Manager, db *gorm.DB, idemTTL time.Duration) *Handlers {
	return &Handlers{
		chatSvc:     chatSvc,
		msgSvc:      msgSvc,
		settingsSvc: settingsSvc,
		authSvc:     authSvc,
		sessions:    sessions,
		db:          db,
		idemTTL:     idemTTL,
	}
}

// userID extracts the authenticated user id set by the auth middleware.
// Routes in this package are only mounted behind it, so an absent id means a
// wiring bug; the caller still gets a clean 401.
func userID(c *gin.Context) (string, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid credentials")
	}
	return uid, ok
}

//
// DTOs
//

// UpdateChatTitleRequest is the JSON payload for renaming a chat.
type UpdateChatTitleRequest struct {
	// Title is the new chat name.
	Title string `json:"title" binding:"required,min=1,max=255" example:"Avatar voice tuning"`
}

// ListChatsResponse wraps the user's chat list.
type ListChatsResponse struct {
	Chats []domain.Chat `json:"chats"`
}

// DeleteChatResponse acknowledges a deletion.
type DeleteChatResponse struct {
	Success bool `json:"success" example:"true"`
}

//
// Handlers
//

// ListChats godoc
// @ID          listChats
// @Summary     List chats
// @Description Returns the user's chats ordered by last activity. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUID := userID(c)
	if !okUID {
		return
	}

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.ChatsStats(ctx, h.db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"chats:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.chatSvc.List(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: items})
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat with its transcript
// @Description Returns the chat and its messages ordered by timestamp ascending.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	chat, err := h.chatSvc.Get(c.Request.Context(), uid, chatID)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, chat)
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Description Updates the title of a chat owned by the current user and returns the updated chat.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateChatTitleRequest  true  "New title"
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id} [patch]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
		return
	}

	chat, err := h.chatSvc.UpdateTitle(c.Request.Context(), uid, chatID, req.Title)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChatNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case errors.Is(err, services.ErrEmptyTitle):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, chat)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat
// @Description Deletes a chat and all of its messages.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.DeleteChatResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	if err := h.chatSvc.Delete(c.Request.Context(), uid, chatID); err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, DeleteChatResponse{Success: true})
}
