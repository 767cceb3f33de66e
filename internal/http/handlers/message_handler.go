// Message HTTP handlers.
//
// This file exposes the message persistence endpoint:
//   - POST /messages  (persist one message, creating a chat when needed)
//
// Idempotency: when the client supplies an Idempotency-Key header and a
// previous successful result exists for (user, chat, key), the recorded
// message is returned with `Idempotency-Replayed: true` instead of writing a
// duplicate.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avachat/backend/internal/domain"
	"github.com/avachat/backend/internal/http/middleware"
	"github.com/avachat/backend/internal/repo"
	"github.com/avachat/backend/internal/services"
)

//
// DTOs
//

// MessagePayload is the message portion of a PostMessage request.
type MessagePayload struct {
	// Role is "user" or "assistant".
	Role string `json:"role" binding:"required" example:"user"`
	// Content is the message text. It must be non-empty after trimming.
	Content string `json:"content" binding:"required,min=1" example:"How do I change the avatar's voice?"`
	// Timestamp optionally overrides the server clock (RFC 3339).
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// PostMessageRequest is the JSON payload for persisting a message. An absent
// ChatID creates a new chat owned by the caller.
type PostMessageRequest struct {
	ChatID  string         `json:"chatId,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Message MessagePayload `json:"message" binding:"required"`
}

// PostMessageResponse returns the persisted message and the chat it landed
// in, so clients that posted without a chat id can adopt the new one.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
	ChatID  string          `json:"chatId"`
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Persist a chat message
// @Description Appends a message to an existing chat, or creates a new chat for the caller when chatId is omitted.
// @Description Supports idempotency via the Idempotency-Key header (same key, same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Persisted message"
// @Success     200  {object}  handlers.PostMessageResponse  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse        "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse        "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUID := userID(c)
	if !okUID {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message with role and content required")
		return
	}

	// Idempotency (replay path): return the recorded message when the exact
	// (user, chat, key) tuple was already processed.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, uid, req.ChatID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := repo.GetMessage(h.db, rec.MessageID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, PostMessageResponse{Message: prev, ChatID: prev.ChatID})
				return
			}
		}
	}

	var ts time.Time
	if req.Message.Timestamp != nil {
		ts = req.Message.Timestamp.UTC()
	}

	m, chatID, err := h.msgSvc.CreateOrAppend(ctx, uid, req.ChatID, domain.Role(req.Message.Role), req.Message.Content, ts)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case services.ErrInvalidRole:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role must be user or assistant")
		case services.ErrEmptyContent:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		case services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	// Idempotency (store path): best effort, a failed insert never fails the
	// request that already succeeded.
	if idemKey != "" && h.db != nil {
		ttl := h.idemTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		_, _ = repo.CreateIdempotency(ctx, h.db, uid, req.ChatID, idemKey, m.ID, http.StatusCreated, ttl)
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m, ChatID: chatID})
}
