// Session HTTP handlers.
//
// This file exposes the chat session orchestrator over HTTP:
//   - GET  /session           (current transcript snapshot)
//   - POST /session/messages  (one full exchange: user turn + assistant turn)
//   - POST /session/new       (reset to an empty session, re-reading settings)
//   - POST /session/chats/:id (switch the session to a persisted chat)
//   - PUT  /session/title     (save a title for the active chat)
//   - GET  /session/export    (transportable transcript document)
//
// The orchestrator holds per-user in-memory state; these handlers only
// translate between HTTP and its methods.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avachat/backend/internal/completion"
	"github.com/avachat/backend/internal/http/middleware"
	"github.com/avachat/backend/internal/services"
	"github.com/avachat/backend/internal/session"
)

//
// DTOs
//

// SendSessionMessageRequest is the JSON payload for one exchange.
type SendSessionMessageRequest struct {
	Message string `json:"message" binding:"required,min=1" example:"What can you do?"`
}

// SaveSessionTitleRequest optionally names the active chat; an empty title
// gets a timestamp-derived default.
type SaveSessionTitleRequest struct {
	Title string `json:"title" example:"Voice setup questions"`
}

//
// Handlers
//

// GetSession godoc
// @ID          getSession
// @Summary     Current session snapshot
// @Description Returns the in-memory transcript, active chat id, pending flag, and last error.
// @Tags        Session
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} session.Snapshot
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /session [get]
func (h *Handlers) GetSession(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	o, err := h.sessions.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, o.State())
}

// SendSessionMessage godoc
// @ID          sendSessionMessage
// @Summary     Send a message through the session
// @Description Appends the user turn, calls the configured completion endpoint, appends the assistant turn, and returns the transcript snapshot.
// @Tags        Session
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.SendSessionMessageRequest  true  "User message"
//
// @Success     200  {object} session.Snapshot
// @Failure     400  {object} handlers.ErrorResponse "Empty message or unconfigured endpoint"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     409  {object} handlers.ErrorResponse "A send is already in flight"
// @Failure     502  {object} handlers.ErrorResponse "Completion endpoint failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /session/messages [post]
func (h *Handlers) SendSessionMessage(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}

	var req SendSessionMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	o, err := h.sessions.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	snap, err := o.SendMessage(c.Request.Context(), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		case errors.Is(err, session.ErrBusy):
			fail(c, http.StatusConflict, ErrCodeBusy, "a message is already being sent")
		case errors.Is(err, session.ErrEndpointNotConfigured):
			fail(c, http.StatusBadRequest, ErrCodeConfigurationMissing, "completion endpoint not configured; set flowiseApiUrl in settings")
		case errors.Is(err, completion.ErrUpstream):
			middleware.CompletionCalls.WithLabelValues("error").Inc()
			fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, "completion endpoint failed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	middleware.CompletionCalls.WithLabelValues("ok").Inc()
	ok(c, http.StatusOK, snap)
}

// NewSession godoc
// @ID          newSession
// @Summary     Start a new chat session
// @Description Clears the transcript and active chat, rebuilding the session from current settings.
// @Tags        Session
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} session.Snapshot
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /session/new [post]
func (h *Handlers) NewSession(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	o, err := h.sessions.Reset(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, o.State())
}

// LoadSessionChat godoc
// @ID          loadSessionChat
// @Summary     Load a persisted chat into the session
// @Description Replaces the transcript with the chat's stored messages and makes it the active chat.
// @Tags        Session
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} session.Snapshot
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     409  {object} handlers.ErrorResponse "A send is in flight"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /session/chats/{id} [post]
func (h *Handlers) LoadSessionChat(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	o, err := h.sessions.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	snap, err := o.LoadChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrBusy):
			fail(c, http.StatusConflict, ErrCodeBusy, "a message is already being sent")
		case errors.Is(err, services.ErrChatNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, snap)
}

// SaveSessionTitle godoc
// @ID          saveSessionTitle
// @Summary     Save a title for the active chat
// @Description Persists a title for the session's active chat; without one the request fails.
// @Tags        Session
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.SaveSessionTitleRequest  true  "Title (optional; defaults to a timestamp)"
//
// @Success     200  {object} handlers.DeleteChatResponse
// @Failure     400  {object} handlers.ErrorResponse "No active chat"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /session/title [put]
func (h *Handlers) SaveSessionTitle(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}

	var req SaveSessionTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	o, err := h.sessions.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	if err := o.SaveChat(c.Request.Context(), req.Title); err != nil {
		switch {
		case errors.Is(err, session.ErrNoActiveChat):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no active chat to save")
		case errors.Is(err, services.ErrChatNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, DeleteChatResponse{Success: true})
}

// ExportSession godoc
// @ID          exportSession
// @Summary     Export the session transcript
// @Description Returns the transcript as a transportable document with an export timestamp. Valid for an empty session.
// @Tags        Session
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} session.ExportDocument
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /session/export [get]
func (h *Handlers) ExportSession(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}
	o, err := h.sessions.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, o.ExportTranscript())
}
