// Settings HTTP handlers.
//
// This file exposes per-user settings:
//   - GET  /settings  (defaults when nothing was saved yet)
//   - POST /settings  (merge the provided subset over the stored row)
//
// The completion-endpoint credential is write-only at this boundary: it may
// arrive in a POST body, is encrypted before storage, and never appears in
// any response.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avachat/backend/internal/services"
)

// PutSettingsRequest is the JSON payload for updating settings. Absent
// fields keep their stored values.
type PutSettingsRequest struct {
	SelectedAvatar *string `json:"selectedAvatar,omitempty" example:"robot"`
	SelectedVoice  *string `json:"selectedVoice,omitempty" example:"en-GB-1"`
	FlowiseAPIURL  *string `json:"flowiseApiUrl,omitempty" example:"https://flows.example.com/api/v1/prediction/abc"`
	// FlowiseAPIKey is accepted but never echoed back.
	FlowiseAPIKey *string `json:"flowiseApiKey,omitempty"`
}

// GetSettings godoc
// @ID          getSettings
// @Summary     Get the caller's settings
// @Description Returns stored settings or defaults when none were saved. The endpoint credential is never included.
// @Tags        Settings
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} services.SettingsView
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}

	view, err := h.settingsSvc.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, view)
}

// PutSettings godoc
// @ID          putSettings
// @Summary     Update the caller's settings
// @Description Merges the provided fields over the stored settings. A provided credential is encrypted at rest.
// @Tags        Settings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.PutSettingsRequest  true  "Settings subset"
//
// @Success     200  {object} services.SettingsView
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /settings [post]
func (h *Handlers) PutSettings(c *gin.Context) {
	uid, okUID := userID(c)
	if !okUID {
		return
	}

	var req PutSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	view, err := h.settingsSvc.Put(c.Request.Context(), uid, services.SettingsPatch{
		SelectedAvatar: req.SelectedAvatar,
		SelectedVoice:  req.SelectedVoice,
		FlowiseAPIURL:  req.FlowiseAPIURL,
		FlowiseAPIKey:  req.FlowiseAPIKey,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, view)
}
