package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "focustown/backend/internal/errors"
	"focustown/backend/internal/middleware"
	"focustown/backend/internal/model"
	"focustown/backend/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

type configRequest struct {
	DurationMinutes *int  `json:"durationMinutes"`
	DeepFocusMode   *bool `json:"deepFocusMode"`
}

type endSessionRequest struct {
	DurationSeconds int `json:"durationSeconds"`
	CoinsEarned     int `json:"coinsEarned"`
}

type breakDurationRequest struct {
	Minutes int `json:"minutes"`
}

type updateSettingsRequest struct {
	BaseVersion   int  `json:"baseVersion"`
	FocusMinutes  int  `json:"focusMinutes"`
	DeepFocusMode bool `json:"deepFocusMode"`
	BreakMinutes  int  `json:"breakMinutes"`
}

type sessionAction func(ctx context.Context, userID string) (*service.StateView, *apperrors.APIError)

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func (h *SessionHandler) GetState(c *gin.Context) {
	h.run(c, h.sessionService.GetState)
}

func (h *SessionHandler) UpdateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}
	h.run(c, func(ctx context.Context, userID string) (*service.StateView, *apperrors.APIError) {
		return h.sessionService.UpdateConfig(ctx, userID, model.ConfigUpdate{
			DurationMinutes: req.DurationMinutes,
			DeepFocusMode:   req.DeepFocusMode,
		})
	})
}

func (h *SessionHandler) Start(c *gin.Context) {
	h.run(c, h.sessionService.StartSession)
}

func (h *SessionHandler) CancelSetup(c *gin.Context) {
	h.run(c, h.sessionService.CancelSetup)
}

// End reports a completion from the game client. The body is optional.
func (h *SessionHandler) End(c *gin.Context) {
	var req endSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeInvalidJSON(c)
			return
		}
	}
	h.run(c, func(ctx context.Context, userID string) (*service.StateView, *apperrors.APIError) {
		return h.sessionService.EndSession(ctx, userID, req.DurationSeconds, req.CoinsEarned)
	})
}

func (h *SessionHandler) RequestAbandon(c *gin.Context) {
	h.run(c, h.sessionService.RequestAbandon)
}

func (h *SessionHandler) ConfirmAbandon(c *gin.Context) {
	h.run(c, h.sessionService.ConfirmAbandon)
}

func (h *SessionHandler) CancelAbandon(c *gin.Context) {
	h.run(c, h.sessionService.CancelAbandon)
}

func (h *SessionHandler) StartAnother(c *gin.Context) {
	h.run(c, h.sessionService.StartAnother)
}

func (h *SessionHandler) TakeBreak(c *gin.Context) {
	h.run(c, h.sessionService.TakeBreak)
}

func (h *SessionHandler) SetBreakDuration(c *gin.Context) {
	var req breakDurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}
	h.run(c, func(ctx context.Context, userID string) (*service.StateView, *apperrors.APIError) {
		return h.sessionService.SetBreakDuration(ctx, userID, req.Minutes)
	})
}

func (h *SessionHandler) StartBreak(c *gin.Context) {
	h.run(c, h.sessionService.StartBreak)
}

func (h *SessionHandler) EndBreak(c *gin.Context) {
	h.run(c, h.sessionService.EndBreak)
}

func (h *SessionHandler) GoHome(c *gin.Context) {
	h.run(c, h.sessionService.GoHome)
}

func (h *SessionHandler) ContinueFromAbandoned(c *gin.Context) {
	h.run(c, h.sessionService.ContinueFromAbandoned)
}

func (h *SessionHandler) GoHomeFromAbandoned(c *gin.Context) {
	h.run(c, h.sessionService.GoHomeFromAbandoned)
}

func (h *SessionHandler) GetHistory(c *gin.Context) {
	limit := 50
	rawLimit := c.Query("limit")
	if rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil {
			limit = parsed
		}
	}

	history, apiErr := h.sessionService.GetHistory(c.Request.Context(), middleware.UserID(c), limit)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *SessionHandler) GetSettings(c *gin.Context) {
	settings, apiErr := h.sessionService.GetSettings(c.Request.Context(), middleware.UserID(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *SessionHandler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}
	if req.BaseVersion <= 0 {
		writeError(c, apperrors.BadRequest("invalid_base_version", "baseVersion is required"))
		return
	}

	settings, apiErr := h.sessionService.UpdateSettings(c.Request.Context(), middleware.UserID(c), service.UpdateSettingsInput{
		BaseVersion:   req.BaseVersion,
		FocusMinutes:  req.FocusMinutes,
		DeepFocusMode: req.DeepFocusMode,
		BreakMinutes:  req.BreakMinutes,
	})
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *SessionHandler) run(c *gin.Context, action sessionAction) {
	userID := middleware.UserID(c)
	if userID == "" {
		writeError(c, apperrors.Unauthorized(""))
		return
	}

	state, apiErr := action(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}
