package handler

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "focustown/backend/internal/errors"
	"focustown/backend/internal/bridge"
	"focustown/backend/internal/engine"
	"focustown/backend/internal/middleware"
	"focustown/backend/internal/service"
)

const maxEventBody = 4096

// EngineHandler connects the game client to the user's session runtime.
type EngineHandler struct {
	sessionService *service.SessionService
	hub            *bridge.Hub
}

type sceneRequest struct {
	Scene string `json:"scene"`
}

type characterRequest struct {
	Character engine.Appearance `json:"character"`
}

type cameraRequest struct {
	Camera engine.CameraMode `json:"camera"`
}

func NewEngineHandler(sessionService *service.SessionService, hub *bridge.Hub) *EngineHandler {
	return &EngineHandler{sessionService: sessionService, hub: hub}
}

func (h *EngineHandler) ChangeScene(c *gin.Context) {
	var req sceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}
	if apiErr := h.sessionService.ChangeScene(c.Request.Context(), middleware.UserID(c), req.Scene); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *EngineHandler) SetCharacter(c *gin.Context) {
	var req characterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}
	if apiErr := h.sessionService.SetCharacter(c.Request.Context(), middleware.UserID(c), req.Character); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *EngineHandler) SwitchCamera(c *gin.Context) {
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}
	if apiErr := h.sessionService.SwitchCamera(c.Request.Context(), middleware.UserID(c), req.Camera); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.Status(http.StatusAccepted)
}

// PostEvent accepts one engine event envelope over plain HTTP, for game
// clients that cannot hold the bridge socket open.
func (h *EngineHandler) PostEvent(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		writeInvalidJSON(c)
		return
	}
	ev, err := engine.DecodeEvent(raw)
	if err != nil {
		writeError(c, apperrors.BadRequest("invalid_event", err.Error()))
		return
	}
	h.sessionService.HandleEngineEvent(middleware.UserID(c), ev)
	c.Status(http.StatusAccepted)
}

// Connect upgrades to the bridge WebSocket for the authenticated user.
func (h *EngineHandler) Connect(c *gin.Context) {
	userID := middleware.UserID(c)
	if err := h.hub.Serve(c.Writer, c.Request, userID); err != nil {
		log.Printf("bridge: upgrade for user %s: %v", userID, err)
	}
}
