package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"focustown/backend/internal/middleware"
	"focustown/backend/internal/service"
)

type GroupHandler struct {
	groupService *service.GroupService
}

type createGroupRequest struct {
	DurationMinutes int `json:"durationMinutes"`
}

func NewGroupHandler(groupService *service.GroupService) *GroupHandler {
	return &GroupHandler{groupService: groupService}
}

func (h *GroupHandler) Create(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}

	group, apiErr := h.groupService.Create(c.Request.Context(), middleware.UserID(c), req.DurationMinutes)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"group": group})
}

func (h *GroupHandler) Get(c *gin.Context) {
	group, apiErr := h.groupService.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

func (h *GroupHandler) Join(c *gin.Context) {
	group, apiErr := h.groupService.Join(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

func (h *GroupHandler) Leave(c *gin.Context) {
	if apiErr := h.groupService.Leave(c.Request.Context(), middleware.UserID(c), c.Param("id")); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) Start(c *gin.Context) {
	group, apiErr := h.groupService.Start(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

func (h *GroupHandler) Cancel(c *gin.Context) {
	group, apiErr := h.groupService.Cancel(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}
