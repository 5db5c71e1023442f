package handler

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/service"
)

type AIHandler struct {
	Service *service.Service
	Log     *log.Logger
}

func (h *AIHandler) GenerateTitle(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	conv, err := h.Service.GenerateTitle(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "title": conv.Title})
}

func (h *AIHandler) Followups(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body service.FollowupRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	out, err := h.Service.SuggestFollowups(c.Request.Context(), userID, body)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"followups": out})
}
