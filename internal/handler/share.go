package handler

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/service"
)

type ShareHandler struct {
	Service *service.Service
	Log     *log.Logger
}

type shareBody struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

func (h *ShareHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	shares, err := h.Service.ListShares(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": shares})
}

func (h *ShareHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body shareBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	sh, err := h.Service.CreateShare(c.Request.Context(), userID, body.ConversationID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"share": sh})
}

func (h *ShareHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Service.DeleteShare(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Public serves a shared conversation without a session.
func (h *ShareHandler) Public(c *gin.Context) {
	view, err := h.Service.SharedConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
