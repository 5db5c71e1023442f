package handler

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/model"
	"chat-sync/internal/service"
)

type MessageHandler struct {
	Service *service.Service
	Log     *log.Logger
}

type createMessageBody struct {
	ID        string     `json:"id"`
	Role      model.Role `json:"role" binding:"required"`
	Content   string     `json:"content"`
	ClientID  *string    `json:"clientId"`
	MetaJSON  *string    `json:"metaJson"`
	CreatedAt *time.Time `json:"createdAt"`
}

func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	msgs, err := h.Service.ListMessages(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body createMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	m := model.Message{
		ID:       body.ID,
		Role:     body.Role,
		Content:  body.Content,
		ClientID: body.ClientID,
		MetaJSON: body.MetaJSON,
	}
	if body.CreatedAt != nil {
		m.CreatedAt = *body.CreatedAt
	}

	stored, err := h.Service.CreateMessage(c.Request.Context(), userID, c.Param("id"), m)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": stored})
}

func (h *MessageHandler) Update(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var patch model.MessagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c)
		return
	}
	m, err := h.Service.UpdateMessage(c.Request.Context(), userID, c.Param("id"), patch)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": m})
}

func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Service.DeleteMessage(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
