package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/model"
	"chat-sync/internal/service"
)

type ConversationHandler struct {
	Service *service.Service
	Log     *log.Logger
}

type createConversationBody struct {
	ID        string     `json:"id" binding:"required"`
	Title     string     `json:"title"`
	ModelID   *string    `json:"modelId"`
	Starred   bool       `json:"starred"`
	Archived  bool       `json:"archived"`
	IsPublic  bool       `json:"isPublic"`
	CreatedAt *time.Time `json:"createdAt"`
}

// parseListQuery reads limit, cursor, cursorId, starred, archived, full and
// sinceRevision.
func parseListQuery(c *gin.Context) (model.ListQuery, bool) {
	var q model.ListQuery
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, false
		}
		q.Limit = n
	}
	if raw := c.Query("cursor"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, false
		}
		q.Cursor = &t
		q.CursorID = c.Query("cursorId")
	}
	if raw := c.Query("starred"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return q, false
		}
		q.Starred = &v
	}
	switch c.Query("archived") {
	case "", "false":
		q.Archived = model.ArchivedExclude
	case "true":
		q.Archived = model.ArchivedOnly
	case "all":
		q.Archived = model.ArchivedAny
	default:
		return q, false
	}
	if raw := c.Query("full"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return q, false
		}
		q.Full = v
	}
	if raw := c.Query("sinceRevision"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return q, false
		}
		q.SinceRevision = &v
	}
	return q.Normalize(), true
}

func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	q, ok := parseListQuery(c)
	if !ok {
		badRequest(c)
		return
	}
	page, err := h.Service.ListConversations(c.Request.Context(), userID, q)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ConversationHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body createConversationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	conv := model.Conversation{
		ID:       body.ID,
		Title:    body.Title,
		ModelID:  body.ModelID,
		Starred:  body.Starred,
		Archived: body.Archived,
		IsPublic: body.IsPublic,
	}
	if body.CreatedAt != nil {
		conv.CreatedAt = *body.CreatedAt
	}

	stored, created, err := h.Service.CreateConversation(c.Request.Context(), userID, conv)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": stored})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	conv, err := h.Service.GetConversation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) Update(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var patch model.ConversationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c)
		return
	}
	conv, err := h.Service.UpdateConversation(c.Request.Context(), userID, c.Param("id"), patch)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Service.DeleteConversation(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Preview(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	p, err := h.Service.Preview(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preview": p})
}

type branchBody struct {
	MessageID string `json:"messageId" binding:"required"`
}

func (h *ConversationHandler) Branch(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body branchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	conv, err := h.Service.Branch(c.Request.Context(), userID, c.Param("id"), body.MessageID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (h *ConversationHandler) Projects(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	projects, err := h.Service.ProjectsForConversation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}
