package handler

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"chat-sync/internal/model"
	"chat-sync/internal/service"
)

type ProjectHandler struct {
	Service *service.Service
	Log     *log.Logger
}

type projectBody struct {
	ID   string `json:"id"`
	Name string `json:"name" binding:"required"`
}

type linkBody struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

func (h *ProjectHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	projects, err := h.Service.ListProjects(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *ProjectHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body projectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	p, err := h.Service.CreateProject(c.Request.Context(), userID, model.Project{ID: body.ID, Name: body.Name})
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

func (h *ProjectHandler) Rename(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body projectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	p, err := h.Service.RenameProject(c.Request.Context(), userID, c.Param("id"), body.Name)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

func (h *ProjectHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Service.DeleteProject(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProjectHandler) Mapping(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	mapping, err := h.Service.ProjectMapping(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mapping": mapping})
}

func (h *ProjectHandler) Link(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body linkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c)
		return
	}
	if err := h.Service.LinkConversation(c.Request.Context(), userID, c.Param("id"), body.ConversationID); err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProjectHandler) Unlink(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Service.UnlinkConversation(c.Request.Context(), userID, c.Param("id"), c.Param("conversationId")); err != nil {
		writeError(c, h.Log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
