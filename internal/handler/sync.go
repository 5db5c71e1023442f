package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/service"
)

type SyncHandler struct {
	Service *service.Service
}

// Version reports the current cache version. Clients poll it and refetch
// when it moves.
func (h *SyncHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": h.Service.CurrentVersion(c.Request.Context())})
}
