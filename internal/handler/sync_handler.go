package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shintairiku/cohere-rag/internal/pkg/errcode"
	"github.com/shintairiku/cohere-rag/internal/pkg/response"
	"github.com/shintairiku/cohere-rag/internal/service"
)

type SyncHandler struct {
	sync *service.SyncService
}

func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

type syncRequest struct {
	FolderRef string `json:"folder_ref"`
}

// Trigger queues one tenant sync. The body is optional; a folder_ref in it
// overrides the registered folder for this run only.
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
			return
		}
	}
	if err := h.sync.TriggerSync(c.Request.Context(), c.Param("id"), req.FolderRef); err != nil {
		handleError(c, err)
		return
	}
	response.Accepted(c, gin.H{"accepted": true})
}

func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid limit")
			return
		}
		limit = parsed
	}
	runs, err := h.sync.ListRuns(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, runs)
}

func (h *SyncHandler) TriggerBatch(c *gin.Context) {
	h.sync.TriggerBatch(c.Request.Context())
	response.Accepted(c, gin.H{"accepted": true})
}
