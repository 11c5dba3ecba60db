package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shintairiku/cohere-rag/internal/model"
	"github.com/shintairiku/cohere-rag/internal/pkg/errcode"
	"github.com/shintairiku/cohere-rag/internal/pkg/response"
	"github.com/shintairiku/cohere-rag/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// searchRequest carries either the canonical mode or the legacy trigger
// vocabulary the spreadsheet clients still send.
type searchRequest struct {
	TenantID string    `json:"tenant_id"`
	Mode     string    `json:"mode"`
	Trigger  string    `json:"trigger"`
	Query    string    `json:"query"`
	Vector   []float32 `json:"vector"`
	TopK     int       `json:"top_k"`
	Exclude  []string  `json:"exclude"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	rawMode := req.Mode
	if rawMode == "" {
		rawMode = req.Trigger
	}
	mode, err := model.ParseQueryMode(rawMode)
	if err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidQuery, err.Error())
		return
	}
	results, err := h.search.Search(c.Request.Context(), model.SearchRequest{
		TenantID: req.TenantID,
		Mode:     mode,
		Query:    req.Query,
		Vector:   req.Vector,
		TopK:     req.TopK,
		Exclude:  req.Exclude,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": results})
}

// SearchGet serves the query-parameter form of search. The old API named
// the parameters uuid and q, so both spellings are accepted, and a missing
// mode means similar, which is what that API defaulted to.
func (h *SearchHandler) SearchGet(c *gin.Context) {
	rawMode := c.Query("mode")
	if rawMode == "" {
		rawMode = c.Query("trigger")
	}
	mode := model.QueryModeSimilar
	if rawMode != "" {
		parsed, err := model.ParseQueryMode(rawMode)
		if err != nil {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalidQuery, err.Error())
			return
		}
		mode = parsed
	}
	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid top_k")
			return
		}
		topK = parsed
	}
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		tenantID = c.Query("uuid")
	}
	query := c.Query("query")
	if query == "" {
		query = c.Query("q")
	}
	var exclude []string
	for _, item := range strings.Split(c.Query("exclude"), ",") {
		if item = strings.TrimSpace(item); item != "" {
			exclude = append(exclude, item)
		}
	}
	results, err := h.search.Search(c.Request.Context(), model.SearchRequest{
		TenantID: tenantID,
		Mode:     mode,
		Query:    query,
		TopK:     topK,
		Exclude:  exclude,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"items": results})
}
