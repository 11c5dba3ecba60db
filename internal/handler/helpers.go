package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/shintairiku/cohere-rag/internal/pkg/errors"
	"github.com/shintairiku/cohere-rag/internal/pkg/errcode"
	"github.com/shintairiku/cohere-rag/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get("request_id")
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case appErr.IsNotFound(err):
		response.Error(c, http.StatusNotFound, errcode.ErrNotFound, err.Error())
	case appErr.IsRunInFlight(err):
		response.Error(c, http.StatusConflict, errcode.ErrConflict, err.Error())
	case appErr.IsInvalidQuery(err):
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidQuery, err.Error())
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, http.StatusTooManyRequests, errcode.ErrTooMany, err.Error())
	case errors.Is(err, appErr.ErrSourceUnreachable):
		response.Error(c, http.StatusBadGateway, errcode.ErrSourceUnreachable, err.Error())
	case errors.Is(err, appErr.ErrPermissionDenied):
		response.Error(c, http.StatusForbidden, errcode.ErrPermissionDenied, err.Error())
	case appErr.IsTransient(err) || appErr.IsPermanent(err):
		response.Error(c, http.StatusBadGateway, errcode.ErrEmbedUnavailable, err.Error())
	case errors.Is(err, appErr.ErrStoreWrite):
		response.Error(c, http.StatusInternalServerError, errcode.ErrStoreWrite, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}
