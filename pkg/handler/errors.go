package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/choraleia/plugbot/pkg/sandbox"
	"github.com/choraleia/plugbot/pkg/service"
	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var compileErr *sandbox.CompileError
	switch {
	case errors.As(err, &compileErr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrVersionConflict), errors.Is(err, service.ErrAlreadyAttached):
		return http.StatusConflict
	case errors.Is(err, service.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}

	var compileErr *sandbox.CompileError
	if errors.As(err, &compileErr) {
		c.JSON(status, gin.H{"error": compileErr.Message, "compile_error": compileErr})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}
