package handler

import (
	"errors"
	"net/http"
	"strconv"

	"bothost/internal/service/deployment"

	"github.com/gin-gonic/gin"
)

// statusFor maps supervisor errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, deployment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, deployment.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, deployment.ErrNoAvailableNode):
		return http.StatusServiceUnavailable
	case errors.Is(err, deployment.ErrArtifactMissing), errors.Is(err, deployment.ErrImmediateExit):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
