package util

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-oasis/service/logger"
)

// ErrorResponse represents a json response for an error during endpoint execution
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a json response for a successful request with no other body
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrResponse aborts the request and writes the error as json
func ErrResponse(c *gin.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		logger.For(c).WithError(err).Errorf("request failed with status %d", code)
	}
	c.Error(err)
	c.AbortWithStatusJSON(code, ErrorResponse{Error: err.Error()})
}

// HealthCheckHandler reports that the server is up
func HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, SuccessResponse{Success: true})
	}
}
