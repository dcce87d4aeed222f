package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/env"
	"github.com/SplitFi/go-oasis/service/logger"
	sentryutil "github.com/SplitFi/go-oasis/service/sentry"
)

type ginContextKey struct{}

var GinContextKey ginContextKey

// GinContextToContext stores the gin context in the request context so request scoped values
// are available to code that only receives a context.Context
func GinContextToContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), GinContextKey, c)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Sentry attaches a per-request hub to the request context and reports panics. If repanic is
// set the panic is rethrown after it is reported.
func Sentry(repanic bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := sentryutil.NewSentryHubContext(c.Request.Context())
		hub := sentry.GetHubFromContext(ctx)
		hub.Scope().SetRequest(c.Request)
		c.Request = c.Request.WithContext(ctx)

		defer func() {
			if err := recover(); err != nil {
				hub.RecoverWithContext(ctx, err)
				if repanic {
					panic(err)
				}
				logger.For(c).Errorf("recovered from panic: %v", err)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()

		c.Next()
	}
}

// HandleCORS allows the origins listed in ALLOWED_ORIGINS
func HandleCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestOrigin := c.Request.Header.Get("Origin")

		if IsOriginAllowed(requestOrigin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", requestOrigin)
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IsOriginAllowed returns whether origin is one of ALLOWED_ORIGINS
func IsOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range strings.Split(env.GetString("ALLOWED_ORIGINS"), ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

// ErrLogger logs the errors handlers attached to the request
func ErrLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, err := range c.Errors {
			logger.For(c).WithError(err.Err).WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"status": c.Writer.Status(),
			}).Warn("request error")
		}
	}
}
