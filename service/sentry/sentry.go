package sentryutil

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"github.com/SplitFi/go-oasis/service/logger"
)

// ScopeOption configures the scope an error is reported with
type ScopeOption func(scope *sentry.Scope)

// ReportError reports an error to sentry using the hub attached to the context, falling back to
// the current hub
func ReportError(ctx context.Context, err error, opts ...ScopeOption) {
	hub := SentryHubFromContext(ctx)
	if hub == nil {
		logger.For(ctx).WithError(err).Warn("could not report error to sentry because hub is nil")
		return
	}

	hub.WithScope(func(scope *sentry.Scope) {
		for _, opt := range opts {
			opt(scope)
		}
		hub.CaptureException(err)
	})
}

// WithTag adds a tag to the reported event
func WithTag(key, value string) ScopeOption {
	return func(scope *sentry.Scope) {
		scope.SetTag(key, value)
	}
}

// WithContext adds a named context to the reported event
func WithContext(name string, values map[string]interface{}) ScopeOption {
	return func(scope *sentry.Scope) {
		scope.SetContext(name, values)
	}
}

// SentryHubFromContext returns the hub attached to the context or the current hub
func SentryHubFromContext(ctx context.Context) *sentry.Hub {
	if ctx == nil {
		return sentry.CurrentHub()
	}
	if gc, ok := ctx.(*gin.Context); ok && gc.Request != nil {
		ctx = gc.Request.Context()
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

// NewSentryHubContext returns a context with a clone of the context's hub attached
func NewSentryHubContext(ctx context.Context) context.Context {
	return sentry.SetHubOnContext(ctx, SentryHubFromContext(ctx).Clone())
}

// RecoverAndRaise reports a panic to sentry and re-panics
func RecoverAndRaise(ctx context.Context) {
	if err := recover(); err != nil {
		hub := SentryHubFromContext(ctx)
		if hub != nil {
			hub.Recover(err)
			hub.Flush(2 * time.Second)
		}
		panic(err)
	}
}
