package logger

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type loggerContextKey struct{}

var defaultLogger = logrus.New()

// LoggerOption configures the default logger
type LoggerOption func(l *logrus.Logger)

// InitWithGCPDefaults formats log output as JSON with the field names Cloud Logging expects
func InitWithGCPDefaults() {
	SetLoggerOptions(func(l *logrus.Logger) {
		l.SetOutput(os.Stdout)
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyTime:  "timestamp",
			},
		})
	})
}

// SetLoggerOptions applies the options to the default logger
func SetLoggerOptions(opts ...LoggerOption) {
	for _, opt := range opts {
		opt(defaultLogger)
	}
}

// NewContextWithFields returns a new context whose logger carries the given fields in addition to
// any fields already on the context's logger
func NewContextWithFields(parent context.Context, fields logrus.Fields) context.Context {
	return NewContextWithLogger(parent, fields, nil)
}

// NewContextWithLogger returns a new context with the given logger. If logger is nil, the context's
// current logger is used.
func NewContextWithLogger(parent context.Context, fields logrus.Fields, logger *logrus.Entry) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if logger == nil {
		logger = For(parent)
	}

	logger = logger.WithFields(fields)

	if gc, ok := parent.(*gin.Context); ok {
		gc.Set(loggerContextKey{}.String(), logger)
		return gc
	}

	return context.WithValue(parent, loggerContextKey{}, logger)
}

// For returns the logger stored on the context, or the default logger
func For(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return logrus.NewEntry(defaultLogger)
	}

	if gc, ok := ctx.(*gin.Context); ok {
		if l, ok := gc.Get(loggerContextKey{}.String()); ok {
			return l.(*logrus.Entry)
		}
		if gc.Request == nil {
			return logrus.NewEntry(defaultLogger)
		}
		ctx = gc.Request.Context()
	}

	if l, ok := ctx.Value(loggerContextKey{}).(*logrus.Entry); ok {
		return l
	}

	return logrus.NewEntry(defaultLogger).WithContext(ctx)
}

// SetLevel sets the level of the default logger
func SetLevel(level logrus.Level) {
	defaultLogger.SetLevel(level)
}

func (loggerContextKey) String() string {
	return "logger.loggerContextKey"
}
