package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Log is the process logger. It is a no-op until Initialize is called.
	Log = zap.NewNop()
)

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "request_id"

// RequestIDHeader is propagated on inbound and outbound requests.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// Initialize sets up the global logger for the given environment.
func Initialize(env string) {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := config.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	Log = l
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// RequestLogger returns a gin middleware that assigns a request ID and logs request details.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))

		c.Next()

		Log.Info("Request completed",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// WithRequestID returns a copy of ctx carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID extracts the request ID from ctx, or "unknown".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if v, exists := ginCtx.Get(RequestIDKey); exists {
			if s, ok := v.(string); ok {
				return s
			}
		}
		if ginCtx.Request == nil {
			return "unknown"
		}
		ctx = ginCtx.Request.Context()
	}
	if s, ok := ctx.Value(ctxKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// Error logs an error with the request ID from ctx.
func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("request_id", RequestID(ctx)))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	Log.Error(msg, fields...)
}

// Info logs an info message with the request ID from ctx.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, append(fields, zap.String("request_id", RequestID(ctx)))...)
}

// Debug logs a debug message with the request ID from ctx.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, append(fields, zap.String("request_id", RequestID(ctx)))...)
}

// Warn logs a warning with the request ID from ctx.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, append(fields, zap.String("request_id", RequestID(ctx)))...)
}
