package middleware

import (
	"context"
	"time"

	"gatepass/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type requestIDCtxKey struct{}

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware adds a request ID to the context
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		ctx := context.WithValue(c.Request.Context(), requestIDCtxKey{}, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// RequestID returns the request ID stored on ctx, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

// RequestLogger writes one structured line per request
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if idc, ok := GetIdentity(c); ok {
			fields = append(fields, "actor_id", idc.Actor.ID)
			if idc.Impersonating() {
				fields = append(fields, "true_actor_id", idc.TrueActor().ID)
			}
		}

		if c.Writer.Status() >= 500 {
			log.Warnw("request completed", fields...)
			return
		}
		log.Infow("request completed", fields...)
	}
}
