package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

func requestIDOf(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// requestLogger tags each request with an ID, echoed in the response, and
// logs it once it completes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		slog.Info("request",
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

func recoverJSON(c *gin.Context, err any) {
	slog.Error("Panic while handling request",
		slog.Any("error", err),
		slog.String("request_id", requestIDOf(c)))
	c.AbortWithStatusJSON(http.StatusInternalServerError, failure("internal server error"))
}
