package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sami/medbank/internal/logger"
)

// LoggerMiddleware returns a Gin middleware that injects a request-scoped
// logger and emits one access log line per request. The import endpoints
// carry the session id as the :id route param; it is propagated as a logging
// field so API access lines correlate with the run's own log stream.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.New().String()

		fields := logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		}
		if importID := c.Param("id"); importID != "" {
			fields[logger.FieldImportID] = importID
		}

		reqLog := log.WithFields(fields)
		ctx := reqLog.WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Set("logger", reqLog)
		c.Header("X-Request-ID", requestID)

		c.Next()

		path := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			path += "?" + query
		}

		reqLog.WithFields(logger.Fields{
			logger.FieldStatus:     c.Writer.Status(),
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldSize:       c.Writer.Size(),
		}).Infof("%s %s from %s", c.Request.Method, path, c.ClientIP())
	}
}

// GetLogger extracts the request-scoped logger from a Gin context, falling
// back to the request context and then the default logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get("logger"); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
