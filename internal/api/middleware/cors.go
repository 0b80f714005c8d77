package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds cross-origin settings for the browser-facing endpoints.
type CORSConfig struct {
	AllowedOrigins  []string
	AllowAllOrigins bool
}

// The API serves only GET and POST; uploads arrive as multipart forms and
// the SSE stream is a plain GET, so the allowed sets stay small. X-Request-ID
// is exposed so the dashboard can surface it when reporting a failed import.
const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Accept, Authorization, Cache-Control, X-Requested-With"
	corsExpose  = "Content-Length, X-Request-ID"
)

// CORS returns a middleware applying the configured origin policy.
func CORS(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		header := c.Writer.Header()
		if config.AllowAllOrigins {
			header.Set("Access-Control-Allow-Origin", "*")
		} else {
			if !originAllowed(origin, config.AllowedOrigins) {
				// Leave the response without CORS headers; the browser
				// blocks it on its side.
				c.Next()
				return
			}
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Vary", "Origin")
		}

		header.Set("Access-Control-Allow-Methods", corsMethods)
		header.Set("Access-Control-Allow-Headers", corsHeaders)
		header.Set("Access-Control-Expose-Headers", corsExpose)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(origin, a) {
			return true
		}
	}
	return false
}
