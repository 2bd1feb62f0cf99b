// Package middleware holds gin middleware shared by the scheduler and
// dispatcher HTTP surfaces, ported from the teacher's
// internal/transport/http/middleware and internal/http/middleware packages.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cronback-oss/cronback/internal/metrics"
	"github.com/cronback-oss/cronback/internal/requestid"
	"github.com/cronback-oss/cronback/internal/servicetoken"
)

const errUnauthorized = "unauthorized"

// APIKeyAuth validates a static bearer API key against validKeys. The
// JWT-based end-user auth the teacher used doesn't apply here — there is no
// end-user signup flow in scope, only service callers holding a
// provisioned admin API key (spec.md §6 api.admin_api_keys).
func APIKeyAuth(validKeys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		key := strings.TrimPrefix(header, "Bearer ")
		owner, ok := validKeys[key]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		c.Set("owner", owner)
		c.Next()
	}
}

// ServiceTokenAuth validates the short-lived HS256 token a scheduler cell
// attaches to every dispatcher RPC (spec.md §6 Dispatch RPC surface). A nil
// verifier disables the check, for local dev without a shared signing key.
func ServiceTokenAuth(verifier *servicetoken.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		cellID, err := verifier.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		c.Set("cell_id", cellID)
		c.Next()
	}
}

// RequestID injects a request ID into the context and response header,
// preserving an inbound X-Request-ID if present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = requestid.New()
		}
		ctx := requestid.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// Security sets common HTTP security headers on every response.
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		c.Next()
	}
}

// Metrics records HTTP request duration and count per (method, path, status).
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// Owner reads the authenticated owner set by APIKeyAuth.
func Owner(c *gin.Context) string {
	owner, _ := c.Get("owner")
	s, _ := owner.(string)
	return s
}
