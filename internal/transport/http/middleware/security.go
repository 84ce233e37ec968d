package middleware

import "github.com/gin-gonic/gin"

// Security sets the response headers every control-plane reply carries.
// The portal serves JSON describing jobs and workers; replies are never
// cacheable and never rendered in a frame.
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		c.Next()
	}
}
