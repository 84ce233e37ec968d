package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tkwok/triggerd/internal/requestid"
)

// RequestID attaches a correlation ID to the request context and echoes it
// in the response. A caller-supplied X-Request-ID is kept so the ops
// dashboard can trace its own calls; otherwise one is minted.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if id == "" {
			id = requestid.New()
		}

		ctx := requestid.Set(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestid.Header, id)
		c.Next()
	}
}
