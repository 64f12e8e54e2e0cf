package middleware

import (
	"context"

	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const CorrelationIDHeader = "X-Correlation-ID"

// Correlation attaches a correlation id to every request. An incoming
// X-Correlation-ID header is honored; otherwise a new id is generated.
// The id is echoed back in the response and placed on the request context
// so logging picks it up.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationIDHeader)
		if cid == "" {
			cid = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, cid)
		c.Request = c.Request.WithContext(ctx)

		c.Header(CorrelationIDHeader, cid)
		c.Next()
	}
}
