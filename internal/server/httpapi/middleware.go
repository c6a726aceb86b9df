package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sage/internal/observability"
)

const requestIDHeader = "X-Request-Id"

// RequestIDMiddleware assigns each request an id, echoes it in the response
// and threads it through the request context for log correlation. An inbound
// id is kept as-is.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		ctx := observability.ContextWithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
