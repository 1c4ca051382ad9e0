package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	headerKey  = "X-Request-ID"
	contextKey = "request_id"

	// Inbound IDs longer than this are replaced rather than propagated.
	maxInboundLen = 64
)

// Middleware assigns a request ID to each incoming HTTP request. A
// well-formed inbound X-Request-ID is propagated so callers can correlate
// across services; anything else is replaced with a generated one.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := inbound(c.GetHeader(headerKey))
		if reqID == "" {
			reqID = newID()
		}

		c.Set(contextKey, reqID)
		c.Writer.Header().Set(headerKey, reqID)

		c.Next()
	}
}

// Value returns the request ID stored in the Gin context.
func Value(c *gin.Context) string {
	if v, exists := c.Get(contextKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// inbound accepts a caller-supplied ID only when it is printable ASCII and
// short enough to log safely.
func inbound(id string) string {
	if id == "" || len(id) > maxInboundLen {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return ""
		}
	}
	return id
}

func newID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
}
