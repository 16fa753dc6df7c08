package middleware

import (
	"fmt"
	"net/http"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// BodyLimit rejects requests whose declared Content-Length exceeds maxBytes
// with 413 and caps the reader for chunked bodies, so binding fails past the limit.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			apperr.Respond(c, apperr.New(apperr.CodeTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxBytes)))
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
