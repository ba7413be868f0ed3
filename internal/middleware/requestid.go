package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier in both directions.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID string.
	RequestIDKey = "request_id"

	maxInboundRequestIDLen = 128
)

// RequestIDMiddleware tags every request with an identifier and echoes it back
// in the X-Request-ID response header.
//
// An inbound X-Request-ID (from a load balancer or the caller) is reused when it
// is short and printable; anything else is replaced by a fresh UUID v4 so that
// log lines cannot be forged or bloated through the header.
//
//	id, _ := c.Get(middleware.RequestIDKey)
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxInboundRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
