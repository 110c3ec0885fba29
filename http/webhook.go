// Package http provides HTTP server integrations for the SDK, currently a
// Gin middleware that authenticates inbound ProtocolBanks webhooks.
package http

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	protocolbanks "github.com/everest-an/protocol-banks---web3-sub001"
)

// eventContextKey is where the middleware stores the verified event.
const eventContextKey = "protocolbanks.webhook.event"

// WebhookMiddlewareOptions configure WebhookMiddleware.
type WebhookMiddlewareOptions struct {
	// Tolerance is the accepted timestamp skew in seconds.
	// Zero means the verifier default of five minutes.
	Tolerance int
	// SignatureHeader overrides the header carrying the signature.
	SignatureHeader string
	// MaxBodyBytes bounds how much of the request body is read.
	MaxBodyBytes int64
}

// Option mutates WebhookMiddlewareOptions.
type Option func(*WebhookMiddlewareOptions)

// WithTolerance sets the accepted timestamp skew in seconds.
func WithTolerance(seconds int) Option {
	return func(o *WebhookMiddlewareOptions) { o.Tolerance = seconds }
}

// WithSignatureHeader overrides the signature header name.
func WithSignatureHeader(name string) Option {
	return func(o *WebhookMiddlewareOptions) { o.SignatureHeader = name }
}

// WithMaxBodyBytes bounds the request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(o *WebhookMiddlewareOptions) { o.MaxBodyBytes = n }
}

// WebhookMiddleware authenticates every request with the verifier before the
// handler runs. Any verification failure aborts with 401; there is no path
// where an unverified payload reaches the handler. The verified event is
// available to handlers through EventFromContext, and the request body
// remains readable downstream.
func WebhookMiddleware(verifier *protocolbanks.WebhookVerifier, opts ...Option) gin.HandlerFunc {
	options := &WebhookMiddlewareOptions{
		SignatureHeader: protocolbanks.WebhookSignatureHeader,
		MaxBodyBytes:    1 << 20,
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		header := c.GetHeader(options.SignatureHeader)
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing webhook signature",
			})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, options.MaxBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unreadable webhook payload",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		result := verifier.Verify(string(body), header, options.Tolerance)
		if !result.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": result.Error,
			})
			return
		}

		c.Set(eventContextKey, result.Event)
		c.Next()
	}
}

// EventFromContext returns the verified event stored by WebhookMiddleware.
func EventFromContext(c *gin.Context) (*protocolbanks.WebhookEvent, bool) {
	value, exists := c.Get(eventContextKey)
	if !exists {
		return nil, false
	}
	event, ok := value.(*protocolbanks.WebhookEvent)
	return event, ok
}
