// Package gin provides Gin middleware that gates paid-tier routes on the
// entitlement record.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// EmailExtractor extracts the authenticated customer email from a Gin
// context. Return empty string if the user is not authenticated.
type EmailExtractor func(c *gongin.Context) string

// Config holds middleware configuration.
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitlement.Manager

	// GetEmail extracts the customer email from context (required)
	GetEmail EmailExtractor

	// OnUnauthorized is called when no email can be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnForbidden is called when the customer has no paid entitlement
	// If nil, returns 402 Payment Required
	OnForbidden func(c *gongin.Context)

	// OnError is called when the entitlement check itself fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// RequirePaid creates a Gin middleware that only lets entitled customers
// through.
func RequirePaid(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("betledger/gin: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("betledger/gin: Config.GetEmail is required")
	}

	return func(c *gongin.Context) {
		email := cfg.GetEmail(c)
		if email == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			return
		}

		paid, err := cfg.Manager.IsPaid(c.Request.Context(), email)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			return
		}

		if !paid {
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c)
				c.Abort()
			} else {
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gongin.H{"error": "Payment Required"})
			}
			return
		}

		c.Next()
	}
}

// EmailFromHeader returns an extractor that reads the email from a header,
// for deployments where an auth proxy injects the identity.
func EmailFromHeader(header string) EmailExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(header)
	}
}
