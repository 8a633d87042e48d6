// Package echo provides Echo middleware that gates paid-tier routes on the
// entitlement record.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// EmailExtractor extracts the authenticated customer email from an Echo
// context. Return empty string if the user is not authenticated.
type EmailExtractor func(c echo.Context) string

// Config holds middleware configuration.
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitlement.Manager

	// GetEmail extracts the customer email from context (required)
	GetEmail EmailExtractor

	// OnUnauthorized is called when no email can be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnForbidden is called when the customer has no paid entitlement
	// If nil, returns 402 Payment Required
	OnForbidden func(c echo.Context) error

	// OnError is called when the entitlement check itself fails
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RequirePaid creates an Echo middleware that only lets entitled customers
// through.
func RequirePaid(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("betledger/echo: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("betledger/echo: Config.GetEmail is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			email := cfg.GetEmail(c)
			if email == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			paid, err := cfg.Manager.IsPaid(c.Request().Context(), email)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if !paid {
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c)
				}
				return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "Payment Required"})
			}

			return next(c)
		}
	}
}

// EmailFromHeader returns an extractor that reads the email from a header,
// for deployments where an auth proxy injects the identity.
func EmailFromHeader(header string) EmailExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(header)
	}
}
