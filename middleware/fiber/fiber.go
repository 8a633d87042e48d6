// Package fiber provides Fiber middleware that gates paid-tier routes on
// the entitlement record.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// EmailExtractor extracts the authenticated customer email from a Fiber
// context. Return empty string if the user is not authenticated.
type EmailExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration.
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitlement.Manager

	// GetEmail extracts the customer email from context (required)
	GetEmail EmailExtractor

	// OnUnauthorized is called when no email can be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnForbidden is called when the customer has no paid entitlement
	// If nil, returns 402 Payment Required
	OnForbidden func(c *fiber.Ctx) error

	// OnError is called when the entitlement check itself fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// RequirePaid creates a Fiber middleware that only lets entitled customers
// through.
func RequirePaid(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("betledger/fiber: Config.Manager is required")
	}
	if cfg.GetEmail == nil {
		panic("betledger/fiber: Config.GetEmail is required")
	}

	return func(c *fiber.Ctx) error {
		email := cfg.GetEmail(c)
		if email == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		paid, err := cfg.Manager.IsPaid(c.UserContext(), email)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if !paid {
			if cfg.OnForbidden != nil {
				return cfg.OnForbidden(c)
			}
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "Payment Required"})
		}

		return c.Next()
	}
}

// EmailFromHeader returns an extractor that reads the email from a header,
// for deployments where an auth proxy injects the identity.
func EmailFromHeader(header string) EmailExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(header)
	}
}
