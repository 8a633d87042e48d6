// Package http provides HTTP middleware that gates paid-tier routes on the
// entitlement record.
package http

import (
	"net/http"

	"github.com/mihaimyh/betledger/pkg/entitlement"
)

// EmailExtractor extracts the authenticated customer email from a request.
// Return empty string if the user is not authenticated.
type EmailExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitlement.Manager

	// GetEmail extracts the customer email from the request (required)
	GetEmail EmailExtractor

	// OnUnauthorized is called when no email can be extracted
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnForbidden is called when the customer has no paid entitlement
	// If nil, returns 402 Payment Required
	OnForbidden func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the entitlement check itself fails
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequirePaid creates an HTTP middleware that only lets entitled customers
// through. A customer without a record is treated the same as an unpaid
// one, never as an error.
func RequirePaid(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := config.GetEmail(r)
			if email == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			paid, err := config.Manager.IsPaid(r.Context(), email)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !paid {
				if config.OnForbidden != nil {
					config.OnForbidden(w, r)
				} else {
					http.Error(w, "Payment Required", http.StatusPaymentRequired)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePaidFunc is the http.HandlerFunc version of RequirePaid.
func RequirePaidFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := RequirePaid(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}
