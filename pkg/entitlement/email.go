package entitlement

import "strings"

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// An empty result counts as absent; callers must not key records on it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
