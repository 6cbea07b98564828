// Package types defines the credential and identity types shared by the
// gateway and the upstream clients.
package types

import (
	"net/http"
	"strings"
)

// =============================================================================
// DEPLOYMENT MODE
// =============================================================================

// Mode is the credential resolution strategy. Exactly one is active per
// process; there is no fallback from one to the other.
type Mode string

const (
	// ModeLocal uses a static token from process configuration.
	ModeLocal Mode = "local"

	// ModeHosted uses the per-user token forwarded by the app platform proxy.
	ModeHosted Mode = "hosted"
)

// ParseMode converts a resolved deployment mode string to Mode.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeHosted)) {
		return ModeHosted
	}
	return ModeLocal
}

// =============================================================================
// IDENTITY
// =============================================================================

// Identity is who a request runs as and the token it runs with.
type Identity struct {
	UserID string
	Email  string
	Token  string
	Mode   Mode
}

// HasToken reports whether a bearer token is available.
func (i Identity) HasToken() bool {
	return i.Token != ""
}

// Resolver resolves the identity of an inbound request.
type Resolver interface {
	// Mode returns the strategy this resolver implements.
	Mode() Mode

	// Resolve returns the caller identity or a sentinel error when the
	// required credential is missing.
	Resolve(r *http.Request) (Identity, error)
}

// =============================================================================
// HEADER CONSTANTS
// =============================================================================

const (
	// HeaderAuthorization is the standard Authorization header.
	HeaderAuthorization = "Authorization"

	// HeaderForwardedAccessToken carries the caller's token in hosted mode.
	HeaderForwardedAccessToken = "X-Forwarded-Access-Token"

	// HeaderForwardedUser carries the caller's user id in hosted mode.
	HeaderForwardedUser = "X-Forwarded-User"

	// HeaderForwardedEmail carries the caller's email in hosted mode.
	HeaderForwardedEmail = "X-Forwarded-Email"

	// HeaderContentType is the Content-Type header.
	HeaderContentType = "Content-Type"
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// BearerToken extracts the bearer token value from an Authorization header.
// Input: "Bearer dapi..." -> Output: "dapi..."
// Input: "dapi..." -> Output: "dapi..." (pass-through if no Bearer prefix)
func BearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) >= len(bearerPrefix) && strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}
	return authHeader
}

// SetBearer sets the Authorization header when token is non-empty.
func SetBearer(h http.Header, token string) {
	if token != "" {
		h.Set(HeaderAuthorization, "Bearer "+token)
	}
}
