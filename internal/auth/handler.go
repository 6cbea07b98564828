// Package auth resolves request credentials according to the deployment mode.
//
// Two modes are supported and they never fall back to each other:
//   - local: a static token from DATABRICKS_TOKEN, required at request time
//   - hosted: the per-user token forwarded by the platform proxy
package auth

import (
	"errors"

	"github.com/databricks-solutions/databricks-genai-app-template-sub000/internal/auth/types"
)

// Re-export types for convenience
type (
	Mode     = types.Mode
	Identity = types.Identity
	Resolver = types.Resolver
)

// Re-export constants
const (
	ModeLocal  = types.ModeLocal
	ModeHosted = types.ModeHosted

	HeaderAuthorization        = types.HeaderAuthorization
	HeaderForwardedAccessToken = types.HeaderForwardedAccessToken
	HeaderForwardedUser        = types.HeaderForwardedUser
	HeaderForwardedEmail       = types.HeaderForwardedEmail
)

// Re-export functions
var (
	ParseMode   = types.ParseMode
	BearerToken = types.BearerToken
	SetBearer   = types.SetBearer
)

var (
	// ErrMissingLocalToken is a configuration error: local mode without DATABRICKS_TOKEN.
	ErrMissingLocalToken = errors.New("DATABRICKS_TOKEN is not configured for local development")

	// ErrMissingForwardedToken means the platform proxy did not forward a user token.
	ErrMissingForwardedToken = errors.New("missing forwarded access token")

	// ErrMissingForwardedIdentity means a token arrived without a user email or name.
	ErrMissingForwardedIdentity = errors.New("missing forwarded user identity")
)

// NewResolver returns the resolver for mode.
func NewResolver(mode Mode, localToken, localUserID string) Resolver {
	if mode == ModeHosted {
		return &HostedResolver{}
	}
	return &LocalResolver{Token: localToken, UserID: localUserID}
}
