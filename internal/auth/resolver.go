package auth

import (
	"net/http"
	"strings"
)

// LocalResolver serves local development with a static token.
type LocalResolver struct {
	Token  string
	UserID string
}

// Mode implements Resolver.
func (l *LocalResolver) Mode() Mode { return ModeLocal }

// Resolve returns the configured identity. The token is checked per request
// so a misconfigured process still answers health checks.
func (l *LocalResolver) Resolve(_ *http.Request) (Identity, error) {
	if strings.TrimSpace(l.Token) == "" {
		return Identity{}, ErrMissingLocalToken
	}
	return Identity{UserID: l.UserID, Token: l.Token, Mode: ModeLocal}, nil
}

// HostedResolver reads the identity headers set by the app platform proxy.
type HostedResolver struct{}

// Mode implements Resolver.
func (h *HostedResolver) Mode() Mode { return ModeHosted }

// Resolve requires X-Forwarded-Access-Token and a forwarded identity. The user id is the forwarded
// email when present, otherwise the forwarded user.
func (h *HostedResolver) Resolve(r *http.Request) (Identity, error) {
	token := BearerToken(r.Header.Get(HeaderForwardedAccessToken))
	if token == "" {
		return Identity{}, ErrMissingForwardedToken
	}
	email := strings.TrimSpace(r.Header.Get(HeaderForwardedEmail))
	user := email
	if user == "" {
		user = strings.TrimSpace(r.Header.Get(HeaderForwardedUser))
	}
	if user == "" {
		return Identity{}, ErrMissingForwardedIdentity
	}
	return Identity{UserID: user, Email: email, Token: token, Mode: ModeHosted}, nil
}
