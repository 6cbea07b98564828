package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalResolver(t *testing.T) {
	r := NewResolver(ModeLocal, "dapi-local-token-123", "dev-user@localhost")
	assert.Equal(t, ModeLocal, r.Mode())

	id, err := r.Resolve(httptest.NewRequest("POST", "/api/chat", nil))
	require.NoError(t, err)
	assert.Equal(t, "dev-user@localhost", id.UserID)
	assert.Equal(t, "dapi-local-token-123", id.Token)
	assert.True(t, id.HasToken())
}

func TestLocalResolver_MissingToken(t *testing.T) {
	r := NewResolver(ModeLocal, "", "dev-user@localhost")

	req := httptest.NewRequest("POST", "/api/chat", nil)
	req.Header.Set(HeaderForwardedAccessToken, "forwarded")
	_, err := r.Resolve(req)
	assert.ErrorIs(t, err, ErrMissingLocalToken, "local mode never falls back to forwarded headers")
}

func TestHostedResolver(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		wantUser string
		wantErr  error
	}{
		{
			name:     "email preferred",
			headers:  map[string]string{HeaderForwardedAccessToken: "tok", HeaderForwardedEmail: "a@x.com", HeaderForwardedUser: "123"},
			wantUser: "a@x.com",
		},
		{
			name:     "user fallback",
			headers:  map[string]string{HeaderForwardedAccessToken: "tok", HeaderForwardedUser: "123"},
			wantUser: "123",
		},
		{
			name:    "missing token",
			headers: map[string]string{HeaderForwardedEmail: "a@x.com"},
			wantErr: ErrMissingForwardedToken,
		},
		{
			name:    "missing identity",
			headers: map[string]string{HeaderForwardedAccessToken: "tok"},
			wantErr: ErrMissingForwardedIdentity,
		},
	}

	r := NewResolver(ModeHosted, "static-token-ignored", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/chat", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			id, err := r.Resolve(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, id.UserID)
			assert.Equal(t, "tok", id.Token)
			assert.Equal(t, ModeHosted, id.Mode)
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "", BearerToken("  "))
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "abc", BearerToken("abc"))
}
