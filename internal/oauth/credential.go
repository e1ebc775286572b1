package oauth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected means no refresh token is on file for the user.
	ErrNotConnected = errors.New("oauth: account not connected")
	// ErrReconnectRequired means the provider rejected the stored refresh token
	// and the credential has been cleared.
	ErrReconnectRequired = errors.New("oauth: reconnect required")
	// ErrInvalidState means a callback state parameter failed verification.
	ErrInvalidState = errors.New("oauth: invalid state")
)

// Credential is the stored token triple. The three fields are always written
// and cleared together.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Connected reports whether a refresh token is on file.
func (c Credential) Connected() bool {
	return c.RefreshToken != ""
}

// validAt reports whether the access token can still be used at now plus margin.
func (c Credential) validAt(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" || c.Expiry.IsZero() {
		return false
	}
	return c.Expiry.After(now.Add(margin))
}

// TokenResponse is the provider's token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// CredentialStore persists credentials per user.
type CredentialStore interface {
	LoadCredential(ctx context.Context, userID string) (Credential, error)
	SaveCredential(ctx context.Context, userID string, credential Credential) error
	ClearCredential(ctx context.Context, userID string) error
}

// Endpoint talks to the provider's token and revocation endpoints.
type Endpoint interface {
	Exchange(ctx context.Context, code string) (TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)
	Revoke(ctx context.Context, token string) error
}
