package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"
	DefaultAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"

	maxErrorBodyBytes = 4096
)

// DefaultScopes covers read access to Classroom coursework and Gmail.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/classroom.courses.readonly",
	"https://www.googleapis.com/auth/classroom.coursework.me.readonly",
	"https://www.googleapis.com/auth/gmail.readonly",
}

var (
	ErrInvalidEndpointConfig = errors.New("oauth: invalid endpoint config")
	errMissingClientID       = errors.New("client id required")
	errMissingClientSecret   = errors.New("client secret required")
	errMissingRedirectURL    = errors.New("redirect url required")
)

// ProviderError is returned when the token endpoint answers with a non-2xx status.
type ProviderError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("oauth provider returned status %d", e.StatusCode)
	}
	if e.Description == "" {
		return fmt.Sprintf("oauth provider returned status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("oauth provider returned status %d: %s (%s)", e.StatusCode, e.Code, e.Description)
}

// HTTPEndpointConfig configures the form-POST token client.
type HTTPEndpointConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenURL     string
	RevokeURL    string
	AuthURL      string
	Scopes       []string
	HTTPClient   *http.Client
}

// HTTPEndpoint implements Endpoint against an OAuth 2.0 provider.
type HTTPEndpoint struct {
	clientID     string
	clientSecret string
	redirectURL  string
	tokenURL     string
	revokeURL    string
	authURL      string
	scopes       []string
	httpClient   *http.Client
}

// NewHTTPEndpoint validates configuration and fills provider defaults.
func NewHTTPEndpoint(cfg HTTPEndpointConfig) (*HTTPEndpoint, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpointConfig, errMissingClientID)
	}
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpointConfig, errMissingClientSecret)
	}
	redirectURL := strings.TrimSpace(cfg.RedirectURL)
	if redirectURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpointConfig, errMissingRedirectURL)
	}

	endpoint := &HTTPEndpoint{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		tokenURL:     firstNonEmpty(cfg.TokenURL, DefaultTokenURL),
		revokeURL:    firstNonEmpty(cfg.RevokeURL, DefaultRevokeURL),
		authURL:      firstNonEmpty(cfg.AuthURL, DefaultAuthURL),
		scopes:       cfg.Scopes,
		httpClient:   cfg.HTTPClient,
	}
	if len(endpoint.scopes) == 0 {
		endpoint.scopes = DefaultScopes
	}
	if endpoint.httpClient == nil {
		endpoint.httpClient = http.DefaultClient
	}
	return endpoint, nil
}

// ClientSecret exposes the secret used to sign callback state.
func (e *HTTPEndpoint) ClientSecret() string {
	return e.clientSecret
}

// AuthorizationURL builds the consent URL for an offline-access grant.
func (e *HTTPEndpoint) AuthorizationURL(state string) string {
	query := url.Values{}
	query.Set("client_id", e.clientID)
	query.Set("redirect_uri", e.redirectURL)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(e.scopes, " "))
	query.Set("access_type", "offline")
	query.Set("prompt", "consent")
	query.Set("state", state)
	separator := "?"
	if strings.Contains(e.authURL, "?") {
		separator = "&"
	}
	return e.authURL + separator + query.Encode()
}

// Exchange trades an authorization code for tokens.
func (e *HTTPEndpoint) Exchange(ctx context.Context, code string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", e.clientID)
	form.Set("client_secret", e.clientSecret)
	form.Set("redirect_uri", e.redirectURL)
	form.Set("grant_type", "authorization_code")
	return e.postToken(ctx, form)
}

// Refresh trades a refresh token for a new access token.
func (e *HTTPEndpoint) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", e.clientID)
	form.Set("client_secret", e.clientSecret)
	form.Set("grant_type", "refresh_token")
	return e.postToken(ctx, form)
}

// Revoke asks the provider to invalidate the token.
func (e *HTTPEndpoint) Revoke(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("token", token)
	response, err := e.post(ctx, e.revokeURL, form)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		return decodeProviderError(response)
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func (e *HTTPEndpoint) postToken(ctx context.Context, form url.Values) (TokenResponse, error) {
	response, err := e.post(ctx, e.tokenURL, form)
	if err != nil {
		return TokenResponse{}, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return TokenResponse{}, decodeProviderError(response)
	}
	var token TokenResponse
	if err := json.NewDecoder(response.Body).Decode(&token); err != nil {
		return TokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return TokenResponse{}, errors.New("token response missing access_token")
	}
	return token, nil
}

func (e *HTTPEndpoint) post(ctx context.Context, target string, form url.Values) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")
	return e.httpClient.Do(request)
}

func decodeProviderError(response *http.Response) error {
	providerErr := &ProviderError{StatusCode: response.StatusCode}
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err := json.Unmarshal(body, &payload); err == nil {
		providerErr.Code = payload.Error
		providerErr.Description = payload.ErrorDescription
	}
	return providerErr
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
