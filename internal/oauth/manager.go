// Package oauth keeps per-user OAuth credentials usable: it refreshes access
// tokens before they expire, exchanges authorization codes and revokes grants.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshMargin is how long before expiry a token is refreshed.
	DefaultRefreshMargin = 5 * time.Minute
	defaultTokenLifetime = time.Hour
	refreshLockPrefix    = "oauth-refresh:"
	// refreshTimeout bounds a shared refresh, which outlives any one caller.
	refreshTimeout = 30 * time.Second
)

var (
	errMissingCredentialStore = errors.New("credential store is required")
	errMissingEndpoint        = errors.New("token endpoint is required")
	errMissingUserID          = errors.New("user identifier is required")
	errMissingCode            = errors.New("authorization code is required")
)

type ManagerConfig struct {
	Store         CredentialStore
	Endpoint      Endpoint
	Locker        Locker
	Clock         func() time.Time
	Logger        *zap.Logger
	RefreshMargin time.Duration
}

// Manager owns the credential lifecycle for one provider.
type Manager struct {
	store    CredentialStore
	endpoint Endpoint
	locker   Locker
	clock    func() time.Time
	logger   *zap.Logger
	margin   time.Duration
	flights  singleflight.Group
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingCredentialStore
	}
	if cfg.Endpoint == nil {
		return nil, errMissingEndpoint
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &Manager{
		store:    cfg.Store,
		endpoint: cfg.Endpoint,
		locker:   locker,
		clock:    clock,
		logger:   logger,
		margin:   margin,
	}, nil
}

// ValidAccessToken returns an access token that is good for at least the
// refresh margin. Concurrent callers for the same user share one refresh.
func (m *Manager) ValidAccessToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errMissingUserID
	}
	credential, err := m.store.LoadCredential(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if !credential.Connected() {
		return "", ErrNotConnected
	}
	if credential.validAt(m.clock(), m.margin) {
		return credential.AccessToken, nil
	}

	flight := m.flights.DoChan(userID, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx, userID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case outcome := <-flight:
		if outcome.Err != nil {
			return "", outcome.Err
		}
		return outcome.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context, userID string) (string, error) {
	unlock, err := m.locker.Lock(ctx, refreshLockPrefix+userID)
	if err != nil {
		return "", fmt.Errorf("acquire refresh lock: %w", err)
	}
	defer unlock()

	// Another process may have refreshed while we waited for the lock.
	credential, err := m.store.LoadCredential(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if !credential.Connected() {
		return "", ErrNotConnected
	}
	if credential.validAt(m.clock(), m.margin) {
		return credential.AccessToken, nil
	}

	response, err := m.endpoint.Refresh(ctx, credential.RefreshToken)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		m.logger.Warn("oauth refresh interrupted; keeping credential",
			zap.String("user_id", userID),
			zap.Error(err))
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if err != nil {
		m.logger.Warn("oauth refresh rejected; clearing credential",
			zap.String("user_id", userID),
			zap.Error(err))
		if clearErr := m.store.ClearCredential(ctx, userID); clearErr != nil {
			m.logger.Error("oauth credential clear failed",
				zap.String("user_id", userID),
				zap.Error(clearErr))
		}
		return "", fmt.Errorf("%w: %w: %v", ErrReconnectRequired, ErrNotConnected, err)
	}

	next := m.merge(credential, response)
	if err := m.store.SaveCredential(ctx, userID, next); err != nil {
		return "", fmt.Errorf("save refreshed credential: %w", err)
	}
	m.logger.Debug("oauth access token refreshed",
		zap.String("user_id", userID),
		zap.Time("expiry", next.Expiry))
	return next.AccessToken, nil
}

// merge keeps the stored refresh token unless the provider rotated it.
func (m *Manager) merge(existing Credential, response TokenResponse) Credential {
	lifetime := time.Duration(response.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	next := Credential{
		AccessToken:  response.AccessToken,
		RefreshToken: existing.RefreshToken,
		Expiry:       m.clock().UTC().Add(lifetime),
	}
	if response.RefreshToken != "" {
		next.RefreshToken = response.RefreshToken
	}
	return next
}

// SaveCredential stores a token response for the user.
func (m *Manager) SaveCredential(ctx context.Context, userID string, response TokenResponse) error {
	if userID == "" {
		return errMissingUserID
	}
	existing, err := m.store.LoadCredential(ctx, userID)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	return m.store.SaveCredential(ctx, userID, m.merge(existing, response))
}

// ExchangeCode completes the authorization-code grant and stores the result.
func (m *Manager) ExchangeCode(ctx context.Context, userID, code string) error {
	if code == "" {
		return errMissingCode
	}
	response, err := m.endpoint.Exchange(ctx, code)
	if err != nil {
		m.logger.Warn("oauth code exchange failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	return m.SaveCredential(ctx, userID, response)
}

// Revoke notifies the provider when possible, then always clears the credential.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	if userID == "" {
		return errMissingUserID
	}
	credential, err := m.store.LoadCredential(ctx, userID)
	if err != nil {
		m.logger.Warn("oauth revoke could not load credential", zap.String("user_id", userID), zap.Error(err))
	}
	token := credential.RefreshToken
	if token == "" {
		token = credential.AccessToken
	}
	if token != "" {
		if err := m.endpoint.Revoke(ctx, token); err != nil {
			m.logger.Warn("oauth provider revoke failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return m.store.ClearCredential(ctx, userID)
}

// Connected reports whether the user has a refresh token on file.
func (m *Manager) Connected(ctx context.Context, userID string) (bool, error) {
	credential, err := m.store.LoadCredential(ctx, userID)
	if err != nil {
		return false, err
	}
	return credential.Connected(), nil
}
