package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

type memoryStore struct {
	mu          sync.Mutex
	credentials map[string]Credential
	clears      int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{credentials: make(map[string]Credential)}
}

func (s *memoryStore) LoadCredential(_ context.Context, userID string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials[userID], nil
}

func (s *memoryStore) SaveCredential(_ context.Context, userID string, credential Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[userID] = credential
	return nil
}

func (s *memoryStore) ClearCredential(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, userID)
	s.clears++
	return nil
}

type fakeEndpoint struct {
	refreshCalls atomic.Int32
	revokeCalls  atomic.Int32
	refreshDelay time.Duration
	refreshErr   error
	revokeErr    error
	response     TokenResponse
}

func (f *fakeEndpoint) Exchange(context.Context, string) (TokenResponse, error) {
	return f.response, nil
}

func (f *fakeEndpoint) Refresh(ctx context.Context, _ string) (TokenResponse, error) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		select {
		case <-time.After(f.refreshDelay):
		case <-ctx.Done():
			return TokenResponse{}, ctx.Err()
		}
	}
	if f.refreshErr != nil {
		return TokenResponse{}, f.refreshErr
	}
	return f.response, nil
}

func (f *fakeEndpoint) Revoke(context.Context, string) error {
	f.revokeCalls.Add(1)
	return f.revokeErr
}

func newTestManager(t *testing.T, store *memoryStore, endpoint *fakeEndpoint) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{
		Store:    store,
		Endpoint: endpoint,
		Clock:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return manager
}

func TestValidAccessTokenRefreshBoundary(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{response: TokenResponse{AccessToken: "fresh", ExpiresIn: 3600}}
	manager := newTestManager(t, store, endpoint)
	ctx := context.Background()

	store.credentials["soon"] = Credential{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(4 * time.Minute)}
	store.credentials["later"] = Credential{AccessToken: "cached", RefreshToken: "r2", Expiry: testNow.Add(10 * time.Minute)}

	token, err := manager.ValidAccessToken(ctx, "soon")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), endpoint.refreshCalls.Load())

	token, err = manager.ValidAccessToken(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, int32(1), endpoint.refreshCalls.Load())

	stored := store.credentials["soon"]
	assert.Equal(t, "r1", stored.RefreshToken, "refresh token kept when not rotated")
	assert.True(t, stored.Expiry.Equal(testNow.Add(time.Hour)))
}

func TestValidAccessTokenStoresRotatedRefreshToken(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{response: TokenResponse{AccessToken: "fresh", RefreshToken: "rotated", ExpiresIn: 60}}
	manager := newTestManager(t, store, endpoint)
	store.credentials["u"] = Credential{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(-time.Minute)}

	_, err := manager.ValidAccessToken(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "rotated", store.credentials["u"].RefreshToken)
}

func TestValidAccessTokenNotConnected(t *testing.T) {
	store := newMemoryStore()
	manager := newTestManager(t, store, &fakeEndpoint{})
	store.credentials["u"] = Credential{AccessToken: "orphan", Expiry: testNow.Add(time.Hour)}

	_, err := manager.ValidAccessToken(context.Background(), "u")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrReconnectRequired)
}

func TestValidAccessTokenRefreshFailureClearsCredential(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{refreshErr: &ProviderError{StatusCode: http.StatusBadRequest, Code: "invalid_grant"}}
	manager := newTestManager(t, store, endpoint)
	store.credentials["u"] = Credential{AccessToken: "old", RefreshToken: "revoked", Expiry: testNow}

	_, err := manager.ValidAccessToken(context.Background(), "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconnectRequired)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, stillStored := store.credentials["u"]
	assert.False(t, stillStored)
	assert.Equal(t, 1, store.clears)

	_, err = manager.ValidAccessToken(context.Background(), "u")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, int32(1), endpoint.refreshCalls.Load(), "no retry after a rejected refresh")
}

func TestValidAccessTokenCancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{
		refreshDelay: 60 * time.Millisecond,
		response:     TokenResponse{AccessToken: "fresh", ExpiresIn: 3600},
	}
	manager := newTestManager(t, store, endpoint)
	store.credentials["u"] = Credential{AccessToken: "old", RefreshToken: "r1", Expiry: testNow}

	impatient, cancel := context.WithCancel(context.Background())
	impatientErr := make(chan error, 1)
	go func() {
		_, err := manager.ValidAccessToken(impatient, "u")
		impatientErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	patient := make(chan string, 1)
	go func() {
		token, err := manager.ValidAccessToken(context.Background(), "u")
		assert.NoError(t, err)
		patient <- token
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-impatientErr, context.Canceled)
	assert.Equal(t, "fresh", <-patient)
	assert.Equal(t, int32(1), endpoint.refreshCalls.Load())
	assert.Zero(t, store.clears)
}

func TestValidAccessTokenTimeoutKeepsCredential(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{refreshErr: fmt.Errorf("post token: %w", context.DeadlineExceeded)}
	manager := newTestManager(t, store, endpoint)
	store.credentials["u"] = Credential{AccessToken: "old", RefreshToken: "r1", Expiry: testNow}

	_, err := manager.ValidAccessToken(context.Background(), "u")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReconnectRequired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, store.clears)
	assert.Equal(t, "r1", store.credentials["u"].RefreshToken)
}

func TestValidAccessTokenSingleRefreshUnderConcurrency(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{
		refreshDelay: 50 * time.Millisecond,
		response:     TokenResponse{AccessToken: "fresh", ExpiresIn: 3600},
	}
	manager := newTestManager(t, store, endpoint)
	store.credentials["u"] = Credential{AccessToken: "old", RefreshToken: "r1", Expiry: testNow.Add(time.Minute)}

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	errs := make([]error, 8)
	for i := range tokens {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			tokens[index], errs[index] = manager.ValidAccessToken(context.Background(), "u")
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", tokens[i])
	}
	assert.Equal(t, int32(1), endpoint.refreshCalls.Load())
}

func TestRevokeClearsEvenWhenProviderFails(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{revokeErr: errors.New("network down")}
	manager := newTestManager(t, store, endpoint)
	store.credentials["u"] = Credential{AccessToken: "a", RefreshToken: "r", Expiry: testNow.Add(time.Hour)}

	require.NoError(t, manager.Revoke(context.Background(), "u"))
	assert.Equal(t, int32(1), endpoint.revokeCalls.Load())
	connected, err := manager.Connected(context.Background(), "u")
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestExchangeCodeStoresCredential(t *testing.T) {
	store := newMemoryStore()
	endpoint := &fakeEndpoint{response: TokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 1800}}
	manager := newTestManager(t, store, endpoint)

	require.NoError(t, manager.ExchangeCode(context.Background(), "u", "code-1"))
	stored := store.credentials["u"]
	assert.Equal(t, Credential{AccessToken: "a", RefreshToken: "r", Expiry: testNow.Add(30 * time.Minute)}, stored)

	assert.Error(t, manager.ExchangeCode(context.Background(), "u", ""))
}

func TestHTTPEndpointRefreshAndErrors(t *testing.T) {
	var lastForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		lastForm = map[string]string{}
		for key := range r.PostForm {
			lastForm[key] = r.PostForm.Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			if r.PostForm.Get("refresh_token") == "bad" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"new-access","expires_in":3599,"token_type":"Bearer"}`))
		case "/revoke":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	endpoint, err := NewHTTPEndpoint(HTTPEndpointConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example/callback",
		TokenURL:     server.URL + "/token",
		RevokeURL:    server.URL + "/revoke",
		HTTPClient:   server.Client(),
	})
	require.NoError(t, err)

	response, err := endpoint.Refresh(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "new-access", response.AccessToken)
	assert.Equal(t, int64(3599), response.ExpiresIn)
	assert.Equal(t, "refresh_token", lastForm["grant_type"])
	assert.Equal(t, "client", lastForm["client_id"])

	_, err = endpoint.Refresh(context.Background(), "bad")
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "invalid_grant", providerErr.Code)

	require.NoError(t, endpoint.Revoke(context.Background(), "tok"))
	assert.Equal(t, "tok", lastForm["token"])

	_, err = NewHTTPEndpoint(HTTPEndpointConfig{ClientID: "c"})
	assert.ErrorIs(t, err, ErrInvalidEndpointConfig)
}

func TestAuthorizationURLRequestsOfflineAccess(t *testing.T) {
	endpoint, err := NewHTTPEndpoint(HTTPEndpointConfig{ClientID: "client", ClientSecret: "secret", RedirectURL: "https://app.example/cb"})
	require.NoError(t, err)
	url := endpoint.AuthorizationURL("state-1")
	assert.Contains(t, url, DefaultAuthURL+"?")
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "prompt=consent")
	assert.Contains(t, url, "state=state-1")
	assert.Contains(t, url, "gmail.readonly")
}

func TestStateRoundTrip(t *testing.T) {
	now := testNow
	codec, err := NewStateCodec(StateCodecConfig{Secret: "secret", Clock: func() time.Time { return now }})
	require.NoError(t, err)

	first, err := codec.Sign("user.with.dots")
	require.NoError(t, err)
	second, err := codec.Sign("user.with.dots")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "each connect attempt gets a fresh state")

	userID, err := codec.Verify(first)
	require.NoError(t, err)
	assert.Equal(t, "user.with.dots", userID)

	other, err := NewStateCodec(StateCodecConfig{Secret: "other-secret", Clock: func() time.Time { return now }})
	require.NoError(t, err)
	_, err = other.Verify(first)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = codec.Verify("user-1.deadbeef")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = codec.Verify("")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateExpires(t *testing.T) {
	now := testNow
	codec, err := NewStateCodec(StateCodecConfig{Secret: "secret", Clock: func() time.Time { return now }})
	require.NoError(t, err)
	state, err := codec.Sign("user-1")
	require.NoError(t, err)

	now = testNow.Add(DefaultStateTTL - time.Second)
	_, err = codec.Verify(state)
	require.NoError(t, err)

	now = testNow.Add(DefaultStateTTL + time.Second)
	_, err = codec.Verify(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNewStateCodecRequiresSecret(t *testing.T) {
	_, err := NewStateCodec(StateCodecConfig{Secret: " "})
	assert.ErrorIs(t, err, errMissingStateSecret)
}

func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	second, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	second()
}
