package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/oauth"
	"github.com/shrutihegde1/study-buddy/internal/syncer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSyncSourceReturnsRunResult(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())
	harness.syncer.result = syncer.RunResult{ItemsFetched: 10, ItemsSynced: 8, Warnings: []string{"failed to sync a: x", "failed to sync b: y"}, Outcome: items.OutcomeError}

	recorder := harness.do(t, http.MethodPost, "/sync/Canvas", "student-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var fields map[string]any
	decodeBody(t, recorder, &fields)
	for _, key := range []string{"items_fetched", "items_synced", "warnings", "outcome"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected snake_case field %q in %s", key, recorder.Body.String())
		}
	}
	var result syncer.RunResult
	decodeBody(t, recorder, &result)
	if result.Source != items.SourceCanvas || result.ItemsSynced != 8 || len(result.Warnings) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if harness.syncer.lastUser != "student-1" {
		t.Fatalf("sync ran for %q", harness.syncer.lastUser)
	}
}

func TestSyncSourceMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{syncer.ErrNotConfigured, http.StatusBadRequest, "not_configured"},
		{fmt.Errorf("google token: %w", oauth.ErrReconnectRequired), http.StatusUnauthorized, "reconnect_required"},
		{fmt.Errorf("%w: canvas down", syncer.ErrUpstreamUnavailable), http.StatusBadGateway, "upstream_unavailable"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, testCase := range cases {
		core, logs := observer.New(zapcore.DebugLevel)
		harness := newRouterHarness(t, zap.New(core))
		harness.syncer.err = testCase.err

		recorder := harness.do(t, http.MethodPost, "/sync/gmail", "student-1", nil)
		if recorder.Code != testCase.status {
			t.Fatalf("%v: expected %d, got %d", testCase.err, testCase.status, recorder.Code)
		}
		if !strings.Contains(recorder.Body.String(), testCase.code) {
			t.Fatalf("%v: expected code %q in %s", testCase.err, testCase.code, recorder.Body.String())
		}
		if logs.FilterMessage("sync failed").Len() != 1 {
			t.Fatalf("%v: expected one sync failure log", testCase.err)
		}
	}
}

func TestSyncSourceRejectsUnknownSource(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())
	recorder := harness.do(t, http.MethodPost, "/sync/myspace", "student-1", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if len(harness.syncer.sources) != 0 {
		t.Fatalf("unknown source must not reach the syncer")
	}
}

func TestSyncAllSplitsResultsAndFailures(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())
	harness.syncer.runs = []syncer.SourceRun{
		{Source: items.SourceCanvas, Result: syncer.RunResult{Source: items.SourceCanvas, ItemsSynced: 3, Outcome: items.OutcomeSuccess}},
		{Source: items.SourceGmail, Err: fmt.Errorf("%w: gmail down", syncer.ErrUpstreamUnavailable)},
	}

	recorder := harness.do(t, http.MethodPost, "/sync", "student-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response syncAllResponse
	decodeBody(t, recorder, &response)
	if len(response.Results) != 1 || response.Results[0].ItemsSynced != 3 {
		t.Fatalf("unexpected results: %+v", response.Results)
	}
	if len(response.Errors) != 1 || response.Errors[0].Source != items.SourceGmail {
		t.Fatalf("unexpected errors: %+v", response.Errors)
	}
}

func TestSyncLogsListsNewestEntries(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())
	ctx := context.Background()
	for index, outcome := range []items.Outcome{items.OutcomeSuccess, items.OutcomeError} {
		if _, err := harness.store.AppendAudit(ctx, items.AuditEntry{
			UserID:      "student-1",
			Source:      items.SourceCanvas,
			SyncedAt:    testNow.Add(time.Duration(index) * time.Minute),
			Outcome:     outcome,
			ItemsSynced: index,
		}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	recorder := harness.do(t, http.MethodGet, "/sync/logs?limit=1", "student-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var logs struct {
		Logs []auditPayload `json:"logs"`
	}
	decodeBody(t, recorder, &logs)
	if len(logs.Logs) != 1 {
		t.Fatalf("expected limit to apply, got %d entries", len(logs.Logs))
	}

	if bad := harness.do(t, http.MethodGet, "/sync/logs?limit=zero", "student-1", nil); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", bad.Code)
	}
}

func TestGoogleConnectFlow(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())

	connect := harness.do(t, http.MethodGet, "/integrations/google/connect", "student-1", nil)
	if connect.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", connect.Code)
	}
	var payload struct {
		AuthorizationURL string `json:"authorization_url"`
	}
	decodeBody(t, connect, &payload)
	parsed, err := url.Parse(payload.AuthorizationURL)
	if err != nil {
		t.Fatalf("invalid authorization url: %v", err)
	}
	state := parsed.Query().Get("state")
	codec, err := oauth.NewStateCodec(oauth.StateCodecConfig{Secret: testStateSecret, Clock: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("failed to construct state codec: %v", err)
	}
	if owner, err := codec.Verify(state); err != nil || owner != "student-1" {
		t.Fatalf("state must be signed for the user, got %q %v", owner, err)
	}

	callback := harness.do(t, http.MethodGet, "/integrations/google/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	if callback.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", callback.Code)
	}
	if location := callback.Header().Get("Location"); location != "/settings?google=connected" {
		t.Fatalf("unexpected redirect: %q", location)
	}
	if harness.google.exchangedUser != "student-1" || harness.google.exchangedCode != "abc" {
		t.Fatalf("unexpected exchange: %q %q", harness.google.exchangedUser, harness.google.exchangedCode)
	}

	forged := harness.do(t, http.MethodGet, "/integrations/google/callback?code=abc&state=student-2.deadbeef", "", nil)
	if forged.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for forged state, got %d", forged.Code)
	}

	declined := harness.do(t, http.MethodGet, "/integrations/google/callback?error=access_denied", "", nil)
	if location := declined.Header().Get("Location"); location != "/settings?google=denied" {
		t.Fatalf("unexpected redirect for declined consent: %q", location)
	}

	disconnect := harness.do(t, http.MethodPost, "/integrations/google/disconnect", "student-1", nil)
	if disconnect.Code != http.StatusNoContent || harness.google.revokedUser != "student-1" {
		t.Fatalf("expected disconnect for student-1, got %d %q", disconnect.Code, harness.google.revokedUser)
	}
}

func TestGoogleCallbackRejectsExpiredState(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())
	stale, err := oauth.NewStateCodec(oauth.StateCodecConfig{
		Secret: testStateSecret,
		Clock:  func() time.Time { return testNow.Add(-oauth.DefaultStateTTL - time.Minute) },
	})
	if err != nil {
		t.Fatalf("failed to construct state codec: %v", err)
	}
	state, err := stale.Sign("student-1")
	if err != nil {
		t.Fatalf("failed to sign state: %v", err)
	}

	recorder := harness.do(t, http.MethodGet, "/integrations/google/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for expired state, got %d", recorder.Code)
	}
	if harness.google.exchangedUser != "" {
		t.Fatalf("expired state must not reach the code exchange, got %q", harness.google.exchangedUser)
	}
}

func TestUpdateCanvasIntegration(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())

	recorder := harness.do(t, http.MethodPut, "/integrations/canvas", "student-1", map[string]any{
		"base_url":          "https://school.instructure.com/",
		"token":             "canvas-token",
		"calendar_feed_url": "webcal://school.instructure.com/feeds/calendars/user_abc.ics",
		"timezone":          "America/Chicago",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload integrationsPayload
	decodeBody(t, recorder, &payload)
	if !payload.CanvasConfigured || payload.Timezone != "America/Chicago" || !payload.GoogleAvailable {
		t.Fatalf("unexpected integrations: %+v", payload)
	}

	invalid := harness.do(t, http.MethodPut, "/integrations/canvas", "student-1", map[string]any{"timezone": "Mars/Olympus"})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown timezone, got %d", invalid.Code)
	}

	fresh := harness.do(t, http.MethodGet, "/integrations", "student-2", nil)
	decodeBody(t, fresh, &payload)
	if payload.CanvasConfigured || payload.GoogleConnected {
		t.Fatalf("new users start unconfigured, got %+v", payload)
	}
}

func TestDeleteAccountRevokesAndRemovesData(t *testing.T) {
	harness := newRouterHarness(t, zap.NewNop())
	created := harness.do(t, http.MethodPost, "/items", "student-1", map[string]any{"title": "Flashcards"})
	if created.Code != http.StatusCreated {
		t.Fatalf("seed failed: %d", created.Code)
	}

	recorder := harness.do(t, http.MethodDelete, "/account", "student-1", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if harness.google.revokedUser != "student-1" {
		t.Fatalf("expected google grant to be revoked")
	}
	remaining, err := harness.store.List(context.Background(), "student-1", items.ListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no items after account deletion, got %d", len(remaining))
	}
}
