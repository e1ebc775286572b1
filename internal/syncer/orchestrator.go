// Package syncer runs one source sync for one user: it resolves credentials,
// fetches through the source adapter, labels and upserts the items, records
// an audit row and relabels older items with the current rules.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shrutihegde1/study-buddy/internal/categorize"
	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/oauth"
	"github.com/shrutihegde1/study-buddy/internal/sources/canvas"
	"github.com/shrutihegde1/study-buddy/internal/users"
)

const defaultUpsertConcurrency = 4

var (
	// ErrNotConfigured means the user has not set up the source.
	ErrNotConfigured = errors.New("syncer: source not configured")
	// ErrUpstreamUnavailable means the provider's primary call failed.
	ErrUpstreamUnavailable = errors.New("syncer: upstream unavailable")
	// ErrUnknownSource is returned for sources that cannot be synced.
	ErrUnknownSource = errors.New("syncer: unknown source")

	errMissingStore    = errors.New("item store is required")
	errMissingProfiles = errors.New("profile loader is required")
	errMissingUserID   = errors.New("user identifier is required")
	errMissingAdapter  = errors.New("no adapter registered for source")
)

// SyncableSources lists the sources in the order RunAll reports them.
var SyncableSources = []items.Source{
	items.SourceCanvas,
	items.SourceCanvasCalendar,
	items.SourceClassroom,
	items.SourceGmail,
}

// ItemStore is the persistence the orchestrator needs.
type ItemStore interface {
	UpsertSynced(ctx context.Context, userID string, item items.NormalizedItem) (items.Item, error)
	QueryUnlabeled(ctx context.Context, userID string) ([]items.Item, error)
	SetCourseLabel(ctx context.Context, userID, itemID, label string) (bool, error)
	UpsertRule(ctx context.Context, userID string, input items.RuleInput) (items.Rule, error)
	ListRules(ctx context.Context, userID string) ([]items.Rule, error)
	AppendAudit(ctx context.Context, entry items.AuditEntry) (items.AuditEntry, error)
}

// ProfileLoader returns a user's integration settings.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, userID string) (users.Profile, error)
}

// TokenSource hands out valid Google access tokens.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, userID string) (string, error)
}

// CanvasFetcher fetches from the Canvas REST API.
type CanvasFetcher interface {
	Fetch(ctx context.Context, creds canvas.Credentials) (canvas.Result, error)
}

// FeedFetcher fetches an iCalendar feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]items.NormalizedItem, error)
}

// GoogleFetcher fetches from a Google API with an OAuth access token.
type GoogleFetcher interface {
	Fetch(ctx context.Context, accessToken string, location *time.Location) ([]items.NormalizedItem, error)
}

// RunResult summarises one source run.
type RunResult struct {
	Source       items.Source  `json:"source"`
	ItemsFetched int           `json:"items_fetched"`
	ItemsSynced  int           `json:"items_synced"`
	Relabeled    int           `json:"relabeled"`
	Warnings     []string      `json:"warnings,omitempty"`
	Outcome      items.Outcome `json:"outcome"`
	// Strategy names the Canvas retrieval path; empty for other sources.
	Strategy string `json:"strategy,omitempty"`
}

// SourceRun pairs a source with the result or error of its run.
type SourceRun struct {
	Source items.Source
	Result RunResult
	Err    error
}

type Config struct {
	Store     ItemStore
	Profiles  ProfileLoader
	Tokens    TokenSource
	Canvas    CanvasFetcher
	Calendar  FeedFetcher
	Classroom GoogleFetcher
	Mailbox   GoogleFetcher
	Clock     func() time.Time
	Logger    *zap.Logger
	// UpsertConcurrency bounds parallel upserts within one run.
	UpsertConcurrency int
}

// Orchestrator coordinates adapters, categorization and the item store.
type Orchestrator struct {
	store             ItemStore
	profiles          ProfileLoader
	tokens            TokenSource
	canvas            CanvasFetcher
	calendar          FeedFetcher
	classroom         GoogleFetcher
	mailbox           GoogleFetcher
	clock             func() time.Time
	logger            *zap.Logger
	upsertConcurrency int
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.UpsertConcurrency
	if concurrency <= 0 {
		concurrency = defaultUpsertConcurrency
	}
	return &Orchestrator{
		store:             cfg.Store,
		profiles:          cfg.Profiles,
		tokens:            cfg.Tokens,
		canvas:            cfg.Canvas,
		calendar:          cfg.Calendar,
		classroom:         cfg.Classroom,
		mailbox:           cfg.Mailbox,
		clock:             clock,
		logger:            logger,
		upsertConcurrency: concurrency,
	}, nil
}

// fetchOutcome is what a source produced before persistence.
type fetchOutcome struct {
	items    []items.NormalizedItem
	maps     categorize.CodeMaps
	strategy string
}

// fetchFunc performs the network part of a run once credentials are known.
type fetchFunc func(ctx context.Context) (fetchOutcome, error)

// Run syncs one source for one user. Configuration problems fail before any
// network call and leave no audit row. Per-item upsert failures become
// warnings on a successful result.
func (o *Orchestrator) Run(ctx context.Context, userID string, source items.Source) (RunResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RunResult{}, errMissingUserID
	}
	result := RunResult{Source: source}

	fetch, err := o.prepare(ctx, userID, source)
	if err != nil {
		o.logRunFailure(userID, source, "prepare", err)
		return result, err
	}

	outcome, err := fetch(ctx)
	if err != nil {
		o.logRunFailure(userID, source, "fetch", err)
		o.appendAudit(ctx, items.AuditEntry{
			UserID:       userID,
			Source:       source,
			Outcome:      items.OutcomeError,
			ErrorSummary: err.Error(),
		})
		return result, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, source, err)
	}
	result.ItemsFetched = len(outcome.items)
	result.Strategy = outcome.strategy

	if source == items.SourceCanvas {
		o.deriveContextRules(ctx, userID, outcome.maps.ContextCodes)
	}
	rules := o.listRules(ctx, userID)
	for index := range outcome.items {
		categorize.Enrich(&outcome.items[index], outcome.maps, rules)
	}

	result.ItemsSynced, result.Warnings = o.upsertAll(ctx, userID, outcome.items)
	result.Relabeled = o.relabel(ctx, userID, outcome.maps)

	result.Outcome = items.OutcomeSuccess
	if len(result.Warnings) > 0 {
		result.Outcome = items.OutcomeError
	}
	o.appendAudit(ctx, items.AuditEntry{
		UserID:       userID,
		Source:       source,
		Outcome:      result.Outcome,
		ErrorSummary: strings.Join(result.Warnings, "; "),
		ItemsSynced:  result.ItemsSynced,
	})

	o.logger.Info("sync run finished",
		zap.String("user_id", userID),
		zap.String("source", string(source)),
		zap.Int("items_fetched", result.ItemsFetched),
		zap.Int("items_synced", result.ItemsSynced),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("relabeled", result.Relabeled))
	return result, nil
}

// RunAll runs every source concurrently. Sources the user has not
// configured are skipped and omitted from the result.
func (o *Orchestrator) RunAll(ctx context.Context, userID string) []SourceRun {
	runs := make([]SourceRun, len(SyncableSources))
	var group errgroup.Group
	for index, source := range SyncableSources {
		group.Go(func() error {
			result, err := o.Run(ctx, userID, source)
			runs[index] = SourceRun{Source: source, Result: result, Err: err}
			return nil
		})
	}
	_ = group.Wait()

	kept := runs[:0]
	for _, run := range runs {
		if errors.Is(run.Err, ErrNotConfigured) {
			continue
		}
		kept = append(kept, run)
	}
	return kept
}

// prepare resolves credentials for source and returns the fetch step.
func (o *Orchestrator) prepare(ctx context.Context, userID string, source items.Source) (fetchFunc, error) {
	profile, err := o.profiles.LoadProfile(ctx, userID)
	if err != nil && !errors.Is(err, users.ErrProfileNotFound) {
		return nil, fmt.Errorf("syncer: load profile: %w", err)
	}

	switch source {
	case items.SourceCanvas:
		if o.canvas == nil {
			return nil, fmt.Errorf("%w: %s", errMissingAdapter, source)
		}
		if !profile.CanvasConfigured() {
			return nil, fmt.Errorf("%w: canvas base url and token are not set", ErrNotConfigured)
		}
		creds := canvas.Credentials{BaseURL: profile.CanvasBaseURL, Token: profile.CanvasToken}
		return func(ctx context.Context) (fetchOutcome, error) {
			fetched, err := o.canvas.Fetch(ctx, creds)
			if err != nil {
				return fetchOutcome{}, err
			}
			return fetchOutcome{
				items:    fetched.Items,
				maps:     categorize.CodeMaps{CourseCodes: fetched.CourseCodes, ContextCodes: fetched.ContextCodes},
				strategy: fetched.Strategy,
			}, nil
		}, nil

	case items.SourceCanvasCalendar:
		if o.calendar == nil {
			return nil, fmt.Errorf("%w: %s", errMissingAdapter, source)
		}
		feedURL := strings.TrimSpace(profile.CalendarFeedURL)
		if feedURL == "" {
			return nil, fmt.Errorf("%w: calendar feed url is not set", ErrNotConfigured)
		}
		return func(ctx context.Context) (fetchOutcome, error) {
			fetched, err := o.calendar.Fetch(ctx, feedURL)
			return fetchOutcome{items: fetched}, err
		}, nil

	case items.SourceClassroom, items.SourceGmail:
		adapter := o.classroom
		if source == items.SourceGmail {
			adapter = o.mailbox
		}
		if adapter == nil || o.tokens == nil {
			return nil, fmt.Errorf("%w: google integration is not enabled", ErrNotConfigured)
		}
		token, err := o.tokens.ValidAccessToken(ctx, userID)
		switch {
		case errors.Is(err, oauth.ErrReconnectRequired):
			return nil, err
		case errors.Is(err, oauth.ErrNotConnected):
			return nil, fmt.Errorf("%w: google account is not connected", ErrNotConfigured)
		case err != nil:
			return nil, fmt.Errorf("syncer: access token: %w", err)
		}
		location := profile.Location()
		return func(ctx context.Context) (fetchOutcome, error) {
			fetched, err := adapter.Fetch(ctx, token, location)
			return fetchOutcome{items: fetched}, err
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// deriveContextRules records one auto-generated context_code rule per
// course. Failures are logged; the run continues with the fresh map.
func (o *Orchestrator) deriveContextRules(ctx context.Context, userID string, contextCodes map[string]string) {
	for code, label := range contextCodes {
		if strings.TrimSpace(label) == "" {
			continue
		}
		_, err := o.store.UpsertRule(ctx, userID, items.RuleInput{
			MatchType:     items.MatchContextCode,
			MatchValue:    code,
			CourseLabel:   label,
			AutoGenerated: true,
		})
		if err != nil {
			o.logger.Warn("context rule upsert failed",
				zap.String("user_id", userID),
				zap.String("context_code", code),
				zap.Error(err))
		}
	}
}

func (o *Orchestrator) listRules(ctx context.Context, userID string) []items.Rule {
	rules, err := o.store.ListRules(ctx, userID)
	if err != nil {
		o.logger.Warn("rule listing failed; continuing without rules",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return rules
}

// upsertAll writes every item with bounded concurrency. Warnings keep the
// input order.
func (o *Orchestrator) upsertAll(ctx context.Context, userID string, batch []items.NormalizedItem) (int, []string) {
	failures := make([]error, len(batch))
	var group errgroup.Group
	group.SetLimit(o.upsertConcurrency)
	for index := range batch {
		group.Go(func() error {
			if _, err := o.store.UpsertSynced(ctx, userID, batch[index]); err != nil {
				failures[index] = err
			}
			return nil
		})
	}
	_ = group.Wait()

	synced := 0
	var warnings []string
	for index, err := range failures {
		if err == nil {
			synced++
			continue
		}
		title := batch[index].Title
		if title == "" {
			title = batch[index].SourceID
		}
		warnings = append(warnings, fmt.Sprintf("failed to sync %s: %v", title, err))
	}
	return synced, warnings
}

// relabel runs after all upserts so rules written by this run also label
// older rows. It returns how many rows gained a label.
func (o *Orchestrator) relabel(ctx context.Context, userID string, maps categorize.CodeMaps) int {
	unlabeled, err := o.store.QueryUnlabeled(ctx, userID)
	if err != nil {
		o.logger.Warn("unlabeled item query failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}
	if len(unlabeled) == 0 {
		return 0
	}
	rules := o.listRules(ctx, userID)

	var (
		mu      sync.Mutex
		changed int
		group   errgroup.Group
	)
	group.SetLimit(o.upsertConcurrency)
	for _, item := range unlabeled {
		label, ok := categorize.ResolveStored(item, maps, rules)
		if !ok {
			continue
		}
		group.Go(func() error {
			updated, err := o.store.SetCourseLabel(ctx, userID, item.ID, label)
			if err != nil {
				o.logger.Warn("retroactive label failed",
					zap.String("user_id", userID), zap.String("item_id", item.ID), zap.Error(err))
				return nil
			}
			if updated {
				mu.Lock()
				changed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return changed
}

func (o *Orchestrator) appendAudit(ctx context.Context, entry items.AuditEntry) {
	if _, err := o.store.AppendAudit(ctx, entry); err != nil {
		o.logRunFailure(entry.UserID, entry.Source, "audit", err)
	}
}

func (o *Orchestrator) logRunFailure(userID string, source items.Source, reason string, err error) {
	fields := []zap.Field{
		zap.String("operation", "syncer.run"),
		zap.String("reason", reason),
		zap.String("user_id", userID),
		zap.String("source", string(source)),
		zap.Error(err),
	}
	if errors.Is(err, ErrNotConfigured) {
		o.logger.Info("sync run skipped", fields...)
		return
	}
	o.logger.Error("sync run error", fields...)
}
