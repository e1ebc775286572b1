package canvas

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shrutihegde1/study-buddy/internal/sources"
)

// Canvas rejects calendar queries with more than ten context codes.
const maxContextCodesPerRequest = 10

var assignmentURLPattern = regexp.MustCompile(`assignments/(\d+)`)

var plannerAssignmentTypes = map[string]bool{
	"assignment":       true,
	"quiz":             true,
	"discussion_topic": true,
}

// fallbackStrategy is one retrieval path for accounts whose assignment
// listing comes back empty. attempted counts the raw entries seen.
type fallbackStrategy struct {
	name string
	run  func(ctx context.Context, creds Credentials, courses []Course) (records []assignmentRecord, attempted int)
}

func (a *Adapter) fallbackChain() []fallbackStrategy {
	return []fallbackStrategy{
		{name: StrategyPlanner, run: a.plannerStrategy},
		{name: StrategyCalendarAssignments, run: a.calendarAssignmentStrategy},
		{name: StrategyObserveePlanner, run: a.observeePlannerStrategy},
	}
}

// runFallbacks tries each strategy in order and stops at the first that
// yields records. An empty outcome is valid and not an error.
func (a *Adapter) runFallbacks(ctx context.Context, creds Credentials, courses []Course) ([]assignmentRecord, string) {
	for _, strategy := range a.fallbackChain() {
		records, attempted := strategy.run(ctx, creds, courses)
		a.logger.Info("fallback strategy finished",
			zap.String("strategy", strategy.name),
			zap.Int("attempted", attempted),
			zap.Int("item_count", len(records)))
		if len(records) > 0 {
			return records, strategy.name
		}
	}
	a.logger.Warn("all fallback strategies returned no assignments")
	return nil, StrategyNone
}

func (a *Adapter) plannerStrategy(ctx context.Context, creds Credentials, _ []Course) ([]assignmentRecord, int) {
	now := a.clock().UTC()
	entries, err := a.fetchPlanner(ctx, creds, now.AddDate(0, -1, 0), now.AddDate(0, 6, 0), 0)
	if err != nil {
		a.logger.Warn("planner fetch failed", zap.Error(err))
		return nil, 0
	}
	return a.plannerAssignments(entries, creds.BaseURL), len(entries)
}

func (a *Adapter) calendarAssignmentStrategy(ctx context.Context, creds Credentials, courses []Course) ([]assignmentRecord, int) {
	now := a.clock().UTC()
	seen := make(map[int64]bool)
	var (
		records   []assignmentRecord
		attempted int
	)
	for start := 0; start < len(courses); start += maxContextCodesPerRequest {
		end := min(start+maxContextCodesPerRequest, len(courses))
		query := url.Values{
			"type":       {"assignment"},
			"all_events": {"1"},
			"start_date": {now.AddDate(0, -3, 0).Format(time.RFC3339)},
			"end_date":   {now.AddDate(0, 6, 0).Format(time.RFC3339)},
			"per_page":   {"100"},
		}
		for _, course := range courses[start:end] {
			query.Add("context_codes[]", course.ContextCode())
		}
		events, err := sources.GetAllPages[calendarEventRecord](ctx, a.client,
			a.endpoint(creds, "/api/v1/calendar_events", query), creds.Token)
		if err != nil {
			a.logger.Warn("assignment calendar events fetch failed", zap.Error(err))
			continue
		}
		attempted += len(events)
		for _, event := range events {
			courseID := courseIDFromContext(event.ContextCode)
			if courseID == 0 {
				continue
			}
			assignmentID := event.ID
			if match := assignmentURLPattern.FindStringSubmatch(event.HTMLURL); match != nil {
				if parsed, err := strconv.ParseInt(match[1], 10, 64); err == nil {
					assignmentID = parsed
				}
			}
			if seen[assignmentID] {
				continue
			}
			seen[assignmentID] = true
			records = append(records, assignmentRecord{
				ID:          assignmentID,
				Name:        event.Title,
				Description: event.Description,
				DueAt:       event.StartAt,
				CourseID:    courseID,
				HTMLURL:     event.HTMLURL,
			})
		}
	}
	return records, attempted
}

// observeePlannerStrategy repeats the planner lookup for each observed user
// and stops at the first one with assignment entries.
func (a *Adapter) observeePlannerStrategy(ctx context.Context, creds Credentials, _ []Course) ([]assignmentRecord, int) {
	observees, err := sources.GetAllPages[observeeRecord](ctx, a.client,
		a.endpoint(creds, "/api/v1/users/self/observees", url.Values{"per_page": {"50"}}), creds.Token)
	if err != nil {
		a.logger.Info("observee lookup unavailable", zap.Error(err))
		return nil, 0
	}
	if len(observees) == 0 {
		a.logger.Info("no observees found")
		return nil, 0
	}

	now := a.clock().UTC()
	attempted := 0
	for _, observee := range observees {
		entries, err := a.fetchPlanner(ctx, creds, now.AddDate(0, -3, 0), now.AddDate(0, 6, 0), observee.ID)
		if err != nil {
			a.logger.Warn("observee planner fetch failed",
				zap.Int64("observee_id", observee.ID), zap.Error(err))
			continue
		}
		attempted += len(entries)
		if records := a.plannerAssignments(entries, creds.BaseURL); len(records) > 0 {
			a.logger.Info("observee planner produced assignments",
				zap.Int64("observee_id", observee.ID),
				zap.String("observee_name", observee.Name),
				zap.Int("item_count", len(records)))
			return records, attempted
		}
	}
	return nil, attempted
}

func (a *Adapter) fetchPlanner(ctx context.Context, creds Credentials, from, to time.Time, observedUserID int64) ([]plannerRecord, error) {
	query := url.Values{
		"start_date": {from.Format(time.RFC3339)},
		"end_date":   {to.Format(time.RFC3339)},
		"per_page":   {"100"},
	}
	if observedUserID != 0 {
		query.Set("observed_user_id", strconv.FormatInt(observedUserID, 10))
	}
	return sources.GetAllPages[plannerRecord](ctx, a.client,
		a.endpoint(creds, "/api/v1/planner/items", query), creds.Token)
}

// plannerAssignments keeps assignment-like planner entries and logs the
// entry types the feed returned.
func (a *Adapter) plannerAssignments(entries []plannerRecord, baseURL string) []assignmentRecord {
	typeSet := make(map[string]bool)
	var records []assignmentRecord
	for _, entry := range entries {
		typeSet[entry.PlannableType] = true
		if !plannerAssignmentTypes[entry.PlannableType] {
			continue
		}
		link := entry.Plannable.HTMLURL
		if link == "" {
			link = entry.HTMLURL
		}
		due := entry.Plannable.DueAt
		if due == nil {
			due = entry.PlannableDate
		}
		records = append(records, assignmentRecord{
			ID:              entry.PlannableID,
			Name:            entry.Plannable.Title,
			Description:     entry.Plannable.Description,
			DueAt:           due,
			PointsPossible:  entry.Plannable.PointsPossible,
			CourseID:        entry.CourseID,
			HTMLURL:         absoluteURL(baseURL, link),
			SubmissionTypes: entry.Plannable.SubmissionTypes,
			plannableType:   entry.PlannableType,
		})
	}
	types := make([]string, 0, len(typeSet))
	for plannableType := range typeSet {
		types = append(types, plannableType)
	}
	sort.Strings(types)
	a.logger.Info("planner entries received",
		zap.Int("entry_count", len(entries)),
		zap.Strings("plannable_types", types),
		zap.Int("assignment_count", len(records)))
	return records
}
