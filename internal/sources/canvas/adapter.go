// Package canvas pulls assignments, submissions and calendar events from the
// Canvas LMS REST API.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/sources"
)

const (
	defaultConcurrency = 4

	StrategyAssignments         = "assignments"
	StrategyPlanner             = "planner"
	StrategyCalendarAssignments = "calendar_assignments"
	StrategyObserveePlanner     = "observee_planner"
	StrategyNone                = "none"
)

// ErrMissingCredentials is returned when the base URL or token is empty.
var ErrMissingCredentials = errors.New("canvas: base url and token are required")

// Credentials authenticate against one Canvas instance.
type Credentials struct {
	BaseURL string
	Token   string
}

// Result is everything one Canvas fetch produced.
type Result struct {
	Items   []items.NormalizedItem
	Courses []Course
	// CourseCodes maps lowercased course codes to course names.
	CourseCodes map[string]string
	// ContextCodes maps "course_<id>" to course names.
	ContextCodes map[string]string
	// Strategy names the retrieval path that produced the assignments.
	Strategy string
}

// Config configures an Adapter.
type Config struct {
	Client      *sources.Client
	Clock       func() time.Time
	Concurrency int
	Logger      *zap.Logger
}

// Adapter fetches and normalizes Canvas data.
type Adapter struct {
	client      *sources.Client
	clock       func() time.Time
	concurrency int
	logger      *zap.Logger
}

// NewAdapter builds an Adapter with defaults for unset fields.
func NewAdapter(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		client = sources.NewClient(sources.ClientConfig{Logger: cfg.Logger})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, clock: clock, concurrency: concurrency, logger: logger.Named("canvas")}
}

// Fetch lists active courses and returns normalized assignments and events.
// Only the course listing is fatal; per-course and calendar failures are
// logged and contribute nothing.
func (a *Adapter) Fetch(ctx context.Context, creds Credentials) (Result, error) {
	creds.BaseURL = strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if creds.BaseURL == "" || strings.TrimSpace(creds.Token) == "" {
		return Result{}, ErrMissingCredentials
	}

	courses, err := sources.GetAllPages[Course](ctx, a.client,
		a.endpoint(creds, "/api/v1/courses", url.Values{
			"enrollment_state": {"active"},
			"per_page":         {"50"},
		}), creds.Token)
	if err != nil {
		return Result{}, fmt.Errorf("canvas: list courses: %w", err)
	}

	result := Result{
		Courses:      courses,
		CourseCodes:  make(map[string]string),
		ContextCodes: make(map[string]string),
		Strategy:     StrategyAssignments,
	}
	courseNames := make(map[int64]string, len(courses))
	for _, course := range courses {
		courseNames[course.ID] = course.Name
		result.ContextCodes[course.ContextCode()] = course.Name
		if code := strings.ToLower(strings.TrimSpace(course.CourseCode)); code != "" {
			result.CourseCodes[code] = course.Name
		}
	}

	assignments := a.fetchAssignments(ctx, creds, courses)
	if len(assignments) == 0 && len(courses) > 0 {
		a.logger.Info("standard assignments empty; trying fallback strategies",
			zap.Int("course_count", len(courses)))
		assignments, result.Strategy = a.runFallbacks(ctx, creds, courses)
	}

	submissions := map[int64]submissionRecord{}
	if len(assignments) > 0 {
		submissions = a.fetchSubmissions(ctx, creds, courses)
	}

	now := a.clock()
	for _, record := range assignments {
		result.Items = append(result.Items, normalizeAssignment(record, creds.BaseURL, courseNames, submissions, now))
	}
	for _, event := range a.fetchCalendarEvents(ctx, creds) {
		result.Items = append(result.Items, normalizeEvent(event, creds.BaseURL, result.ContextCodes))
	}
	return result, nil
}

func (a *Adapter) endpoint(creds Credentials, path string, query url.Values) string {
	if len(query) == 0 {
		return creds.BaseURL + path
	}
	return creds.BaseURL + path + "?" + query.Encode()
}

// fetchAssignments lists assignments per course concurrently. A failing
// course contributes nothing.
func (a *Adapter) fetchAssignments(ctx context.Context, creds Credentials, courses []Course) []assignmentRecord {
	perCourse := make([][]assignmentRecord, len(courses))
	var group errgroup.Group
	group.SetLimit(a.concurrency)
	for index, course := range courses {
		group.Go(func() error {
			records, err := sources.GetAllPages[assignmentRecord](ctx, a.client,
				a.endpoint(creds, "/api/v1/courses/"+strconv.FormatInt(course.ID, 10)+"/assignments", url.Values{
					"per_page":  {"100"},
					"order_by":  {"due_at"},
					"include[]": {"observed_users"},
				}), creds.Token)
			if err != nil {
				a.logger.Warn("course assignments fetch failed",
					zap.Int64("course_id", course.ID), zap.Error(err))
				return nil
			}
			for i := range records {
				if records[i].CourseID == 0 {
					records[i].CourseID = course.ID
				}
			}
			perCourse[index] = records
			return nil
		})
	}
	_ = group.Wait()

	var all []assignmentRecord
	for _, records := range perCourse {
		all = append(all, records...)
	}
	return all
}

// fetchSubmissions builds an assignment id to submission map for the caller.
func (a *Adapter) fetchSubmissions(ctx context.Context, creds Credentials, courses []Course) map[int64]submissionRecord {
	var (
		mu          sync.Mutex
		submissions = make(map[int64]submissionRecord)
		group       errgroup.Group
	)
	group.SetLimit(a.concurrency)
	for _, course := range courses {
		group.Go(func() error {
			records, err := sources.GetAllPages[submissionRecord](ctx, a.client,
				a.endpoint(creds, "/api/v1/courses/"+strconv.FormatInt(course.ID, 10)+"/students/submissions", url.Values{
					"student_ids[]": {"self"},
					"per_page":      {"100"},
				}), creds.Token)
			if err != nil {
				a.logger.Warn("course submissions fetch failed",
					zap.Int64("course_id", course.ID), zap.Error(err))
				return nil
			}
			mu.Lock()
			for _, record := range records {
				submissions[record.AssignmentID] = record
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return submissions
}

func (a *Adapter) fetchCalendarEvents(ctx context.Context, creds Credentials) []calendarEventRecord {
	now := a.clock().UTC()
	events, err := sources.GetAllPages[calendarEventRecord](ctx, a.client,
		a.endpoint(creds, "/api/v1/calendar_events", url.Values{
			"start_date": {now.AddDate(0, -1, 0).Format(time.RFC3339)},
			"end_date":   {now.AddDate(0, 6, 0).Format(time.RFC3339)},
			"per_page":   {"100"},
		}), creds.Token)
	if err != nil {
		a.logger.Warn("calendar events fetch failed", zap.Error(err))
		return nil
	}
	kept := events[:0]
	for _, event := range events {
		if event.WorkflowState == "deleted" {
			continue
		}
		kept = append(kept, event)
	}
	return kept
}

func contextCodeFor(courseID int64) string {
	return "course_" + strconv.FormatInt(courseID, 10)
}

func courseIDFromContext(code string) int64 {
	raw, found := strings.CutPrefix(code, "course_")
	if !found {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
