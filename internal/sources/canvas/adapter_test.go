package canvas

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/sources"
)

var testNow = time.Date(2025, time.February, 10, 15, 0, 0, 0, time.UTC)

type fakeCanvas struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]int
	hits      map[string]int
}

func newFakeCanvas() *fakeCanvas {
	return &fakeCanvas{responses: map[string]string{}, failures: map[string]int{}, hits: map[string]int{}}
}

// key identifies a request by path plus the query parameters that select a
// different resource on the same path.
func requestKey(r *http.Request) string {
	key := r.URL.Path
	query := r.URL.Query()
	if query.Get("type") == "assignment" {
		key += "?type=assignment"
	}
	if observed := query.Get("observed_user_id"); observed != "" {
		key += "?observed_user_id=" + observed
	}
	return key
}

func (f *fakeCanvas) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer secret-token" {
		http.Error(w, `{"errors":[{"message":"Invalid access token."}]}`, http.StatusUnauthorized)
		return
	}
	key := requestKey(r)
	f.mu.Lock()
	f.hits[key]++
	status, failing := f.failures[key]
	body, ok := f.responses[key]
	f.mu.Unlock()

	if failing {
		http.Error(w, "failure", status)
		return
	}
	if !ok {
		body = "[]"
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeCanvas) hitCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

func newTestAdapter(t *testing.T, fake *fakeCanvas) (*Adapter, Credentials) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	adapter := NewAdapter(Config{
		Client: sources.NewClient(sources.ClientConfig{HTTPClient: server.Client()}),
		Clock:  func() time.Time { return testNow },
	})
	return adapter, Credentials{BaseURL: server.URL + "/", Token: "secret-token"}
}

const twoCourses = `[
	{"id": 101, "name": "Biology Honors", "course_code": "SCI11200B"},
	{"id": 202, "name": "World History", "course_code": "HIST2200"}
]`

func findItem(t *testing.T, list []items.NormalizedItem, sourceID string) items.NormalizedItem {
	t.Helper()
	for _, item := range list {
		if item.SourceID == sourceID {
			return item
		}
	}
	t.Fatalf("item %s not found in %d items", sourceID, len(list))
	return items.NormalizedItem{}
}

func TestFetchStandardAssignmentsWithSubmissionsAndEvents(t *testing.T) {
	fake := newFakeCanvas()
	fake.responses["/api/v1/courses"] = twoCourses
	fake.responses["/api/v1/courses/101/assignments"] = `[
		{"id": 1, "name": "Cell essay", "due_at": "2025-02-14T05:59:00Z", "course_id": 101, "html_url": "/courses/101/assignments/1", "submission_types": ["online_upload"]},
		{"id": 2, "name": "Cell quiz", "due_at": "2025-02-15T05:59:00Z", "course_id": 101, "html_url": "https://canvas.test/courses/101/assignments/2", "submission_types": ["online_quiz"]}
	]`
	fake.failures["/api/v1/courses/202/assignments"] = http.StatusForbidden
	fake.responses["/api/v1/courses/101/students/submissions"] = `[
		{"id": 9, "assignment_id": 1, "workflow_state": "graded", "submitted_at": "2025-02-09T20:00:00Z"},
		{"id": 10, "assignment_id": 2, "workflow_state": "unsubmitted", "submitted_at": null}
	]`
	fake.responses["/api/v1/calendar_events"] = `[
		{"id": 55, "title": "Lab day", "start_at": "2025-02-12T14:00:00Z", "end_at": "2025-02-12T15:00:00Z", "context_code": "course_202", "workflow_state": "active", "html_url": "/calendar?event_id=55", "all_day": false},
		{"id": 56, "title": "Club fair", "start_at": "2025-02-13T14:00:00Z", "context_code": "group_7", "workflow_state": "active", "html_url": "", "all_day": true}
	]`

	adapter, creds := newTestAdapter(t, fake)
	result, err := adapter.Fetch(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, StrategyAssignments, result.Strategy)
	assert.Len(t, result.Courses, 2)
	assert.Equal(t, "Biology Honors", result.CourseCodes["sci11200b"])
	assert.Equal(t, "World History", result.ContextCodes["course_202"])
	require.Len(t, result.Items, 4)

	essay := findItem(t, result.Items, "assignment_1")
	assert.Equal(t, items.KindAssignment, essay.Kind)
	assert.Equal(t, "Biology Honors", essay.CourseLabel)
	assert.Equal(t, "course_101", essay.ContextCode)
	assert.Equal(t, strings.TrimSuffix(creds.BaseURL, "/")+"/courses/101/assignments/1", essay.SourceURL)
	assert.Equal(t, items.StatusCompleted, essay.Status)
	require.NotNil(t, essay.CompletedAt)
	assert.True(t, essay.CompletedAt.Equal(time.Date(2025, 2, 9, 20, 0, 0, 0, time.UTC)))

	quiz := findItem(t, result.Items, "assignment_2")
	assert.Equal(t, items.KindQuiz, quiz.Kind)
	assert.Empty(t, quiz.Status)

	lab := findItem(t, result.Items, "event_55")
	assert.Equal(t, items.KindActivity, lab.Kind)
	assert.Equal(t, "World History", lab.CourseLabel)
	require.NotNil(t, lab.StartAt)

	fair := findItem(t, result.Items, "event_56")
	assert.Empty(t, fair.CourseLabel)
	assert.Equal(t, "group_7", fair.ContextCode)
	assert.True(t, fair.AllDay)

	assert.Zero(t, fake.hitCount("/api/v1/planner/items"))
}

func TestFetchFailsWhenCourseListingFails(t *testing.T) {
	fake := newFakeCanvas()
	adapter, creds := newTestAdapter(t, fake)
	creds.Token = "wrong"

	_, err := adapter.Fetch(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, sources.HasStatus(err, http.StatusUnauthorized))

	_, err = adapter.Fetch(context.Background(), Credentials{})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestFallbackStopsAtPlanner(t *testing.T) {
	fake := newFakeCanvas()
	fake.responses["/api/v1/courses"] = twoCourses
	fake.responses["/api/v1/planner/items"] = `[
		{"plannable_id": 31, "plannable_type": "quiz", "course_id": 101, "html_url": "/courses/101/quizzes/31",
		 "plannable": {"title": "Unit quiz", "due_at": "2025-02-20T05:59:00Z", "html_url": "/courses/101/assignments/31"}},
		{"plannable_id": 32, "plannable_type": "calendar_event", "course_id": 101,
		 "plannable": {"title": "Assembly"}},
		{"plannable_id": 33, "plannable_type": "discussion_topic", "course_id": 202, "html_url": "/courses/202/discussion_topics/33",
		 "plannable_date": "2025-02-21T05:59:00Z", "plannable": {"title": "Debate prep"}}
	]`

	adapter, creds := newTestAdapter(t, fake)
	result, err := adapter.Fetch(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, StrategyPlanner, result.Strategy)
	require.Len(t, result.Items, 2)
	quiz := findItem(t, result.Items, "assignment_31")
	assert.Equal(t, items.KindQuiz, quiz.Kind)
	assert.Equal(t, "Biology Honors", quiz.CourseLabel)

	debate := findItem(t, result.Items, "assignment_33")
	require.NotNil(t, debate.DueAt, "plannable_date is the due-date fallback")
	assert.Contains(t, debate.SourceURL, "/courses/202/discussion_topics/33")

	assert.Zero(t, fake.hitCount("/api/v1/calendar_events?type=assignment"))
	assert.Zero(t, fake.hitCount("/api/v1/users/self/observees"))
}

func TestFallbackUsesAssignmentCalendarEvents(t *testing.T) {
	fake := newFakeCanvas()
	fake.responses["/api/v1/courses"] = twoCourses
	fake.responses["/api/v1/calendar_events?type=assignment"] = `[
		{"id": 9001, "title": "Map project", "start_at": "2025-02-18T05:59:00Z", "context_code": "course_202", "html_url": "https://canvas.test/courses/202/assignments/77"},
		{"id": 9002, "title": "Orphan", "start_at": "2025-02-18T05:59:00Z", "context_code": "user_5", "html_url": ""}
	]`

	adapter, creds := newTestAdapter(t, fake)
	result, err := adapter.Fetch(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, StrategyCalendarAssignments, result.Strategy)
	require.Len(t, result.Items, 1)
	project := result.Items[0]
	assert.Equal(t, "assignment_77", project.SourceID)
	assert.Equal(t, "World History", project.CourseLabel)
	assert.Equal(t, 1, fake.hitCount("/api/v1/planner/items"))
	assert.Zero(t, fake.hitCount("/api/v1/users/self/observees"))
}

func TestFallbackWalksObserveesUntilOneHasItems(t *testing.T) {
	fake := newFakeCanvas()
	fake.responses["/api/v1/courses"] = twoCourses
	fake.responses["/api/v1/users/self/observees"] = `[{"id": 1, "name": "First"}, {"id": 2, "name": "Second"}, {"id": 3, "name": "Third"}]`
	fake.responses["/api/v1/planner/items?observed_user_id=2"] = `[
		{"plannable_id": 41, "plannable_type": "assignment", "course_id": 101, "plannable": {"title": "Worksheet", "due_at": "2025-02-19T05:59:00Z"}}
	]`

	adapter, creds := newTestAdapter(t, fake)
	result, err := adapter.Fetch(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, StrategyObserveePlanner, result.Strategy)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "assignment_41", result.Items[0].SourceID)
	assert.Equal(t, 1, fake.hitCount("/api/v1/planner/items?observed_user_id=1"))
	assert.Zero(t, fake.hitCount("/api/v1/planner/items?observed_user_id=3"))
}

func TestFallbackAllEmptyIsNotAnError(t *testing.T) {
	fake := newFakeCanvas()
	fake.responses["/api/v1/courses"] = twoCourses
	fake.failures["/api/v1/users/self/observees"] = http.StatusUnauthorized

	adapter, creds := newTestAdapter(t, fake)
	result, err := adapter.Fetch(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, StrategyNone, result.Strategy)
	assert.Empty(t, result.Items)
	assert.Zero(t, fake.hitCount("/api/v1/courses/101/students/submissions"))
}
