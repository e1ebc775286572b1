package calfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/sources"
)

var testNow = time.Date(2025, time.February, 10, 15, 0, 0, 0, time.UTC)

func calendar(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//Test//Feed//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func serveFeed(t *testing.T, body string) (*Adapter, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	adapter := NewAdapter(Config{
		Client: sources.NewClient(sources.ClientConfig{HTTPClient: server.Client()}),
		Clock:  func() time.Time { return testNow },
	})
	return adapter, server.URL + "/feeds/calendars/user_abc.ics"
}

func byID(list []items.NormalizedItem) map[string]items.NormalizedItem {
	index := make(map[string]items.NormalizedItem, len(list))
	for _, item := range list {
		index[item.SourceID] = item
	}
	return index
}

func TestFetchNormalizesFeedEvents(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:quiz-1",
		"DTSTAMP:20250201T000000Z",
		"DTSTART:20250214T055900Z",
		"SUMMARY:BIO 110: Chapter 4 quiz",
		"URL:https://canvas.test/courses/1/assignments/4",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:old-1",
		"DTSTAMP:20250101T000000Z",
		"DTSTART:20250101T055900Z",
		"SUMMARY:Old homework",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:exam-1",
		"DTSTAMP:20250201T000000Z",
		"DTSTART;VALUE=DATE:20250220",
		"SUMMARY:Midterm",
		"CATEGORIES:History",
		"DESCRIPTION:Details at https://canvas.test/exam. Bring pencils",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:read-1",
		"DTSTAMP:20250201T000000Z",
		"DTSTART:20250212T180000Z",
		"SUMMARY:Read latest chapter",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:time-1",
		"DTSTAMP:20250201T000000Z",
		"DTSTART:20250213T180000Z",
		"SUMMARY:10:30 check-in",
		"END:VEVENT",
	)
	adapter, feedURL := serveFeed(t, body)

	result, err := adapter.Fetch(context.Background(), feedURL)
	require.NoError(t, err)
	index := byID(result)
	require.Len(t, index, 4)
	assert.NotContains(t, index, "ical_old-1")

	quiz := index["ical_quiz-1"]
	assert.Equal(t, items.KindQuiz, quiz.Kind)
	assert.Equal(t, "BIO 110", quiz.CourseLabel)
	assert.Equal(t, "Chapter 4 quiz", quiz.Title)
	assert.Equal(t, items.SourceCanvasCalendar, quiz.Source)
	assert.Equal(t, "https://canvas.test/courses/1/assignments/4", quiz.SourceURL)
	require.NotNil(t, quiz.DueAt)
	assert.True(t, quiz.DueAt.Equal(time.Date(2025, 2, 14, 5, 59, 0, 0, time.UTC)))

	exam := index["ical_exam-1"]
	assert.Equal(t, items.KindTest, exam.Kind)
	assert.Equal(t, "History", exam.CourseLabel)
	assert.True(t, exam.AllDay)
	assert.Equal(t, "https://canvas.test/exam", exam.SourceURL)

	reading := index["ical_read-1"]
	assert.Equal(t, items.KindAssignment, reading.Kind, "latest must not match the test keyword")
	assert.Empty(t, reading.CourseLabel)

	checkIn := index["ical_time-1"]
	assert.Equal(t, "10:30 check-in", checkIn.Title)
	assert.Empty(t, checkIn.CourseLabel)
}

func TestFetchExpandsRecurringEvents(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:lec-1",
		"DTSTAMP:20250201T000000Z",
		"DTSTART:20250211T140000Z",
		"DTEND:20250211T150000Z",
		"RRULE:FREQ=WEEKLY;COUNT=3",
		"EXDATE:20250218T140000Z",
		"SUMMARY:[Chem] Lecture review",
		"END:VEVENT",
	)
	adapter, feedURL := serveFeed(t, body)

	result, err := adapter.Fetch(context.Background(), feedURL)
	require.NoError(t, err)
	index := byID(result)
	require.Len(t, index, 2)

	first, ok := index["ical_lec-1_20250211T1400"]
	require.True(t, ok)
	assert.Equal(t, items.KindActivity, first.Kind)
	assert.Equal(t, "Chem", first.CourseLabel)
	assert.Equal(t, "Lecture review", first.Title)
	require.NotNil(t, first.StartAt)
	require.NotNil(t, first.EndAt)
	assert.Equal(t, time.Hour, first.EndAt.Sub(*first.StartAt))
	assert.Nil(t, first.DueAt)

	assert.Contains(t, index, "ical_lec-1_20250225T1400")
	assert.NotContains(t, index, "ical_lec-1_20250218T1400")
}

func TestFetchRejectsMissingAndEmptyFeeds(t *testing.T) {
	adapter, feedURL := serveFeed(t, "")

	_, err := adapter.Fetch(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingFeedURL)

	_, err = adapter.Fetch(context.Background(), feedURL)
	assert.ErrorIs(t, err, errEmptyFeed)
}

func TestSplitCoursePrefix(t *testing.T) {
	cases := []struct {
		summary, course, title string
	}{
		{"ENG 101: Essay draft", "ENG 101", "Essay draft"},
		{"[Algebra] Worksheet 3", "Algebra", "Worksheet 3"},
		{"Essay draft", "", "Essay draft"},
		{"Reminder:", "", "Reminder:"},
		{"12: chapter", "", "12: chapter"},
	}
	for _, tc := range cases {
		course, title := splitCoursePrefix(tc.summary)
		assert.Equal(t, tc.course, course, tc.summary)
		assert.Equal(t, tc.title, title, tc.summary)
	}
}
