package classroom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/sources"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAdapter(Config{
		Client:  sources.NewClient(sources.ClientConfig{HTTPClient: server.Client()}),
		BaseURL: server.URL,
	})
}

func TestFetchPagesCourseWorkAndNormalizes(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/courses":
			assert.Equal(t, "ACTIVE", r.URL.Query().Get("courseStates"))
			_, _ = w.Write([]byte(`{"courses":[{"id":"c1","name":"Algebra II"},{"id":"c2","name":"Broken"}]}`))
		case "/v1/courses/c1/courseWork":
			assert.Equal(t, "dueDate desc", r.URL.Query().Get("orderBy"))
			if r.URL.Query().Get("pageToken") == "" {
				_, _ = w.Write([]byte(`{"courseWork":[
					{"id":"w1","courseId":"c1","title":"Problem set 5","state":"PUBLISHED","workType":"ASSIGNMENT",
					 "alternateLink":"https://classroom.google.com/c/c1/a/w1",
					 "dueDate":{"year":2025,"month":3,"day":4},"dueTime":{"hours":17,"minutes":30}},
					{"id":"w2","courseId":"c1","title":"Draft","state":"DRAFT","workType":"ASSIGNMENT"}
				],"nextPageToken":"p2"}`))
				return
			}
			_, _ = w.Write([]byte(`{"courseWork":[
				{"id":"w3","courseId":"c1","title":"Check-in question","state":"PUBLISHED","workType":"MULTIPLE_CHOICE_QUESTION",
				 "dueDate":{"year":2025,"month":3,"day":5}},
				{"id":"w4","courseId":"c1","title":"Reading","state":"PUBLISHED","workType":"MATERIAL"}
			]}`))
		case "/v1/courses/c2/courseWork":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	result, err := adapter.Fetch(context.Background(), "access", chicago)
	require.NoError(t, err)
	require.Len(t, result, 3)

	index := map[string]items.NormalizedItem{}
	for _, item := range result {
		index[item.SourceID] = item
	}

	set := index["c1_w1"]
	assert.Equal(t, items.KindAssignment, set.Kind)
	assert.Equal(t, items.SourceClassroom, set.Source)
	assert.Equal(t, "Algebra II", set.CourseLabel)
	require.NotNil(t, set.DueAt)
	assert.True(t, set.DueAt.Equal(time.Date(2025, 3, 4, 17, 30, 0, 0, time.UTC)))

	question := index["c1_w3"]
	assert.Equal(t, items.KindQuiz, question.Kind)
	require.NotNil(t, question.DueAt)
	assert.True(t, question.DueAt.Equal(time.Date(2025, 3, 5, 23, 59, 0, 0, chicago)))

	assert.Nil(t, index["c1_w4"].DueAt)
	assert.NotContains(t, index, "c1_w2")
}

func TestFetchFailsOnCourseListingAndMissingToken(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := adapter.Fetch(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = adapter.Fetch(context.Background(), "expired", nil)
	require.Error(t, err)
	assert.True(t, sources.HasStatus(err, http.StatusUnauthorized))
}

func TestDueAtUsesZeroForMissingTimeParts(t *testing.T) {
	hours := 9
	value := dueAt(&date{Year: 2025, Month: 1, Day: 2}, &timeOfDay{Hours: &hours}, time.UTC)
	require.NotNil(t, value)
	assert.Equal(t, time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), *value)
	assert.Nil(t, dueAt(&date{Year: 2025}, nil, time.UTC))
}
