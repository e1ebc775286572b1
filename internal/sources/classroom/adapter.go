// Package classroom pulls published coursework from the Google Classroom API.
package classroom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/sources"
)

const (
	// DefaultBaseURL is the public Classroom API host.
	DefaultBaseURL     = "https://classroom.googleapis.com"
	defaultConcurrency = 4
	maxPages           = 50
)

// ErrMissingToken is returned when no access token is supplied.
var ErrMissingToken = errors.New("classroom: access token is required")

type course struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Section     string `json:"section"`
	CourseState string `json:"courseState"`
}

type date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

type timeOfDay struct {
	Hours   *int `json:"hours"`
	Minutes *int `json:"minutes"`
}

type courseWork struct {
	ID            string     `json:"id"`
	CourseID      string     `json:"courseId"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	State         string     `json:"state"`
	AlternateLink string     `json:"alternateLink"`
	WorkType      string     `json:"workType"`
	DueDate       *date      `json:"dueDate"`
	DueTime       *timeOfDay `json:"dueTime"`
}

type coursesPage struct {
	Courses       []course `json:"courses"`
	NextPageToken string   `json:"nextPageToken"`
}

type courseWorkPage struct {
	CourseWork    []courseWork `json:"courseWork"`
	NextPageToken string       `json:"nextPageToken"`
}

// Config configures an Adapter.
type Config struct {
	Client      *sources.Client
	BaseURL     string
	Concurrency int
	Logger      *zap.Logger
}

// Adapter fetches and normalizes Classroom coursework.
type Adapter struct {
	client      *sources.Client
	baseURL     string
	concurrency int
	logger      *zap.Logger
}

// NewAdapter builds an Adapter with defaults for unset fields.
func NewAdapter(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		client = sources.NewClient(sources.ClientConfig{Logger: cfg.Logger})
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, baseURL: baseURL, concurrency: concurrency, logger: logger.Named("classroom")}
}

// Fetch lists active courses and their published coursework. A coursework
// entry without a due time is due at 23:59 in location.
func (a *Adapter) Fetch(ctx context.Context, accessToken string, location *time.Location) ([]items.NormalizedItem, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingToken
	}
	if location == nil {
		location = time.UTC
	}

	courses, err := a.listCourses(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("classroom: list courses: %w", err)
	}

	perCourse := make([][]items.NormalizedItem, len(courses))
	var group errgroup.Group
	group.SetLimit(a.concurrency)
	for index, entry := range courses {
		group.Go(func() error {
			work, err := a.listCourseWork(ctx, accessToken, entry.ID)
			if err != nil {
				a.logger.Warn("course work fetch failed",
					zap.String("course_id", entry.ID), zap.Error(err))
				return nil
			}
			for _, record := range work {
				if record.State != "" && record.State != "PUBLISHED" {
					continue
				}
				perCourse[index] = append(perCourse[index], normalize(record, entry, location))
			}
			return nil
		})
	}
	_ = group.Wait()

	var result []items.NormalizedItem
	for _, batch := range perCourse {
		result = append(result, batch...)
	}
	a.logger.Info("classroom coursework fetched",
		zap.Int("course_count", len(courses)),
		zap.Int("item_count", len(result)))
	return result, nil
}

func (a *Adapter) listCourses(ctx context.Context, token string) ([]course, error) {
	var all []course
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{"courseStates": {"ACTIVE"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var batch coursesPage
		if _, err := a.client.GetJSON(ctx, a.baseURL+"/v1/courses?"+query.Encode(), token, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch.Courses...)
		if pageToken = batch.NextPageToken; pageToken == "" {
			break
		}
	}
	return all, nil
}

func (a *Adapter) listCourseWork(ctx context.Context, token, courseID string) ([]courseWork, error) {
	var all []courseWork
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		query := url.Values{"orderBy": {"dueDate desc"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		endpoint := a.baseURL + "/v1/courses/" + url.PathEscape(courseID) + "/courseWork?" + query.Encode()
		var batch courseWorkPage
		if _, err := a.client.GetJSON(ctx, endpoint, token, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch.CourseWork...)
		if pageToken = batch.NextPageToken; pageToken == "" {
			break
		}
	}
	return all, nil
}

func kindFor(workType string) items.Kind {
	switch workType {
	case "SHORT_ANSWER_QUESTION", "MULTIPLE_CHOICE_QUESTION":
		return items.KindQuiz
	default:
		return items.KindAssignment
	}
}

// dueAt combines the API's date and time parts. A given time is UTC; a
// missing time means the end of the day in location.
func dueAt(due *date, at *timeOfDay, location *time.Location) *time.Time {
	if due == nil || due.Year == 0 || due.Month == 0 || due.Day == 0 {
		return nil
	}
	if at == nil {
		value := time.Date(due.Year, time.Month(due.Month), due.Day, 23, 59, 0, 0, location).UTC()
		return &value
	}
	hours, minutes := 0, 0
	if at.Hours != nil {
		hours = *at.Hours
	}
	if at.Minutes != nil {
		minutes = *at.Minutes
	}
	value := time.Date(due.Year, time.Month(due.Month), due.Day, hours, minutes, 0, 0, time.UTC)
	return &value
}

func normalize(record courseWork, entry course, location *time.Location) items.NormalizedItem {
	courseID := record.CourseID
	if courseID == "" {
		courseID = entry.ID
	}
	return items.NormalizedItem{
		Title:       record.Title,
		Description: record.Description,
		Kind:        kindFor(record.WorkType),
		DueAt:       dueAt(record.DueDate, record.DueTime, location),
		Source:      items.SourceClassroom,
		SourceID:    courseID + "_" + record.ID,
		SourceURL:   record.AlternateLink,
		CourseLabel: entry.Name,
		Priority:    items.PriorityMedium,
	}
}
