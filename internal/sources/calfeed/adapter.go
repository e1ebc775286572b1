// Package calfeed turns a Canvas iCalendar feed into normalized items.
package calfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/sources"
)

const (
	defaultHorizon   = 180 * 24 * time.Hour
	lookback         = 7 * 24 * time.Hour
	maxOccurrences   = 500
	instanceIDLayout = "20060102T1504"
)

var (
	// ErrMissingFeedURL is returned when no feed URL is configured.
	ErrMissingFeedURL = errors.New("calfeed: feed url is required")
	errEmptyFeed      = errors.New("calfeed: empty feed")
)

var (
	quizPattern       = regexp.MustCompile(`\bquiz`)
	testPattern       = regexp.MustCompile(`\b(test|exam|midterm|final)`)
	assignmentPattern = regexp.MustCompile(`\b(assignment|homework|due|submit)`)
	activityPattern   = regexp.MustCompile(`\b(event|meeting|class|lecture)`)

	colonPrefixPattern   = regexp.MustCompile(`^([^:\[\]]+):\s*(.+)$`)
	bracketPrefixPattern = regexp.MustCompile(`^\[([^\]]+)\]\s*(.+)$`)
	hasLetter            = regexp.MustCompile(`\p{L}`)
	linkPattern          = regexp.MustCompile(`https?://[^\s<>"]+`)

	textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
)

// Config configures an Adapter.
type Config struct {
	Client *sources.Client
	Clock  func() time.Time
	// Horizon bounds how far ahead recurring events are expanded.
	Horizon time.Duration
	Logger  *zap.Logger
}

// Adapter fetches and normalizes an iCalendar feed.
type Adapter struct {
	client  *sources.Client
	clock   func() time.Time
	horizon time.Duration
	logger  *zap.Logger
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
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, clock: clock, horizon: horizon, logger: logger.Named("calfeed")}
}

// Fetch downloads the feed and returns items starting no earlier than seven
// days ago. Recurring events are expanded up to the horizon.
func (a *Adapter) Fetch(ctx context.Context, feedURL string) ([]items.NormalizedItem, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, ErrMissingFeedURL
	}
	if rest, found := strings.CutPrefix(feedURL, "webcal://"); found {
		feedURL = "https://" + rest
	}

	body, err := a.client.GetBytes(ctx, feedURL, "")
	if err != nil {
		return nil, fmt.Errorf("calfeed: download: %w", err)
	}
	events, err := a.parse(body)
	if err != nil {
		return nil, fmt.Errorf("calfeed: parse: %w", err)
	}

	now := a.clock()
	windowStart := now.Add(-lookback)
	windowEnd := now.Add(a.horizon)
	var result []items.NormalizedItem
	for _, event := range events {
		for _, occurrence := range a.occurrences(event, windowStart, windowEnd) {
			result = append(result, normalize(occurrence))
		}
	}
	a.logger.Info("calendar feed parsed",
		zap.Int("event_count", len(events)),
		zap.Int("item_count", len(result)))
	return result, nil
}

type feedEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	URL         string
	Categories  []string
	Start       time.Time
	End         time.Time
	AllDay      bool
	RRule       string
	ExDates     []time.Time
}

type occurrence struct {
	feedEvent
	// InstanceID is empty for single events.
	InstanceID string
}

func (a *Adapter) parse(body []byte) ([]feedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errEmptyFeed
	}
	calendar, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var events []feedEvent
	for _, component := range calendar.Events() {
		event, err := parseEvent(component)
		if err != nil {
			a.logger.Debug("skipping calendar event", zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func parseEvent(component *ical.VEvent) (feedEvent, error) {
	var event feedEvent
	uid := component.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return event, errors.New("missing UID")
	}
	event.UID = strings.TrimSpace(uid.Value)

	start, err := component.GetStartAt()
	if err != nil {
		return event, fmt.Errorf("event %s: %w", event.UID, err)
	}
	event.Start = start
	if end, err := component.GetEndAt(); err == nil {
		event.End = end
	}

	event.Summary = propertyText(component, ical.ComponentPropertySummary)
	if event.Summary == "" {
		event.Summary = "Untitled Event"
	}
	event.Description = propertyText(component, ical.ComponentPropertyDescription)
	event.Location = propertyText(component, ical.ComponentPropertyLocation)
	event.URL = propertyText(component, "URL")
	if event.URL == "" {
		event.URL = strings.TrimRight(linkPattern.FindString(event.Description), ".,;:)")
	}
	for _, property := range component.GetProperties("CATEGORIES") {
		for _, category := range strings.Split(property.Value, ",") {
			if category = strings.TrimSpace(textUnescaper.Replace(category)); category != "" {
				event.Categories = append(event.Categories, category)
			}
		}
	}

	if dtStart := component.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if values, ok := dtStart.ICalParameters["VALUE"]; ok && len(values) > 0 && strings.EqualFold(values[0], "DATE") {
			event.AllDay = true
		}
		if !strings.Contains(dtStart.Value, "T") {
			event.AllDay = true
		}
	}

	if rule := component.GetProperty(ical.ComponentPropertyRrule); rule != nil {
		event.RRule = strings.TrimSpace(rule.Value)
	}
	for _, property := range component.GetProperties(ical.ComponentPropertyExdate) {
		for _, raw := range strings.Split(property.Value, ",") {
			if value, err := parseICSTime(raw, event.Start.Location()); err == nil {
				event.ExDates = append(event.ExDates, value)
			}
		}
	}
	return event, nil
}

func propertyText(component *ical.VEvent, property ical.ComponentProperty) string {
	value := component.GetProperty(property)
	if value == nil {
		return ""
	}
	return strings.TrimSpace(textUnescaper.Replace(value.Value))
}

func parseICSTime(raw string, location *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(raw, "Z"):
		return time.Parse("20060102T150405Z", raw)
	case strings.Contains(raw, "T"):
		return time.ParseInLocation("20060102T150405", raw, location)
	default:
		return time.ParseInLocation("20060102", raw, location)
	}
}

// occurrences returns the event itself when it is single and inside the
// window, or every recurrence instance between windowStart and windowEnd.
func (a *Adapter) occurrences(event feedEvent, windowStart, windowEnd time.Time) []occurrence {
	if event.RRule == "" {
		if event.Start.Before(windowStart) {
			return nil
		}
		return []occurrence{{feedEvent: event}}
	}

	rule, err := rrule.StrToRRule(event.RRule)
	if err != nil {
		a.logger.Debug("invalid RRULE; keeping first instance",
			zap.String("uid", event.UID), zap.Error(err))
		if event.Start.Before(windowStart) {
			return nil
		}
		return []occurrence{{feedEvent: event}}
	}
	rule.DTStart(event.Start)
	var set rrule.Set
	set.RRule(rule)
	for _, excluded := range event.ExDates {
		set.ExDate(excluded.In(event.Start.Location()))
	}

	starts := set.Between(windowStart.In(event.Start.Location()), windowEnd.In(event.Start.Location()), true)
	if len(starts) > maxOccurrences {
		starts = starts[:maxOccurrences]
	}
	var duration time.Duration
	if !event.End.IsZero() {
		duration = event.End.Sub(event.Start)
	}
	result := make([]occurrence, 0, len(starts))
	for _, start := range starts {
		instance := event
		instance.Start = start
		if duration > 0 {
			instance.End = start.Add(duration)
		}
		result = append(result, occurrence{
			feedEvent:  instance,
			InstanceID: start.UTC().Format(instanceIDLayout),
		})
	}
	return result
}

// classify picks a kind from title, description and categories.
func classify(event feedEvent) items.Kind {
	text := strings.ToLower(event.Summary + " " + event.Description + " " + strings.Join(event.Categories, " "))
	switch {
	case quizPattern.MatchString(text):
		return items.KindQuiz
	case testPattern.MatchString(text):
		return items.KindTest
	case assignmentPattern.MatchString(text):
		return items.KindAssignment
	case activityPattern.MatchString(text):
		return items.KindActivity
	default:
		return items.KindAssignment
	}
}

// splitCoursePrefix separates a leading "Course:" or "[Course]" from the title.
func splitCoursePrefix(summary string) (string, string) {
	for _, pattern := range []*regexp.Regexp{bracketPrefixPattern, colonPrefixPattern} {
		match := pattern.FindStringSubmatch(summary)
		if match == nil {
			continue
		}
		course := strings.TrimSpace(match[1])
		rest := strings.TrimSpace(match[2])
		if course == "" || rest == "" || !hasLetter.MatchString(course) || strings.Contains(course, "://") {
			continue
		}
		return course, rest
	}
	return "", summary
}

func normalize(event occurrence) items.NormalizedItem {
	course, title := splitCoursePrefix(event.Summary)
	if course == "" && len(event.Categories) > 0 {
		course = event.Categories[0]
	}
	kind := classify(event.feedEvent)

	sourceID := "ical_" + event.UID
	if event.InstanceID != "" {
		sourceID += "_" + event.InstanceID
	}
	item := items.NormalizedItem{
		Title:       title,
		Description: event.Description,
		Kind:        kind,
		AllDay:      event.AllDay,
		Source:      items.SourceCanvasCalendar,
		SourceID:    sourceID,
		SourceURL:   event.URL,
		CourseLabel: course,
		Priority:    items.PriorityMedium,
	}
	start := event.Start.UTC()
	if kind == items.KindActivity {
		item.StartAt = &start
		if !event.End.IsZero() && !event.End.Before(event.Start) {
			end := event.End.UTC()
			item.EndAt = &end
		}
	} else {
		item.DueAt = &start
	}
	return item
}
