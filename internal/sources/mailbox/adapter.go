// Package mailbox turns Canvas notification e-mails in a Gmail mailbox into
// normalized items.
package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/sources"
)

const (
	// DefaultBaseURL is the public Gmail API root.
	DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	// DefaultSenderQuery selects Canvas notification mail.
	DefaultSenderQuery = "from:notifications@instructure.com OR from:canvas@instructure.com"

	defaultMaxMessages = 20
	searchPageSize     = 50
	defaultConcurrency = 5
	messageLinkPrefix  = "https://mail.google.com/mail/u/0/#inbox/"
)

// ErrMissingToken is returned when no access token is supplied.
var ErrMissingToken = errors.New("mailbox: access token is required")

var (
	quizPattern    = regexp.MustCompile(`(?i)quiz`)
	testPattern    = regexp.MustCompile(`(?i)\b(test|exam|midterm|final)\b`)
	duePattern     = regexp.MustCompile(`(?i)due[:\s]+(\w+\s+\d{1,2},?\s+\d{4}(?:\s+at\s+\d{1,2}:\d{2}\s*(?:AM|PM)?)?)`)
	tagPattern     = regexp.MustCompile(`\[(.+?)\]`)
	courseLine     = regexp.MustCompile(`(?im)^\s*course:\s*(.+)$`)
	replyPrefix    = regexp.MustCompile(`(?i)^((re|fwd?):\s*)+`)
	spaceRun       = regexp.MustCompile(`\s+`)
	looksLikeHTML  = regexp.MustCompile(`<[a-zA-Z!/][^>]*>`)
	textPolicy     = bluemonday.StrictPolicy()
	dueDateLayouts = []string{
		"January 2 2006 3:04 PM",
		"January 2 2006 3:04PM",
		"January 2 2006 15:04",
		"Jan 2 2006 3:04 PM",
		"Jan 2 2006 3:04PM",
		"Jan 2 2006 15:04",
	}
	dueDayLayouts = []string{"January 2 2006", "Jan 2 2006"}
)

type messageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listResponse struct {
	Messages []messageRef `json:"messages"`
}

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type body struct {
	Data string `json:"data"`
}

type part struct {
	MimeType string   `json:"mimeType"`
	Headers  []header `json:"headers"`
	Body     *body    `json:"body"`
	Parts    []part   `json:"parts"`
}

type message struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"`
	Payload      part   `json:"payload"`
}

// Config configures an Adapter.
type Config struct {
	Client      *sources.Client
	BaseURL     string
	SenderQuery string
	// MaxMessages bounds how many search hits are downloaded in full.
	MaxMessages int
	Concurrency int
	Logger      *zap.Logger
}

// Adapter searches a mailbox and parses notification messages.
type Adapter struct {
	client      *sources.Client
	baseURL     string
	query       string
	maxMessages int
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
	query := strings.TrimSpace(cfg.SenderQuery)
	if query == "" {
		query = DefaultSenderQuery
	}
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		client:      client,
		baseURL:     baseURL,
		query:       query,
		maxMessages: maxMessages,
		concurrency: concurrency,
		logger:      logger.Named("mailbox"),
	}
}

// Fetch searches for notification mail and parses each message. A message
// that cannot be downloaded is skipped; only a failed search is fatal. Due
// dates without a time of day fall at 23:59 in location.
func (a *Adapter) Fetch(ctx context.Context, accessToken string, location *time.Location) ([]items.NormalizedItem, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingToken
	}
	if location == nil {
		location = time.UTC
	}

	search := url.Values{
		"q":          {a.query},
		"maxResults": {strconv.Itoa(searchPageSize)},
	}
	var listing listResponse
	if _, err := a.client.GetJSON(ctx, a.baseURL+"/users/me/messages?"+search.Encode(), accessToken, &listing); err != nil {
		return nil, fmt.Errorf("mailbox: search: %w", err)
	}
	refs := listing.Messages
	if len(refs) > a.maxMessages {
		refs = refs[:a.maxMessages]
	}

	messages := make([]*message, len(refs))
	var group errgroup.Group
	group.SetLimit(a.concurrency)
	for index, ref := range refs {
		group.Go(func() error {
			var full message
			endpoint := a.baseURL + "/users/me/messages/" + url.PathEscape(ref.ID) + "?format=full"
			if _, err := a.client.GetJSON(ctx, endpoint, accessToken, &full); err != nil {
				a.logger.Warn("message fetch failed", zap.String("message_id", ref.ID), zap.Error(err))
				return nil
			}
			messages[index] = &full
			return nil
		})
	}
	_ = group.Wait()

	var result []items.NormalizedItem
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if item, ok := parseMessage(*msg, location); ok {
			result = append(result, item)
		}
	}
	a.logger.Info("mailbox messages parsed",
		zap.Int("message_count", len(refs)),
		zap.Int("item_count", len(result)))
	return result, nil
}

// parseMessage reports false when the cleaned subject is empty.
func parseMessage(msg message, location *time.Location) (items.NormalizedItem, bool) {
	subject := headerValue(msg.Payload.Headers, "Subject")
	text := messageText(msg.Payload)

	title := tagPattern.ReplaceAllString(subject, "")
	title = replyPrefix.ReplaceAllString(strings.TrimSpace(title), "")
	title = strings.TrimSpace(spaceRun.ReplaceAllString(title, " "))
	if title == "" || msg.ID == "" {
		return items.NormalizedItem{}, false
	}

	kind := items.KindAssignment
	if quizPattern.MatchString(subject) || quizPattern.MatchString(text) {
		kind = items.KindQuiz
	}
	if testPattern.MatchString(subject) || testPattern.MatchString(text) {
		kind = items.KindTest
	}

	var course string
	if match := tagPattern.FindStringSubmatch(subject); match != nil {
		course = strings.TrimSpace(match[1])
	} else if match := courseLine.FindStringSubmatch(text); match != nil {
		course = strings.TrimSpace(match[1])
	}

	return items.NormalizedItem{
		Title:       title,
		Description: html.UnescapeString(msg.Snippet),
		Kind:        kind,
		DueAt:       parseDue(text, location),
		Source:      items.SourceGmail,
		SourceID:    msg.ID,
		SourceURL:   messageLinkPrefix + msg.ID,
		CourseLabel: course,
		Priority:    items.PriorityMedium,
	}, true
}

func headerValue(headers []header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// messageText returns the first text/plain or text/html part, depth first,
// falling back to the top-level body. HTML is reduced to plain text.
func messageText(payload part) string {
	if found, ok := firstTextPart(payload.Parts); ok {
		return plainText(decodeBody(found.Body.Data), found.MimeType)
	}
	if payload.Body != nil && payload.Body.Data != "" {
		return plainText(decodeBody(payload.Body.Data), payload.MimeType)
	}
	return ""
}

func firstTextPart(parts []part) (part, bool) {
	for _, candidate := range parts {
		if (candidate.MimeType == "text/plain" || candidate.MimeType == "text/html") &&
			candidate.Body != nil && candidate.Body.Data != "" {
			return candidate, true
		}
		if nested, ok := firstTextPart(candidate.Parts); ok {
			return nested, true
		}
	}
	return part{}, false
}

// decodeBody accepts base64url with or without padding and returns "" on
// malformed input.
func decodeBody(data string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(data), "=")
	if decoded, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return string(decoded)
	}
	return ""
}

func plainText(content, mimeType string) string {
	if mimeType != "text/html" && !looksLikeHTML.MatchString(content) {
		return content
	}
	withBreaks := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n", "</div>", "\n", "</tr>", "\n").Replace(content)
	return html.UnescapeString(textPolicy.Sanitize(withBreaks))
}

func parseDue(text string, location *time.Location) *time.Time {
	match := duePattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	raw := strings.ReplaceAll(match[1], ",", " ")
	raw = strings.ToUpper(spaceRun.ReplaceAllString(raw, " "))
	raw = strings.Replace(raw, " AT ", " ", 1)
	raw = strings.TrimSpace(raw)

	for _, layout := range dueDateLayouts {
		if value, err := time.ParseInLocation(layout, raw, location); err == nil {
			value = value.UTC()
			return &value
		}
	}
	for _, layout := range dueDayLayouts {
		if value, err := time.ParseInLocation(layout, raw, location); err == nil {
			value = time.Date(value.Year(), value.Month(), value.Day(), 23, 59, 0, 0, location).UTC()
			return &value
		}
	}
	return nil
}
