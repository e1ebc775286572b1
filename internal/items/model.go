package items

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Kind classifies what an item represents on the student's calendar.
type Kind string

const (
	KindAssignment Kind = "assignment"
	KindTest       Kind = "test"
	KindQuiz       Kind = "quiz"
	KindActivity   Kind = "activity"
	KindTask       Kind = "task"
)

// Valid reports whether the kind is one of the supported values.
func (k Kind) Valid() bool {
	switch k {
	case KindAssignment, KindTest, KindQuiz, KindActivity, KindTask:
		return true
	default:
		return false
	}
}

// Source identifies where an item came from.
type Source string

const (
	// SourceCanvas covers items pulled from the Canvas REST API.
	SourceCanvas Source = "canvas"
	// SourceCanvasCalendar covers items pulled from a Canvas iCal feed.
	SourceCanvasCalendar Source = "canvas_calendar"
	// SourceClassroom covers Google Classroom coursework.
	SourceClassroom Source = "google_classroom"
	// SourceGmail covers notification emails found in the mailbox.
	SourceGmail Source = "gmail"
	// SourceManual marks items created directly by the user.
	SourceManual Source = "manual"
)

// ParseSource validates raw input and returns a Source.
func ParseSource(raw string) (Source, error) {
	switch source := Source(strings.ToLower(strings.TrimSpace(raw))); source {
	case SourceCanvas, SourceCanvasCalendar, SourceClassroom, SourceGmail, SourceManual:
		return source, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
}

// Status is the lifecycle state of a persisted item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether the status is one of the supported values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority ranks items for the user.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Effort is a coarse time estimate.
type Effort string

const (
	Effort10m  Effort = "10m"
	Effort30m  Effort = "30m"
	Effort1h   Effort = "1h"
	Effort2h   Effort = "2h"
	Effort3hUp Effort = "3h+"
)

// Valid reports whether the effort is empty or one of the supported values.
func (e Effort) Valid() bool {
	switch e {
	case "", Effort10m, Effort30m, Effort1h, Effort2h, Effort3hUp:
		return true
	default:
		return false
	}
}

// SubStep is a user-managed checklist entry attached to an item.
type SubStep struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

var (
	// ErrInvalidItem indicates that an item failed validation.
	ErrInvalidItem = errors.New("items: invalid item")
	// ErrInvalidSource indicates an unknown source value.
	ErrInvalidSource = errors.New("items: invalid source")
	// ErrInvalidRule indicates that a categorization rule failed validation.
	ErrInvalidRule = errors.New("items: invalid rule")
	// ErrNotFound indicates that the requested row does not exist for the user.
	ErrNotFound = errors.New("items: not found")
)

// NormalizedItem is the shape every source adapter produces before persistence.
type NormalizedItem struct {
	Title       string
	Description string
	Kind        Kind
	DueAt       *time.Time
	StartAt     *time.Time
	EndAt       *time.Time
	AllDay      bool
	Source      Source
	SourceID    string
	SourceURL   string
	CourseLabel string
	// ContextCode is the provider's opaque course reference, kept so later
	// runs can resolve it through context_code rules.
	ContextCode string
	Priority    Priority
	Effort      Effort
	Steps       []SubStep

	// Status and CompletedAt are completion hints inferred from submissions.
	// They are ignored for rows the user has locked.
	Status      Status
	CompletedAt *time.Time
}

var (
	minItemTime = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxItemTime = time.Date(2200, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Validate checks the fields every stored item needs.
func (item NormalizedItem) Validate() error {
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidItem)
	}
	if !item.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, item.Kind)
	}
	if item.Status != "" && !item.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidItem, item.Status)
	}
	if !item.Effort.Valid() {
		return fmt.Errorf("%w: unknown effort %q", ErrInvalidItem, item.Effort)
	}
	for name, value := range map[string]*time.Time{"due date": item.DueAt, "start time": item.StartAt, "end time": item.EndAt} {
		if value == nil {
			continue
		}
		if value.Before(minItemTime) || !value.Before(maxItemTime) {
			return fmt.Errorf("%w: %s out of range: %s", ErrInvalidItem, name, value.Format(time.RFC3339))
		}
	}
	if item.StartAt != nil && item.EndAt != nil && item.EndAt.Before(*item.StartAt) {
		return fmt.Errorf("%w: end time before start time", ErrInvalidItem)
	}
	return nil
}

// Item is the persisted calendar item.
type Item struct {
	ID          string         `gorm:"column:id;primaryKey;size:64;not null"`
	UserID      string         `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_items_user_source_ref,priority:1;index:idx_items_user_due,priority:1"`
	Source      Source         `gorm:"column:source;size:32;not null;uniqueIndex:idx_items_user_source_ref,priority:2"`
	SourceID    *string        `gorm:"column:source_id;size:512;uniqueIndex:idx_items_user_source_ref,priority:3"`
	Title       string         `gorm:"column:title;type:text;not null"`
	Description string         `gorm:"column:description;type:text;not null;default:''"`
	Kind        Kind           `gorm:"column:kind;size:32;not null"`
	DueAt       *time.Time     `gorm:"column:due_at;index:idx_items_user_due,priority:2"`
	StartAt     *time.Time     `gorm:"column:start_at"`
	EndAt       *time.Time     `gorm:"column:end_at"`
	AllDay      bool           `gorm:"column:all_day;not null;default:false"`
	SourceURL   string         `gorm:"column:source_url;size:2048;not null;default:''"`
	CourseLabel string         `gorm:"column:course_label;size:320;not null;default:''"`
	ContextCode string         `gorm:"column:context_code;size:190;not null;default:''"`
	Priority    Priority       `gorm:"column:priority;size:16;not null;default:'medium'"`
	Effort      Effort         `gorm:"column:effort;size:8;not null;default:''"`
	Steps       datatypes.JSON `gorm:"column:steps"`
	Status      Status         `gorm:"column:status;size:32;not null;default:'pending'"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	Notes       string         `gorm:"column:notes;type:text;not null;default:''"`
	// StatusLocked is set once the user edits status directly; sync never
	// overwrites Status or CompletedAt while it is true.
	StatusLocked bool      `gorm:"column:status_locked;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "items"
}

// ExternalID returns the source id or an empty string for manual items.
func (item Item) ExternalID() string {
	if item.SourceID == nil {
		return ""
	}
	return *item.SourceID
}

// SubSteps decodes the stored checklist.
func (item Item) SubSteps() []SubStep {
	if len(item.Steps) == 0 {
		return nil
	}
	var steps []SubStep
	if err := json.Unmarshal(item.Steps, &steps); err != nil {
		return nil
	}
	return steps
}

func encodeSteps(steps []SubStep) (datatypes.JSON, error) {
	if steps == nil {
		steps = []SubStep{}
	}
	encoded, err := json.Marshal(steps)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

// MatchType selects how a rule is evaluated.
type MatchType string

const (
	MatchTitleContains  MatchType = "title_contains"
	MatchTitlePrefix    MatchType = "title_prefix"
	MatchSourceIDPrefix MatchType = "source_id_prefix"
	MatchContextCode    MatchType = "context_code"
)

// Valid reports whether the match type is supported.
func (m MatchType) Valid() bool {
	switch m {
	case MatchTitleContains, MatchTitlePrefix, MatchSourceIDPrefix, MatchContextCode:
		return true
	default:
		return false
	}
}

// Rule maps a match condition to a course label.
type Rule struct {
	ID            string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID        string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_rules_user_match,priority:1"`
	MatchType     MatchType `gorm:"column:match_type;size:32;not null;uniqueIndex:idx_rules_user_match,priority:2"`
	MatchValue    string    `gorm:"column:match_value;size:512;not null;uniqueIndex:idx_rules_user_match,priority:3"`
	CourseLabel   string    `gorm:"column:course_label;size:320;not null"`
	AutoGenerated bool      `gorm:"column:auto_generated;not null;default:false"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Rule) TableName() string {
	return "categorization_rules"
}

// RuleInput describes a rule to create or refresh.
type RuleInput struct {
	MatchType     MatchType
	MatchValue    string
	CourseLabel   string
	AutoGenerated bool
}

func (input RuleInput) validate() error {
	if !input.MatchType.Valid() {
		return fmt.Errorf("%w: unknown match type %q", ErrInvalidRule, input.MatchType)
	}
	if strings.TrimSpace(input.MatchValue) == "" {
		return fmt.Errorf("%w: empty match value", ErrInvalidRule)
	}
	if strings.TrimSpace(input.CourseLabel) == "" {
		return fmt.Errorf("%w: empty course label", ErrInvalidRule)
	}
	return nil
}

// Outcome summarises a sync run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// AuditEntry is the append-only record written once per sync run.
type AuditEntry struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index:idx_sync_audit_user_time,priority:1"`
	Source       Source    `gorm:"column:source;size:32;not null"`
	SyncedAt     time.Time `gorm:"column:synced_at;not null;index:idx_sync_audit_user_time,priority:2"`
	Outcome      Outcome   `gorm:"column:outcome;size:16;not null"`
	ErrorSummary string    `gorm:"column:error_summary;type:text;not null;default:''"`
	ItemsSynced  int       `gorm:"column:items_synced;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (AuditEntry) TableName() string {
	return "sync_audit_log"
}
