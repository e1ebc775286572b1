package items

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingSourceID   = errors.New("synced items require a source id")
	errManualSource      = errors.New("manual items cannot be synced")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew       = "items.store.new"
	opUpsertSynced   = "items.upsert"
	opCreateManual   = "items.create_manual"
	opUpdateByUser   = "items.update_by_user"
	opDelete         = "items.delete"
	opGet            = "items.get"
	opList           = "items.list"
	opQueryUnlabeled = "items.query_unlabeled"
	opSetCourseLabel = "items.set_course_label"
	opUpsertRule     = "items.upsert_rule"
	opListRules      = "items.list_rules"
	opDeleteRule     = "items.delete_rule"
	opAppendAudit    = "items.append_audit"
	opListAudit      = "items.list_audit"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists items, categorization rules and the sync audit log.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

var upsertConflictColumns = []clause.Column{{Name: "user_id"}, {Name: "source"}, {Name: "source_id"}}

// UpsertSynced inserts or refreshes the row keyed by (user, source, source id).
// Status and completion time are only written when the item carries a hint and
// the stored row is not status-locked. Steps, notes, priority and effort of an
// existing row are left alone.
func (s *Store) UpsertSynced(ctx context.Context, userID string, input NormalizedItem) (Item, error) {
	if userID == "" {
		return Item{}, newServiceError(opUpsertSynced, "missing_user_id", errMissingUserID)
	}
	if input.Source == SourceManual {
		return Item{}, newServiceError(opUpsertSynced, "invalid_source", errManualSource)
	}
	if _, err := ParseSource(string(input.Source)); err != nil {
		return Item{}, newServiceError(opUpsertSynced, "invalid_source", err)
	}
	sourceID := strings.TrimSpace(input.SourceID)
	if sourceID == "" {
		return Item{}, newServiceError(opUpsertSynced, "missing_source_id", errMissingSourceID)
	}
	if err := input.Validate(); err != nil {
		return Item{}, newServiceError(opUpsertSynced, "invalid_item", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpsertSynced, "id_generation_failed", err, zap.String("user_id", userID))
		return Item{}, newServiceError(opUpsertSynced, "id_generation_failed", err)
	}
	steps, err := encodeSteps(input.Steps)
	if err != nil {
		return Item{}, newServiceError(opUpsertSynced, "invalid_steps", err)
	}

	now := s.clock().UTC()
	row := Item{
		ID:          id,
		UserID:      userID,
		Source:      input.Source,
		SourceID:    &sourceID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Kind:        input.Kind,
		DueAt:       utcPointer(input.DueAt),
		StartAt:     utcPointer(input.StartAt),
		EndAt:       utcPointer(input.EndAt),
		AllDay:      input.AllDay,
		SourceURL:   input.SourceURL,
		CourseLabel: strings.TrimSpace(input.CourseLabel),
		ContextCode: input.ContextCode,
		Priority:    input.Priority,
		Effort:      input.Effort,
		Steps:       steps,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if row.Priority == "" {
		row.Priority = PriorityMedium
	}
	if input.Status != "" {
		row.Status = input.Status
		row.CompletedAt = utcPointer(input.CompletedAt)
	}

	assignments := []clause.Assignment{
		excludedAssignment("title"),
		excludedAssignment("description"),
		excludedAssignment("kind"),
		excludedAssignment("due_at"),
		excludedAssignment("start_at"),
		excludedAssignment("end_at"),
		excludedAssignment("all_day"),
		excludedAssignment("source_url"),
		keepWhenEmptyAssignment("course_label"),
		keepWhenEmptyAssignment("context_code"),
		excludedAssignment("updated_at"),
	}
	if input.Status != "" {
		assignments = append(assignments,
			clause.Assignment{
				Column: clause.Column{Name: "status"},
				Value:  gorm.Expr("CASE WHEN items.status_locked THEN items.status ELSE excluded.status END"),
			},
			clause.Assignment{
				Column: clause.Column{Name: "completed_at"},
				Value:  gorm.Expr("CASE WHEN items.status_locked THEN items.completed_at ELSE excluded.completed_at END"),
			},
		)
	}

	var stored Item
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   upsertConflictColumns,
			DoUpdates: clause.Set(assignments),
		}).Create(&row).Error; err != nil {
			s.logError(opUpsertSynced, "upsert_failed", err,
				zap.String("user_id", userID),
				zap.String("source", string(input.Source)),
				zap.String("source_id", sourceID))
			return newServiceError(opUpsertSynced, "upsert_failed", err)
		}
		if err := tx.Where("user_id = ? AND source = ? AND source_id = ?", userID, input.Source, sourceID).
			Take(&stored).Error; err != nil {
			s.logError(opUpsertSynced, "reload_failed", err,
				zap.String("user_id", userID),
				zap.String("source", string(input.Source)),
				zap.String("source_id", sourceID))
			return newServiceError(opUpsertSynced, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Item{}, txErr
	}
	return stored, nil
}

func excludedAssignment(column string) clause.Assignment {
	return clause.Assignment{
		Column: clause.Column{Name: column},
		Value:  gorm.Expr("excluded." + column),
	}
}

func keepWhenEmptyAssignment(column string) clause.Assignment {
	return clause.Assignment{
		Column: clause.Column{Name: column},
		Value: gorm.Expr(fmt.Sprintf("CASE WHEN excluded.%[1]s <> '' THEN excluded.%[1]s ELSE items.%[1]s END", column)),
	}
}

// CreateManual stores an item the user created directly.
func (s *Store) CreateManual(ctx context.Context, userID string, input NormalizedItem) (Item, error) {
	if userID == "" {
		return Item{}, newServiceError(opCreateManual, "missing_user_id", errMissingUserID)
	}
	if input.Kind == "" {
		input.Kind = KindTask
	}
	if err := input.Validate(); err != nil {
		return Item{}, newServiceError(opCreateManual, "invalid_item", err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateManual, "id_generation_failed", err, zap.String("user_id", userID))
		return Item{}, newServiceError(opCreateManual, "id_generation_failed", err)
	}
	steps, err := encodeSteps(input.Steps)
	if err != nil {
		return Item{}, newServiceError(opCreateManual, "invalid_steps", err)
	}

	now := s.clock().UTC()
	row := Item{
		ID:          id,
		UserID:      userID,
		Source:      SourceManual,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Kind:        input.Kind,
		DueAt:       utcPointer(input.DueAt),
		StartAt:     utcPointer(input.StartAt),
		EndAt:       utcPointer(input.EndAt),
		AllDay:      input.AllDay,
		SourceURL:   input.SourceURL,
		CourseLabel: strings.TrimSpace(input.CourseLabel),
		Priority:    input.Priority,
		Effort:      input.Effort,
		Steps:       steps,
		Status:      input.Status,
		CompletedAt: utcPointer(input.CompletedAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if row.Priority == "" {
		row.Priority = PriorityMedium
	}
	if row.Status == "" {
		row.Status = StatusPending
	}
	if row.Status == StatusCompleted && row.CompletedAt == nil {
		row.CompletedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opCreateManual, "insert_failed", err, zap.String("user_id", userID))
		return Item{}, newServiceError(opCreateManual, "insert_failed", err)
	}
	return row, nil
}

// ItemPatch carries a direct user edit. Nil fields are left unchanged.
type ItemPatch struct {
	Title       *string
	Description *string
	Kind        *Kind
	DueAt       *time.Time
	ClearDueAt  bool
	StartAt     *time.Time
	EndAt       *time.Time
	AllDay      *bool
	CourseLabel *string
	Priority    *Priority
	Effort      *Effort
	Steps       *[]SubStep
	Notes       *string
	Status      *Status
}

// UpdateByUser applies a user edit. Setting Status locks the row against sync.
func (s *Store) UpdateByUser(ctx context.Context, userID, itemID string, patch ItemPatch) (Item, error) {
	if userID == "" {
		return Item{}, newServiceError(opUpdateByUser, "missing_user_id", errMissingUserID)
	}

	updates, err := s.patchColumns(patch)
	if err != nil {
		return Item{}, newServiceError(opUpdateByUser, "invalid_patch", err)
	}

	var stored Item
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Item
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND id = ?", userID, itemID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateByUser, "not_found", ErrNotFound)
		}
		if err != nil {
			s.logError(opUpdateByUser, "select_failed", err,
				zap.String("user_id", userID), zap.String("item_id", itemID))
			return newServiceError(opUpdateByUser, "select_failed", err)
		}

		if start, end := mergedRange(existing, patch); start != nil && end != nil && end.Before(*start) {
			return newServiceError(opUpdateByUser, "invalid_patch",
				fmt.Errorf("%w: end time before start time", ErrInvalidItem))
		}

		if len(updates) > 0 {
			if err := tx.Model(&Item{}).
				Where("user_id = ? AND id = ?", userID, itemID).
				Updates(updates).Error; err != nil {
				s.logError(opUpdateByUser, "update_failed", err,
					zap.String("user_id", userID), zap.String("item_id", itemID))
				return newServiceError(opUpdateByUser, "update_failed", err)
			}
		}
		if err := tx.Where("user_id = ? AND id = ?", userID, itemID).Take(&stored).Error; err != nil {
			return newServiceError(opUpdateByUser, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Item{}, txErr
	}
	return stored, nil
}

func (s *Store) patchColumns(patch ItemPatch) (map[string]any, error) {
	updates := map[string]any{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: empty title", ErrInvalidItem)
		}
		updates["title"] = title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Kind != nil {
		if !patch.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, *patch.Kind)
		}
		updates["kind"] = *patch.Kind
	}
	if patch.ClearDueAt {
		updates["due_at"] = nil
	} else if patch.DueAt != nil {
		updates["due_at"] = patch.DueAt.UTC()
	}
	if patch.StartAt != nil {
		updates["start_at"] = patch.StartAt.UTC()
	}
	if patch.EndAt != nil {
		updates["end_at"] = patch.EndAt.UTC()
	}
	if patch.AllDay != nil {
		updates["all_day"] = *patch.AllDay
	}
	if patch.CourseLabel != nil {
		updates["course_label"] = strings.TrimSpace(*patch.CourseLabel)
	}
	if patch.Priority != nil {
		switch *patch.Priority {
		case PriorityLow, PriorityMedium, PriorityHigh:
			updates["priority"] = *patch.Priority
		default:
			return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidItem, *patch.Priority)
		}
	}
	if patch.Effort != nil {
		if !patch.Effort.Valid() {
			return nil, fmt.Errorf("%w: unknown effort %q", ErrInvalidItem, *patch.Effort)
		}
		updates["effort"] = *patch.Effort
	}
	if patch.Steps != nil {
		steps, err := encodeSteps(*patch.Steps)
		if err != nil {
			return nil, err
		}
		updates["steps"] = steps
	}
	if patch.Notes != nil {
		updates["notes"] = *patch.Notes
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidItem, *patch.Status)
		}
		updates["status"] = *patch.Status
		updates["status_locked"] = true
		if *patch.Status == StatusCompleted {
			updates["completed_at"] = s.clock().UTC()
		} else {
			updates["completed_at"] = nil
		}
	}
	if len(updates) > 0 {
		updates["updated_at"] = s.clock().UTC()
	}
	return updates, nil
}

func mergedRange(existing Item, patch ItemPatch) (*time.Time, *time.Time) {
	start, end := existing.StartAt, existing.EndAt
	if patch.StartAt != nil {
		start = patch.StartAt
	}
	if patch.EndAt != nil {
		end = patch.EndAt
	}
	return start, end
}

// Delete removes an item owned by the user.
func (s *Store) Delete(ctx context.Context, userID, itemID string) error {
	if userID == "" {
		return newServiceError(opDelete, "missing_user_id", errMissingUserID)
	}
	result := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, itemID).Delete(&Item{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error,
			zap.String("user_id", userID), zap.String("item_id", itemID))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found", ErrNotFound)
	}
	return nil
}

// Get loads one item owned by the user.
func (s *Store) Get(ctx context.Context, userID, itemID string) (Item, error) {
	if userID == "" {
		return Item{}, newServiceError(opGet, "missing_user_id", errMissingUserID)
	}
	var item Item
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, itemID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, newServiceError(opGet, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("user_id", userID))
		return Item{}, newServiceError(opGet, "query_failed", err)
	}
	return item, nil
}

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	Source      Source
	Status      Status
	CourseLabel string
	DueFrom     *time.Time
	DueBefore   *time.Time
}

// List returns the user's items ordered by due date, undated items last.
func (s *Store) List(ctx context.Context, userID string, filter ListFilter) ([]Item, error) {
	if userID == "" {
		return nil, newServiceError(opList, "missing_user_id", errMissingUserID)
	}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CourseLabel != "" {
		query = query.Where("course_label = ?", filter.CourseLabel)
	}
	if filter.DueFrom != nil {
		query = query.Where("due_at >= ?", filter.DueFrom.UTC())
	}
	if filter.DueBefore != nil {
		query = query.Where("due_at < ?", filter.DueBefore.UTC())
	}

	var result []Item
	if err := query.
		Order("CASE WHEN due_at IS NULL THEN 1 ELSE 0 END").
		Order("due_at ASC").
		Order("created_at ASC").
		Find(&result).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return result, nil
}

// QueryUnlabeled returns the user's items that still have no course label.
func (s *Store) QueryUnlabeled(ctx context.Context, userID string) ([]Item, error) {
	if userID == "" {
		return nil, newServiceError(opQueryUnlabeled, "missing_user_id", errMissingUserID)
	}
	var result []Item
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_label = ?", userID, "").
		Order("created_at ASC").
		Find(&result).Error; err != nil {
		s.logError(opQueryUnlabeled, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opQueryUnlabeled, "query_failed", err)
	}
	return result, nil
}

// SetCourseLabel labels an item that is still unlabeled. It reports whether a
// row changed; a label set concurrently by the user is never replaced.
func (s *Store) SetCourseLabel(ctx context.Context, userID, itemID, label string) (bool, error) {
	if userID == "" {
		return false, newServiceError(opSetCourseLabel, "missing_user_id", errMissingUserID)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return false, nil
	}
	result := s.db.WithContext(ctx).Model(&Item{}).
		Where("user_id = ? AND id = ? AND course_label = ?", userID, itemID, "").
		Updates(map[string]any{"course_label": label, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		s.logError(opSetCourseLabel, "update_failed", result.Error,
			zap.String("user_id", userID), zap.String("item_id", itemID))
		return false, newServiceError(opSetCourseLabel, "update_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpsertRule creates or refreshes the rule keyed by (user, match type, match
// value). A derived rule never replaces the label of a user-confirmed one, and
// a rule stays auto-generated only while every writer says so.
func (s *Store) UpsertRule(ctx context.Context, userID string, input RuleInput) (Rule, error) {
	if userID == "" {
		return Rule{}, newServiceError(opUpsertRule, "missing_user_id", errMissingUserID)
	}
	if err := input.validate(); err != nil {
		return Rule{}, newServiceError(opUpsertRule, "invalid_rule", err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Rule{}, newServiceError(opUpsertRule, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	row := Rule{
		ID:            id,
		UserID:        userID,
		MatchType:     input.MatchType,
		MatchValue:    strings.TrimSpace(input.MatchValue),
		CourseLabel:   strings.TrimSpace(input.CourseLabel),
		AutoGenerated: input.AutoGenerated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var stored Rule
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "match_type"}, {Name: "match_value"}},
			DoUpdates: clause.Set{
				{
					Column: clause.Column{Name: "course_label"},
					Value: gorm.Expr("CASE WHEN categorization_rules.auto_generated OR NOT excluded.auto_generated " +
						"THEN excluded.course_label ELSE categorization_rules.course_label END"),
				},
				{
					Column: clause.Column{Name: "auto_generated"},
					Value:  gorm.Expr("categorization_rules.auto_generated AND excluded.auto_generated"),
				},
				excludedAssignment("updated_at"),
			},
		}).Create(&row).Error; err != nil {
			s.logError(opUpsertRule, "upsert_failed", err,
				zap.String("user_id", userID),
				zap.String("match_type", string(input.MatchType)),
				zap.String("match_value", row.MatchValue))
			return newServiceError(opUpsertRule, "upsert_failed", err)
		}
		return tx.Where("user_id = ? AND match_type = ? AND match_value = ?", userID, row.MatchType, row.MatchValue).
			Take(&stored).Error
	})
	if txErr != nil {
		return Rule{}, txErr
	}
	return stored, nil
}

// ListRules returns the user's rules, most recently created first.
func (s *Store) ListRules(ctx context.Context, userID string) ([]Rule, error) {
	if userID == "" {
		return nil, newServiceError(opListRules, "missing_user_id", errMissingUserID)
	}
	var rules []Rule
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rules).Error; err != nil {
		s.logError(opListRules, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListRules, "query_failed", err)
	}
	return rules, nil
}

// DeleteRule removes a rule owned by the user.
func (s *Store) DeleteRule(ctx context.Context, userID, ruleID string) error {
	if userID == "" {
		return newServiceError(opDeleteRule, "missing_user_id", errMissingUserID)
	}
	result := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, ruleID).Delete(&Rule{})
	if result.Error != nil {
		s.logError(opDeleteRule, "delete_failed", result.Error, zap.String("user_id", userID))
		return newServiceError(opDeleteRule, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteRule, "not_found", ErrNotFound)
	}
	return nil
}

// AppendAudit writes one sync audit row.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if entry.UserID == "" {
		return AuditEntry{}, newServiceError(opAppendAudit, "missing_user_id", errMissingUserID)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return AuditEntry{}, newServiceError(opAppendAudit, "id_generation_failed", err)
	}
	entry.ID = id
	if entry.SyncedAt.IsZero() {
		entry.SyncedAt = s.clock().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opAppendAudit, "insert_failed", err,
			zap.String("user_id", entry.UserID), zap.String("source", string(entry.Source)))
		return AuditEntry{}, newServiceError(opAppendAudit, "insert_failed", err)
	}
	return entry, nil
}

// ListAudit returns the newest audit rows for the user.
func (s *Store) ListAudit(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	if userID == "" {
		return nil, newServiceError(opListAudit, "missing_user_id", errMissingUserID)
	}
	if limit <= 0 {
		limit = 50
	}
	var entries []AuditEntry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("synced_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		s.logError(opListAudit, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListAudit, "query_failed", err)
	}
	return entries, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("item store error", attrs...)
}
