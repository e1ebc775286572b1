package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shrutihegde1/study-buddy/internal/categorize"
	"github.com/shrutihegde1/study-buddy/internal/items"
)

type itemPayload struct {
	ID           string          `json:"id"`
	Source       items.Source    `json:"source"`
	SourceID     string          `json:"source_id,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Kind         items.Kind      `json:"kind"`
	DueAt        *time.Time      `json:"due_at"`
	StartAt      *time.Time      `json:"start_at,omitempty"`
	EndAt        *time.Time      `json:"end_at,omitempty"`
	AllDay       bool            `json:"all_day"`
	SourceURL    string          `json:"source_url,omitempty"`
	CourseLabel  string          `json:"course_label"`
	Priority     items.Priority  `json:"priority"`
	Effort       items.Effort    `json:"effort,omitempty"`
	Steps        []items.SubStep `json:"steps"`
	Notes        string          `json:"notes"`
	Status       items.Status    `json:"status"`
	StatusLocked bool            `json:"status_locked"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func newItemPayload(item items.Item) itemPayload {
	steps := item.SubSteps()
	if steps == nil {
		steps = []items.SubStep{}
	}
	return itemPayload{
		ID:           item.ID,
		Source:       item.Source,
		SourceID:     item.ExternalID(),
		Title:        item.Title,
		Description:  item.Description,
		Kind:         item.Kind,
		DueAt:        item.DueAt,
		StartAt:      item.StartAt,
		EndAt:        item.EndAt,
		AllDay:       item.AllDay,
		SourceURL:    item.SourceURL,
		CourseLabel:  item.CourseLabel,
		Priority:     item.Priority,
		Effort:       item.Effort,
		Steps:        steps,
		Notes:        item.Notes,
		Status:       item.Status,
		StatusLocked: item.StatusLocked,
		CompletedAt:  item.CompletedAt,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

type createItemRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Kind        items.Kind      `json:"kind"`
	DueAt       *time.Time      `json:"due_at"`
	StartAt     *time.Time      `json:"start_at"`
	EndAt       *time.Time      `json:"end_at"`
	AllDay      bool            `json:"all_day"`
	CourseLabel string          `json:"course_label"`
	Priority    items.Priority  `json:"priority"`
	Effort      items.Effort    `json:"effort"`
	Steps       []items.SubStep `json:"steps"`
	Status      items.Status    `json:"status"`
}

type updateItemRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Kind        *items.Kind      `json:"kind"`
	DueAt       *time.Time       `json:"due_at"`
	ClearDueAt  bool             `json:"clear_due_at"`
	StartAt     *time.Time       `json:"start_at"`
	EndAt       *time.Time       `json:"end_at"`
	AllDay      *bool            `json:"all_day"`
	CourseLabel *string          `json:"course_label"`
	Priority    *items.Priority  `json:"priority"`
	Effort      *items.Effort    `json:"effort"`
	Steps       *[]items.SubStep `json:"steps"`
	Notes       *string          `json:"notes"`
	Status      *items.Status    `json:"status"`
}

func (h *httpHandler) handleListItems(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	filter, err := parseListFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter"})
		return
	}
	stored, err := h.items.List(c.Request.Context(), userID, filter)
	if err != nil {
		h.writeServiceError(c, "failed to list items", err)
		return
	}
	payload := make([]itemPayload, 0, len(stored))
	for _, item := range stored {
		payload = append(payload, newItemPayload(item))
	}
	c.JSON(http.StatusOK, gin.H{"items": payload})
}

func parseListFilter(c *gin.Context) (items.ListFilter, error) {
	var filter items.ListFilter
	if raw := strings.TrimSpace(c.Query("source")); raw != "" {
		source, err := items.ParseSource(raw)
		if err != nil {
			return items.ListFilter{}, err
		}
		filter.Source = source
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := items.Status(raw)
		if !status.Valid() {
			return items.ListFilter{}, items.ErrInvalidItem
		}
		filter.Status = status
	}
	filter.CourseLabel = strings.TrimSpace(c.Query("course"))
	for key, target := range map[string]**time.Time{"due_from": &filter.DueFrom, "due_before": &filter.DueBefore} {
		raw := strings.TrimSpace(c.Query(key))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return items.ListFilter{}, err
		}
		*target = &parsed
	}
	return filter, nil
}

func (h *httpHandler) handleCreateItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var request createItemRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	created, err := h.items.CreateManual(c.Request.Context(), userID, items.NormalizedItem{
		Title:       request.Title,
		Description: request.Description,
		Kind:        request.Kind,
		DueAt:       request.DueAt,
		StartAt:     request.StartAt,
		EndAt:       request.EndAt,
		AllDay:      request.AllDay,
		Source:      items.SourceManual,
		CourseLabel: request.CourseLabel,
		Priority:    request.Priority,
		Effort:      request.Effort,
		Steps:       request.Steps,
		Status:      request.Status,
	})
	if err != nil {
		h.writeServiceError(c, "failed to create item", err)
		return
	}
	c.JSON(http.StatusCreated, newItemPayload(created))
}

func (h *httpHandler) handleUpdateItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var request updateItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated, err := h.items.UpdateByUser(c.Request.Context(), userID, c.Param("id"), items.ItemPatch{
		Title:       request.Title,
		Description: request.Description,
		Kind:        request.Kind,
		DueAt:       request.DueAt,
		ClearDueAt:  request.ClearDueAt,
		StartAt:     request.StartAt,
		EndAt:       request.EndAt,
		AllDay:      request.AllDay,
		CourseLabel: request.CourseLabel,
		Priority:    request.Priority,
		Effort:      request.Effort,
		Steps:       request.Steps,
		Notes:       request.Notes,
		Status:      request.Status,
	})
	if err != nil {
		h.writeServiceError(c, "failed to update item", err)
		return
	}
	c.JSON(http.StatusOK, newItemPayload(updated))
}

func (h *httpHandler) handleDeleteItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.items.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeServiceError(c, "failed to delete item", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type rulePayload struct {
	ID            string          `json:"id"`
	MatchType     items.MatchType `json:"match_type"`
	MatchValue    string          `json:"match_value"`
	CourseLabel   string          `json:"course_label"`
	AutoGenerated bool            `json:"auto_generated"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type createRuleRequest struct {
	MatchType   items.MatchType `json:"match_type"`
	MatchValue  string          `json:"match_value"`
	CourseLabel string          `json:"course_label"`
}

type suggestionPayload struct {
	ItemID      string `json:"item_id"`
	Title       string `json:"title"`
	CourseLabel string `json:"course_label"`
}

// handleSuggestions previews labels for unlabeled items without saving them.
func (h *httpHandler) handleSuggestions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	unlabeled, err := h.items.QueryUnlabeled(ctx, userID)
	if err != nil {
		h.writeServiceError(c, "failed to load unlabeled items", err)
		return
	}
	rules, err := h.items.ListRules(ctx, userID)
	if err != nil {
		h.writeServiceError(c, "failed to load rules", err)
		return
	}
	suggested := categorize.CategorizeItems(unlabeled, rules)
	payload := make([]suggestionPayload, 0, len(suggested))
	for _, item := range unlabeled {
		if label, found := suggested[item.ID]; found {
			payload = append(payload, suggestionPayload{ItemID: item.ID, Title: item.Title, CourseLabel: label})
		}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": payload, "unlabeled": len(unlabeled)})
}

func (h *httpHandler) handleListRules(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	rules, err := h.items.ListRules(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "failed to list rules", err)
		return
	}
	payload := make([]rulePayload, 0, len(rules))
	for _, rule := range rules {
		payload = append(payload, newRulePayload(rule))
	}
	c.JSON(http.StatusOK, gin.H{"rules": payload})
}

func (h *httpHandler) handleCreateRule(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var request createRuleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	rule, err := h.items.UpsertRule(c.Request.Context(), userID, items.RuleInput{
		MatchType:   request.MatchType,
		MatchValue:  request.MatchValue,
		CourseLabel: request.CourseLabel,
	})
	if err != nil {
		h.writeServiceError(c, "failed to save rule", err)
		return
	}
	c.JSON(http.StatusOK, newRulePayload(rule))
}

func (h *httpHandler) handleDeleteRule(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.items.DeleteRule(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeServiceError(c, "failed to delete rule", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func newRulePayload(rule items.Rule) rulePayload {
	return rulePayload{
		ID:            rule.ID,
		MatchType:     rule.MatchType,
		MatchValue:    rule.MatchValue,
		CourseLabel:   rule.CourseLabel,
		AutoGenerated: rule.AutoGenerated,
		UpdatedAt:     rule.UpdatedAt,
	}
}
