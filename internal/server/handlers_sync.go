package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/syncer"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 200
)

type syncAllResponse struct {
	Results []syncer.RunResult   `json:"results"`
	Errors  []syncFailurePayload `json:"errors"`
}

type syncFailurePayload struct {
	Source items.Source `json:"source"`
	Error  string       `json:"error"`
}

type auditPayload struct {
	ID           string        `json:"id"`
	Source       items.Source  `json:"source"`
	SyncedAt     time.Time     `json:"synced_at"`
	Outcome      items.Outcome `json:"outcome"`
	ErrorSummary string        `json:"error_summary,omitempty"`
	ItemsSynced  int           `json:"items_synced"`
}

func (h *httpHandler) handleSyncSource(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	source, err := items.ParseSource(c.Param("source"))
	if err != nil {
		h.writeServiceError(c, "sync request rejected", err)
		return
	}
	result, err := h.syncer.Run(c.Request.Context(), userID, source)
	if err != nil {
		h.writeServiceError(c, "sync failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleSyncAll answers 200 even when some sources fail; failures are listed
// next to the successful runs.
func (h *httpHandler) handleSyncAll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	runs := h.syncer.RunAll(c.Request.Context(), userID)
	response := syncAllResponse{
		Results: make([]syncer.RunResult, 0, len(runs)),
		Errors:  make([]syncFailurePayload, 0),
	}
	for _, run := range runs {
		if run.Err != nil {
			h.logger.Info("source sync failed", zap.String("source", string(run.Source)), zap.Error(run.Err))
			response.Errors = append(response.Errors, syncFailurePayload{Source: run.Source, Error: run.Err.Error()})
			continue
		}
		response.Results = append(response.Results, run.Result)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSyncLogs(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = min(parsed, maxAuditLimit)
	}
	entries, err := h.items.ListAudit(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(c, "failed to list sync logs", err)
		return
	}
	payload := make([]auditPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, auditPayload{
			ID:           entry.ID,
			Source:       entry.Source,
			SyncedAt:     entry.SyncedAt,
			Outcome:      entry.Outcome,
			ErrorSummary: entry.ErrorSummary,
			ItemsSynced:  entry.ItemsSynced,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}
