package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/shrutihegde1/study-buddy/internal/users"
	"go.uber.org/zap"
)

type integrationsPayload struct {
	CanvasBaseURL    string `json:"canvas_base_url"`
	CanvasConfigured bool   `json:"canvas_configured"`
	CalendarFeedURL  string `json:"calendar_feed_url"`
	Timezone         string `json:"timezone"`
	GoogleAvailable  bool   `json:"google_available"`
	GoogleConnected  bool   `json:"google_connected"`
}

// updateCanvasRequest leaves absent fields untouched; an empty string clears.
type updateCanvasRequest struct {
	BaseURL         *string `json:"base_url"`
	Token           *string `json:"token"`
	CalendarFeedURL *string `json:"calendar_feed_url"`
	Timezone        *string `json:"timezone"`
}

func (h *httpHandler) handleGetIntegrations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	profile, err := h.users.LoadProfile(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, users.ErrProfileNotFound) {
		h.writeServiceError(c, "failed to load profile", err)
		return
	}
	h.writeIntegrations(c, userID, profile)
}

func (h *httpHandler) handleUpdateCanvas(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var request updateCanvasRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.users.UpdateIntegrations(c.Request.Context(), userID, users.IntegrationsUpdate{
		CanvasBaseURL:   request.BaseURL,
		CanvasToken:     request.Token,
		CalendarFeedURL: request.CalendarFeedURL,
		Timezone:        request.Timezone,
	})
	if err != nil {
		h.writeServiceError(c, "failed to update canvas settings", err)
		return
	}
	h.writeIntegrations(c, userID, profile)
}

func (h *httpHandler) writeIntegrations(c *gin.Context, userID string, profile users.Profile) {
	payload := integrationsPayload{
		CanvasBaseURL:    profile.CanvasBaseURL,
		CanvasConfigured: profile.CanvasConfigured(),
		CalendarFeedURL:  profile.CalendarFeedURL,
		Timezone:         profile.Timezone,
		GoogleAvailable:  h.google != nil,
	}
	if h.google != nil {
		connected, err := h.google.Connected(c.Request.Context(), userID)
		if err != nil && !errors.Is(err, users.ErrProfileNotFound) {
			h.logger.Warn("failed to read google connection state", zap.String("user_id", userID), zap.Error(err))
		}
		payload.GoogleConnected = connected
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleGoogleConnect(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if h.google == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "google_not_configured"})
		return
	}
	state, err := h.states.Sign(userID)
	if err != nil {
		h.logger.Error("google connect state signing failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorization_url": h.google.AuthorizationURL(state)})
}

func (h *httpHandler) handleGoogleCallback(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "google_not_configured"})
		return
	}
	if providerError := c.Query("error"); providerError != "" {
		h.logger.Info("google consent declined", zap.String("error", providerError))
		h.redirectAfterConnect(c, "denied")
		return
	}
	userID, err := h.states.Verify(c.Query("state"))
	if err != nil {
		h.logger.Warn("google callback state rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}
	if err := h.google.ExchangeCode(c.Request.Context(), userID, c.Query("code")); err != nil {
		h.logger.Warn("google code exchange failed", zap.String("user_id", userID), zap.Error(err))
		h.redirectAfterConnect(c, "error")
		return
	}
	h.redirectAfterConnect(c, "connected")
}

func (h *httpHandler) redirectAfterConnect(c *gin.Context, outcome string) {
	target, err := url.Parse(h.postConnect)
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	query := target.Query()
	query.Set("google", outcome)
	target.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func (h *httpHandler) handleGoogleDisconnect(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if h.google == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "google_not_configured"})
		return
	}
	if err := h.google.Revoke(c.Request.Context(), userID); err != nil {
		h.writeServiceError(c, "failed to disconnect google", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteAccount revokes the Google grant when one exists, then removes
// everything the user owns.
func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if h.google != nil {
		if err := h.google.Revoke(ctx, userID); err != nil {
			h.logger.Warn("google revoke during account deletion failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	if err := h.users.DeleteAccount(ctx, userID); err != nil {
		h.writeServiceError(c, "failed to delete account", err)
		return
	}
	c.Status(http.StatusNoContent)
}
