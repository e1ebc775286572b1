package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shrutihegde1/study-buddy/internal/auth"
	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/oauth"
	"github.com/shrutihegde1/study-buddy/internal/syncer"
	"github.com/shrutihegde1/study-buddy/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "study_buddy_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserService      = errors.New("user service dependency required")
	errMissingItemStore        = errors.New("item store dependency required")
	errMissingSyncRunner       = errors.New("sync runner dependency required")
	errMissingStateSecret      = errors.New("oauth state secret required when google is enabled")
)

// SessionValidator authenticates the session cookie issued by TAuth.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserService resolves identities and stores integration settings.
type UserService interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
	LoadProfile(ctx context.Context, userID string) (users.Profile, error)
	UpdateIntegrations(ctx context.Context, userID string, update users.IntegrationsUpdate) (users.Profile, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// ItemStore is the persistence surface the HTTP layer needs.
type ItemStore interface {
	List(ctx context.Context, userID string, filter items.ListFilter) ([]items.Item, error)
	CreateManual(ctx context.Context, userID string, input items.NormalizedItem) (items.Item, error)
	UpdateByUser(ctx context.Context, userID, itemID string, patch items.ItemPatch) (items.Item, error)
	Delete(ctx context.Context, userID, itemID string) error
	QueryUnlabeled(ctx context.Context, userID string) ([]items.Item, error)
	ListRules(ctx context.Context, userID string) ([]items.Rule, error)
	UpsertRule(ctx context.Context, userID string, input items.RuleInput) (items.Rule, error)
	DeleteRule(ctx context.Context, userID, ruleID string) error
	ListAudit(ctx context.Context, userID string, limit int) ([]items.AuditEntry, error)
}

// SyncRunner runs sync passes for one user.
type SyncRunner interface {
	Run(ctx context.Context, userID string, source items.Source) (syncer.RunResult, error)
	RunAll(ctx context.Context, userID string) []syncer.SourceRun
}

// GoogleConnector drives the Google consent flow and credential lifecycle.
type GoogleConnector interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, userID, code string) error
	Revoke(ctx context.Context, userID string) error
	Connected(ctx context.Context, userID string) (bool, error)
}

// Dependencies wires the HTTP handler. Google is optional; its routes answer
// 400 when it is nil.
type Dependencies struct {
	Sessions        SessionValidator
	Users           UserService
	Items           ItemStore
	Syncer          SyncRunner
	Google          GoogleConnector
	StateSecret     string
	AllowedOrigins  []string
	PostConnectPath string
	// Clock drives consent state expiry; defaults to time.Now.
	Clock  func() time.Time
	Logger *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Items == nil {
		return nil, errMissingItemStore
	}
	if deps.Syncer == nil {
		return nil, errMissingSyncRunner
	}
	if deps.Google != nil && deps.StateSecret == "" {
		return nil, errMissingStateSecret
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	postConnect := deps.PostConnectPath
	if postConnect == "" {
		postConnect = "/"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:    deps.Sessions,
		users:       deps.Users,
		items:       deps.Items,
		syncer:      deps.Syncer,
		google:      deps.Google,
		postConnect: postConnect,
		logger:      logger,
	}
	if deps.Google != nil {
		states, err := oauth.NewStateCodec(oauth.StateCodecConfig{Secret: deps.StateSecret, Clock: deps.Clock})
		if err != nil {
			return nil, err
		}
		handler.states = states
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	// The consent redirect carries no session guarantees, the signed state does.
	router.GET("/integrations/google/callback", handler.handleGoogleCallback)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/sync", handler.handleSyncAll)
	protected.POST("/sync/:source", handler.handleSyncSource)
	protected.GET("/sync/logs", handler.handleSyncLogs)

	protected.GET("/items", handler.handleListItems)
	protected.POST("/items", handler.handleCreateItem)
	protected.PATCH("/items/:id", handler.handleUpdateItem)
	protected.DELETE("/items/:id", handler.handleDeleteItem)

	protected.GET("/categorization/suggestions", handler.handleSuggestions)
	protected.GET("/categorization/rules", handler.handleListRules)
	protected.POST("/categorization/rules", handler.handleCreateRule)
	protected.DELETE("/categorization/rules/:id", handler.handleDeleteRule)

	protected.GET("/integrations", handler.handleGetIntegrations)
	protected.PUT("/integrations/canvas", handler.handleUpdateCanvas)
	protected.GET("/integrations/google/connect", handler.handleGoogleConnect)
	protected.POST("/integrations/google/disconnect", handler.handleGoogleDisconnect)

	protected.DELETE("/account", handler.handleDeleteAccount)

	return router, nil
}

// corsMiddleware allows credentialed requests from the configured origins.
// An empty list allows any origin without credentials.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

type httpHandler struct {
	sessions    SessionValidator
	users       UserService
	items       ItemStore
	syncer      SyncRunner
	google      GoogleConnector
	states      *oauth.StateCodec
	postConnect string
	logger      *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) || errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve user identity", zap.Error(err), zap.String("subject", claims.UserID))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *httpHandler) writeServiceError(c *gin.Context, message string, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, syncer.ErrNotConfigured):
		status, code = http.StatusBadRequest, "not_configured"
	case errors.Is(err, syncer.ErrUnknownSource), errors.Is(err, items.ErrInvalidSource):
		status, code = http.StatusBadRequest, "unknown_source"
	case errors.Is(err, oauth.ErrReconnectRequired):
		status, code = http.StatusUnauthorized, "reconnect_required"
	case errors.Is(err, syncer.ErrUpstreamUnavailable):
		status, code = http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, items.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, items.ErrInvalidItem), errors.Is(err, items.ErrInvalidRule), errors.Is(err, users.ErrInvalidIntegration):
		status, code = http.StatusBadRequest, "invalid_request"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	} else {
		h.logger.Info(message, zap.Error(err), zap.Int("status", status))
	}
	c.JSON(status, gin.H{"error": code})
}
