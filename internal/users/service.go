package users

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shrutihegde1/study-buddy/internal/auth"
	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/oauth"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrProfileNotFound indicates that the user has not saved any integration settings.
	ErrProfileNotFound = errors.New("users: profile not found")
	// ErrInvalidIntegration indicates that integration settings failed validation.
	ErrInvalidIntegration = errors.New("users: invalid integration settings")
)

// ServiceConfig describes the dependencies of the users service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves canonical user ids and stores per-user integration settings.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the users service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the session claims,
// recording the provider+subject pair the first time it is seen.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if canonical, ok := cached.(string); ok {
			return canonical, nil
		}
	}

	now := s.now().UTC()
	candidate := Identity{
		Provider:    provider,
		Subject:     subject,
		UserID:      subject,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		LastSeenAt:  now,
	}
	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return "", err
	}

	var identity Identity
	if err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error; err != nil {
		return "", err
	}

	updates := map[string]any{"last_seen_at": now}
	if candidate.Email != "" && candidate.Email != identity.Email {
		updates["user_email"] = candidate.Email
	}
	if candidate.DisplayName != "" && candidate.DisplayName != identity.DisplayName {
		updates["user_display_name"] = candidate.DisplayName
	}
	if err := db.Model(&Identity{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Updates(updates).Error; err != nil {
		s.logger.Warn("identity refresh failed", zap.String("user_id", identity.UserID), zap.Error(err))
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	if raw := normalize(claims.UserID); raw != "" {
		if prefix, rest, found := strings.Cut(raw, ":"); found && normalize(prefix) != "" && normalize(rest) != "" {
			provider = normalize(prefix)
			subject = normalize(rest)
		} else if subject == "" {
			subject = raw
		}
	}
	if subject == "" {
		subject = normalize(claims.UserEmail)
	}
	return provider, subject
}

// LoadProfile returns the stored integration settings for the user.
func (s *Service) LoadProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// IntegrationsUpdate carries changed integration settings. Nil fields are kept;
// an empty string clears the setting.
type IntegrationsUpdate struct {
	CanvasBaseURL   *string
	CanvasToken     *string
	CalendarFeedURL *string
	Timezone        *string
}

// UpdateIntegrations saves integration settings, creating the profile on first use.
func (s *Service) UpdateIntegrations(ctx context.Context, userID string, update IntegrationsUpdate) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrInvalidIdentity
	}
	columns := map[string]any{}
	if update.CanvasBaseURL != nil {
		baseURL, err := normalizeBaseURL(*update.CanvasBaseURL)
		if err != nil {
			return Profile{}, err
		}
		columns["canvas_base_url"] = baseURL
	}
	if update.CanvasToken != nil {
		columns["canvas_token"] = normalize(*update.CanvasToken)
	}
	if update.CalendarFeedURL != nil {
		feedURL := normalize(*update.CalendarFeedURL)
		if feedURL != "" {
			parsed, err := url.Parse(strings.Replace(feedURL, "webcal://", "https://", 1))
			if err != nil || parsed.Host == "" {
				return Profile{}, fmt.Errorf("%w: calendar feed url", ErrInvalidIntegration)
			}
		}
		columns["calendar_feed_url"] = feedURL
	}
	if update.Timezone != nil {
		timezone := normalize(*update.Timezone)
		if timezone != "" {
			if _, err := time.LoadLocation(timezone); err != nil {
				return Profile{}, fmt.Errorf("%w: timezone %q", ErrInvalidIntegration, timezone)
			}
		}
		columns["timezone"] = timezone
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureProfile(tx, userID); err != nil {
			return err
		}
		if len(columns) == 0 {
			return nil
		}
		columns["updated_at"] = s.now().UTC()
		return tx.Model(&Profile{}).Where("user_id = ?", userID).Updates(columns).Error
	})
	if err != nil {
		return Profile{}, err
	}
	return s.LoadProfile(ctx, userID)
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(normalize(raw), "/")
	if trimmed == "" {
		return "", nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", fmt.Errorf("%w: canvas base url", ErrInvalidIntegration)
	}
	return trimmed, nil
}

func (s *Service) ensureProfile(tx *gorm.DB, userID string) error {
	now := s.now().UTC()
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Profile{UserID: userID, CreatedAt: now, UpdatedAt: now}).Error
}

// LoadCredential implements oauth.CredentialStore.
func (s *Service) LoadCredential(ctx context.Context, userID string) (oauth.Credential, error) {
	profile, err := s.LoadProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return oauth.Credential{}, nil
	}
	if err != nil {
		return oauth.Credential{}, err
	}
	credential := oauth.Credential{
		AccessToken:  profile.Google.AccessToken,
		RefreshToken: profile.Google.RefreshToken,
	}
	if profile.Google.Expiry != nil {
		credential.Expiry = profile.Google.Expiry.UTC()
	}
	return credential, nil
}

// SaveCredential implements oauth.CredentialStore.
func (s *Service) SaveCredential(ctx context.Context, userID string, credential oauth.Credential) error {
	var expiry *time.Time
	if !credential.Expiry.IsZero() {
		value := credential.Expiry.UTC()
		expiry = &value
	}
	return s.writeGrant(ctx, userID, map[string]any{
		"google_access_token":  credential.AccessToken,
		"google_refresh_token": credential.RefreshToken,
		"google_token_expiry":  expiry,
	})
}

// ClearCredential implements oauth.CredentialStore. All three fields are
// cleared in one statement.
func (s *Service) ClearCredential(ctx context.Context, userID string) error {
	return s.writeGrant(ctx, userID, map[string]any{
		"google_access_token":  "",
		"google_refresh_token": "",
		"google_token_expiry":  nil,
	})
}

func (s *Service) writeGrant(ctx context.Context, userID string, columns map[string]any) error {
	if userID == "" {
		return ErrInvalidIdentity
	}
	columns["updated_at"] = s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureProfile(tx, userID); err != nil {
			return err
		}
		return tx.Model(&Profile{}).Where("user_id = ?", userID).Updates(columns).Error
	})
}

// DeleteAccount removes every row owned by the user in one transaction:
// items, rules, sync history, the profile and all login identities.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidIdentity
	}
	owned := []any{&items.Item{}, &items.Rule{}, &items.AuditEntry{}, &Profile{}, &Identity{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range owned {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("account deletion failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	s.cache.Range(func(key, value any) bool {
		if canonical, ok := value.(string); ok && canonical == userID {
			s.cache.Delete(key)
		}
		return true
	})
	s.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}
