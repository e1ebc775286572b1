package users

import (
	"strings"
	"time"
	// Profiles carry IANA zone names; hosts without zoneinfo still resolve them.
	_ "time/tzdata"
)

// Identity maps a login provider subject to the canonical user id that owns
// items, rules and integrations.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// GoogleGrant holds the Google OAuth token triple inside a profile row.
type GoogleGrant struct {
	AccessToken  string     `gorm:"column:access_token;type:text;not null;default:''"`
	RefreshToken string     `gorm:"column:refresh_token;type:text;not null;default:''"`
	Expiry       *time.Time `gorm:"column:token_expiry"`
}

// Profile stores per-user integration settings.
type Profile struct {
	UserID          string      `gorm:"column:user_id;primaryKey;size:190;not null"`
	CanvasBaseURL   string      `gorm:"column:canvas_base_url;size:512;not null;default:''"`
	CanvasToken     string      `gorm:"column:canvas_token;type:text;not null;default:''"`
	CalendarFeedURL string      `gorm:"column:calendar_feed_url;size:2048;not null;default:''"`
	Timezone        string      `gorm:"column:timezone;size:64;not null;default:''"`
	Google          GoogleGrant `gorm:"embedded;embeddedPrefix:google_"`
	CreatedAt       time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

// CanvasConfigured reports whether Canvas API credentials are present.
func (p Profile) CanvasConfigured() bool {
	return p.CanvasBaseURL != "" && p.CanvasToken != ""
}

// Location resolves the profile timezone, falling back to UTC.
func (p Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	location, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return location
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
