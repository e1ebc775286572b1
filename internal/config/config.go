package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "STUDYBUDDY"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "study-buddy.db"
	defaultLogLevel      = "info"
	defaultLogFormat     = "json"
	defaultCookieName    = "app_session"
	defaultFetchWorkers  = 4
	defaultUpsertWorkers = 4
	defaultHorizonDays   = 180
	defaultMaxMessages   = 20

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server and the sync CLI.
type AppConfig struct {
	HTTPAddress     string
	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	LogLevel        string
	LogFormat       string
	AllowedOrigins  []string
	Google          GoogleConfig
	RedisAddress    string
	Sync            SyncConfig
}

// GoogleConfig holds the OAuth client and the Google API endpoints.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenURL     string
	RevokeURL    string
	AuthURL      string
	ClassroomURL string
	GmailURL     string
	SenderQuery  string
	MaxMessages  int
}

// Enabled reports whether the Google integration can be offered.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.RedirectURL != ""
}

// SyncConfig tunes the orchestrator and adapters.
type SyncConfig struct {
	FetchConcurrency  int
	UpsertConcurrency int
	HorizonDays       int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", DriverSQLite)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", "")
	configViper.SetDefault("google.client_id", "")
	configViper.SetDefault("google.client_secret", "")
	configViper.SetDefault("google.redirect_url", "")
	configViper.SetDefault("google.token_url", "")
	configViper.SetDefault("google.revoke_url", "")
	configViper.SetDefault("google.auth_url", "")
	configViper.SetDefault("classroom.base_url", "")
	configViper.SetDefault("gmail.base_url", "")
	configViper.SetDefault("gmail.sender_query", "")
	configViper.SetDefault("gmail.max_messages", defaultMaxMessages)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("sync.fetch_concurrency", defaultFetchWorkers)
	configViper.SetDefault("sync.upsert_concurrency", defaultUpsertWorkers)
	configViper.SetDefault("calendar.horizon_days", defaultHorizonDays)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		TAuthSigningKey: configViper.GetString("tauth.signing_secret"),
		TAuthCookieName: configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:     configViper.GetString("tauth.issuer"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),
		AllowedOrigins:  splitList(configViper.GetStringSlice("http.allowed_origins")),
		Google: GoogleConfig{
			ClientID:     strings.TrimSpace(configViper.GetString("google.client_id")),
			ClientSecret: strings.TrimSpace(configViper.GetString("google.client_secret")),
			RedirectURL:  strings.TrimSpace(configViper.GetString("google.redirect_url")),
			TokenURL:     configViper.GetString("google.token_url"),
			RevokeURL:    configViper.GetString("google.revoke_url"),
			AuthURL:      configViper.GetString("google.auth_url"),
			ClassroomURL: configViper.GetString("classroom.base_url"),
			GmailURL:     configViper.GetString("gmail.base_url"),
			SenderQuery:  configViper.GetString("gmail.sender_query"),
			MaxMessages:  configViper.GetInt("gmail.max_messages"),
		},
		RedisAddress: strings.TrimSpace(configViper.GetString("redis.address")),
		Sync: SyncConfig{
			FetchConcurrency:  configViper.GetInt("sync.fetch_concurrency"),
			UpsertConcurrency: configViper.GetInt("sync.upsert_concurrency"),
			HorizonDays:       configViper.GetInt("calendar.horizon_days"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitList accepts both repeated values and a comma-separated env value.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if c.Sync.FetchConcurrency < 0 || c.Sync.UpsertConcurrency < 0 {
		return fmt.Errorf("sync concurrency must not be negative")
	}
	if c.Sync.HorizonDays < 0 {
		return fmt.Errorf("calendar.horizon_days must not be negative")
	}
	return nil
}
