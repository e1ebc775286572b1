package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shrutihegde1/study-buddy/internal/auth"
	"github.com/shrutihegde1/study-buddy/internal/config"
	"github.com/shrutihegde1/study-buddy/internal/database"
	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/logging"
	"github.com/shrutihegde1/study-buddy/internal/oauth"
	"github.com/shrutihegde1/study-buddy/internal/server"
	"github.com/shrutihegde1/study-buddy/internal/sources"
	"github.com/shrutihegde1/study-buddy/internal/sources/calfeed"
	"github.com/shrutihegde1/study-buddy/internal/sources/canvas"
	"github.com/shrutihegde1/study-buddy/internal/sources/classroom"
	"github.com/shrutihegde1/study-buddy/internal/sources/mailbox"
	"github.com/shrutihegde1/study-buddy/internal/syncer"
	"github.com/shrutihegde1/study-buddy/internal/users"
	"go.uber.org/zap"
)

const (
	upstreamTimeout = 30 * time.Second
	redisPingWait   = 5 * time.Second
)

// application holds the wired services shared by the serve and sync commands.
type application struct {
	logger  *zap.Logger
	handler http.Handler
	syncer  *syncer.Orchestrator
	closers []func() error
}

func (a *application) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		if err := a.closers[index](); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// googleIntegration joins the credential manager with the consent URL builder.
type googleIntegration struct {
	*oauth.Manager
	endpoint *oauth.HTTPEndpoint
}

func (g googleIntegration) AuthorizationURL(state string) string {
	return g.endpoint.AuthorizationURL(state)
}

func buildApplication(ctx context.Context, appConfig config.AppConfig) (_ *application, err error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}
	app := &application{logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, sqlDB.Close)

	itemStore, err := items.NewStore(items.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: items.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: upstreamTimeout}
	client := sources.NewClient(sources.ClientConfig{HTTPClient: httpClient, Logger: logger})
	fetchWorkers := appConfig.Sync.FetchConcurrency

	orchestratorConfig := syncer.Config{
		Store:    itemStore,
		Profiles: userService,
		Canvas: canvas.NewAdapter(canvas.Config{
			Client:      client,
			Concurrency: fetchWorkers,
			Logger:      logger,
		}),
		Calendar: calfeed.NewAdapter(calfeed.Config{
			Client:  client,
			Horizon: time.Duration(appConfig.Sync.HorizonDays) * 24 * time.Hour,
			Logger:  logger,
		}),
		Logger:            logger,
		UpsertConcurrency: appConfig.Sync.UpsertConcurrency,
	}

	var google server.GoogleConnector
	var stateSecret string
	if appConfig.Google.Enabled() {
		integration, err := buildGoogleIntegration(ctx, app, appConfig, userService, httpClient)
		if err != nil {
			return nil, err
		}
		google = integration
		stateSecret = integration.endpoint.ClientSecret()
		orchestratorConfig.Tokens = integration.Manager
		orchestratorConfig.Classroom = classroom.NewAdapter(classroom.Config{
			Client:      client,
			BaseURL:     appConfig.Google.ClassroomURL,
			Concurrency: fetchWorkers,
			Logger:      logger,
		})
		orchestratorConfig.Mailbox = mailbox.NewAdapter(mailbox.Config{
			Client:      client,
			BaseURL:     appConfig.Google.GmailURL,
			SenderQuery: appConfig.Google.SenderQuery,
			MaxMessages: appConfig.Google.MaxMessages,
			Concurrency: fetchWorkers,
			Logger:      logger,
		})
	} else {
		logger.Info("google integration disabled; classroom and gmail sync unavailable")
	}

	orchestrator, err := syncer.NewOrchestrator(orchestratorConfig)
	if err != nil {
		return nil, err
	}
	app.syncer = orchestrator

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return nil, err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		Users:          userService,
		Items:          itemStore,
		Syncer:         orchestrator,
		Google:         google,
		StateSecret:    stateSecret,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	app.handler = handler
	return app, nil
}

func buildGoogleIntegration(ctx context.Context, app *application, appConfig config.AppConfig, store oauth.CredentialStore, httpClient *http.Client) (googleIntegration, error) {
	endpoint, err := oauth.NewHTTPEndpoint(oauth.HTTPEndpointConfig{
		ClientID:     appConfig.Google.ClientID,
		ClientSecret: appConfig.Google.ClientSecret,
		RedirectURL:  appConfig.Google.RedirectURL,
		TokenURL:     appConfig.Google.TokenURL,
		RevokeURL:    appConfig.Google.RevokeURL,
		AuthURL:      appConfig.Google.AuthURL,
		HTTPClient:   httpClient,
	})
	if err != nil {
		return googleIntegration{}, err
	}

	locker, err := buildLocker(ctx, app, appConfig.RedisAddress)
	if err != nil {
		return googleIntegration{}, err
	}

	manager, err := oauth.NewManager(oauth.ManagerConfig{
		Store:    store,
		Endpoint: endpoint,
		Locker:   locker,
		Logger:   app.logger,
	})
	if err != nil {
		return googleIntegration{}, err
	}
	return googleIntegration{Manager: manager, endpoint: endpoint}, nil
}

// buildLocker serializes token refreshes across instances when Redis is
// configured and within the process otherwise.
func buildLocker(ctx context.Context, app *application, address string) (oauth.Locker, error) {
	if address == "" {
		return oauth.NewLocalLocker(), nil
	}
	options := &redis.Options{Addr: address}
	if strings.Contains(address, "://") {
		parsed, err := redis.ParseURL(address)
		if err != nil {
			return nil, fmt.Errorf("parse redis address: %w", err)
		}
		options = parsed
	}
	client := redis.NewClient(options)
	app.closers = append(app.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingWait)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", address, err)
	}
	app.logger.Info("using redis refresh locks", zap.String("address", options.Addr))
	return oauth.NewRedisLocker(client, 0, 0)
}
