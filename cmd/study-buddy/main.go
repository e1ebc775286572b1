package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shrutihegde1/study-buddy/internal/auth"
	"github.com/shrutihegde1/study-buddy/internal/config"
	"github.com/shrutihegde1/study-buddy/internal/items"
	"github.com/shrutihegde1/study-buddy/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "study-buddy",
		Short: "Academic deadline aggregator API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newSyncCommand(), newSessionTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "TAuth session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for cross-instance token refresh locks")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newSyncCommand() *cobra.Command {
	var userID, source string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass for a user and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd, userID, source)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Canonical user id")
	cmd.Flags().StringVar(&source, "source", "", "Source to sync (canvas, canvas_calendar, google_classroom, gmail); all when empty")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionTokenCommand() *cobra.Command {
	var userID, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "session-token",
		Short: "Mint a session token for local API access",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.TAuthSigningKey),
				Issuer:        appConfig.TAuthIssuer,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(userID, email, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s; send as cookie %q or Authorization: Bearer\n",
				token, expiresAt.Format(time.RFC3339), appConfig.TAuthCookieName)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed in the session")
	cmd.Flags().StringVar(&email, "email", "", "Email to embed in the session")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Session lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, userID, rawSource string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	app, err := buildApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	if rawSource == "" {
		runs := app.syncer.RunAll(ctx, userID)
		report := make([]syncReport, 0, len(runs))
		for _, run := range runs {
			report = append(report, newSyncReport(run))
		}
		return encoder.Encode(report)
	}

	source, err := items.ParseSource(rawSource)
	if err != nil {
		return err
	}
	result, err := app.syncer.Run(ctx, userID, source)
	if err != nil {
		return err
	}
	return encoder.Encode(result)
}

type syncReport struct {
	Source items.Source      `json:"source"`
	Result *syncer.RunResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func newSyncReport(run syncer.SourceRun) syncReport {
	report := syncReport{Source: run.Source}
	if run.Err != nil {
		report.Error = run.Err.Error()
		return report
	}
	result := run.Result
	report.Result = &result
	return report
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	app, err := buildApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.Bool("google_enabled", appConfig.Google.Enabled()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
