package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KumiProject/chartsets/internal/accounts"
	"github.com/KumiProject/chartsets/internal/config"
	"github.com/KumiProject/chartsets/internal/logging"
	"github.com/KumiProject/chartsets/internal/server"
	"github.com/KumiProject/chartsets/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	serviceName    = "kumi-chartsets"
	serviceVersion = "0.1.0"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartsets-api",
		Short: "Kumi chart set submission and nomination service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand(), newRankCommand(), newAccountCommand())

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
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("blob-driver", defaults.GetString("blob.driver"), "Blob store driver (memory, filesystem, s3)")
	cmd.PersistentFlags().String("blob-root", defaults.GetString("blob.root"), "Filesystem blob store root")
	cmd.PersistentFlags().String("search-url", "", "Meilisearch URL (indexing is disabled when empty)")
	cmd.PersistentFlags().String("nats-url", "", "NATS URL (JetStream publishing is disabled when empty)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().Int("nominators-required", defaults.GetInt("nomination.required"), "Nominations needed to qualify a set")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().Bool("tracing", defaults.GetBool("telemetry.tracing"), "Export traces to stdout")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "blob.driver", "blob-driver")
	bindFlag(cmd, "blob.root", "blob-root")
	bindFlag(cmd, "search.url", "search-url")
	bindFlag(cmd, "nats.url", "nats-url")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "nomination.required", "nominators-required")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "telemetry.tracing", "tracing")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotenv(); err != nil {
		return err
	}

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

// loadRuntime reads the configuration and builds the logger shared by every command.
func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if appConfig.TracingEnabled {
		provider, err := telemetry.InitTracer(serviceName, serviceVersion)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         app.tokens,
		Submissions:    app.submissions,
		Nominations:    app.nominations,
		Moderation:     app.moderation,
		Events:         app.broadcaster,
		Metrics:        app.metrics,
		ScratchDir:     appConfig.Media.ScratchDir,
		UploadMaxBytes: appConfig.UploadMaxBytes,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	go func() {
		err := app.ranking.Run(signalCtx, appConfig.Nomination.QueueInterval)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ranking worker stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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

func newTokenCommand() *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := buildApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			if _, err := app.accounts.FindByID(cmd.Context(), accountID); err != nil {
				return fmt.Errorf("account %d: %w", accountID, err)
			}
			token, expiresIn, err := app.tokens.IssueToken(accountID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires in %ds\n", token, expiresIn)
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "Account id placed in the token subject")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newRankCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Rank every qualified set whose waiting period has elapsed, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := buildApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			ranked, err := app.ranking.ProcessDue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ranked %d set(s)\n", ranked)
			return nil
		},
	}
}

func newAccountCommand() *cobra.Command {
	var permissions int64
	cmd := &cobra.Command{
		Use:   "account <username>",
		Short: "Create an account with the given permission bits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := buildApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close() //nolint:errcheck

			account, err := app.accounts.Create(cmd.Context(), args[0], accounts.Permission(permissions))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created account %d (%s)\n", account.ID, account.Username)
			return nil
		},
	}
	cmd.Flags().Int64Var(&permissions, "permissions", 0, "Permission bitfield (512 nominate, 1024 disqualify)")
	return cmd
}
