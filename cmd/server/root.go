package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/config"
	"github.com/hongminglow/tours-be/internal/logging"
	"github.com/hongminglow/tours-be/internal/mail"
	"github.com/hongminglow/tours-be/internal/server"
	"github.com/hongminglow/tours-be/internal/storage"
	"github.com/hongminglow/tours-be/internal/storage/memory"
	"github.com/hongminglow/tours-be/internal/storage/mongo"
	"github.com/hongminglow/tours-be/internal/storage/postgres"
)

const (
	serviceName     = "tours-be"
	shutdownTimeout = 15 * time.Second
	smtpMaxRetries  = 3
)

// NewRootCmd creates the root command. Running it without a subcommand
// serves the HTTP API.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tours-be",
		Short:        "Tours booking backend",
		Long:         `Serves the tours REST API: signup, login, password reset and role-guarded user routes.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewMigrateCmd())
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}
	logger := logging.SetDefault(serviceName, version, cfg.LogFormat)
	logger.Info("configuration loaded", "config", cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
	}
	defer closeStore()

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "create mailer").Wrap(err)
	}

	srv, err := server.New(cfg, server.Deps{
		Store:   store,
		Mailer:  mailer,
		Logger:  logger,
		Version: version,
	})
	if err != nil {
		return oops.Code("SERVER_INIT_FAILED").Wrap(err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tours backend listening", "addr", cfg.HTTPAddress())
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("SERVER_FAILED").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// openStore connects the configured user store. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config) (storage.UserStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		store, err := postgres.NewUserStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreMongo:
		store, err := mongo.NewUserStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				slog.Warn("disconnect mongo", "error", err)
			}
		}, nil
	case config.StoreMemory:
		slog.Warn("using the in-memory user store; data is lost on restart")
		return memory.NewUserStore(), func() {}, nil
	default:
		return nil, nil, oops.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newMailer(cfg config.Config, logger *slog.Logger) (auth.Mailer, error) {
	if cfg.MailDriver != config.MailSMTP {
		return mail.NewLogMailer(logger), nil
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		From:       cfg.SMTP.From,
		MaxRetries: smtpMaxRetries,
	}, logger)
}
