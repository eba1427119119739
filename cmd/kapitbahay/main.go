package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lborres/kapitbahay"
	fiberadapter "github.com/lborres/kapitbahay/adapters/fiber"
	pgxadapter "github.com/lborres/kapitbahay/adapters/pgx"
	"github.com/lborres/kapitbahay/internal/config"
	"github.com/lborres/kapitbahay/pkg/mailer"
)

var configPath string

var (
	rootCmd = &cobra.Command{
		Use:           "kapitbahay",
		Short:         "Neighborhood community server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE:  runMigrate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "kapitbahay:", err)
		os.Exit(1)
	}
}

func logFormat() string {
	format := []string{
		"${time}",
		"${status}|${latency}",
		"${ip}",
		"${method}|${path}",
		"${error}",
	}
	return strings.Join(format, "|") + "\n"
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Database.Validate(); err != nil {
		return err
	}
	log := cfg.Log.Logger(os.Stderr)

	pool, err := connect(cmd.Context(), cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pgxadapter.New(pool, log).Migrate(cmd.Context()); err != nil {
		return err
	}
	log.Info().Msg("schema applied")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.Log.Logger(os.Stderr)

	pool, err := connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	storage := pgxadapter.New(pool, log.With().Str("component", "storage").Logger())

	app := fiber.New()
	app.Use(recoverer.New())
	app.Use(logger.New(logger.Config{
		Format:     logFormat(),
		TimeFormat: "2006/01/02 15:04:05",
		TimeZone:   "Local",
	}))

	var mail kapitbahay.Mailer
	if cfg.SMTP.Enabled() {
		smtp, err := mailer.New(cfg.SMTP)
		if err != nil {
			return err
		}
		mail = smtp
	}

	k, err := kapitbahay.New(kapitbahay.Config{
		Secret:  cfg.Auth.Secret,
		Storage: storage,
		HTTP:    fiberadapter.New(app),

		CacheConfig:   &kapitbahay.CacheConfig{TTL: cfg.Session.CacheTTL, MaxSize: cfg.Session.CacheSize},
		SessionConfig: &kapitbahay.SessionConfig{MaxAge: cfg.Session.MaxAge},

		Retry: &cfg.Retry,
		Guard: cfg.Guard,

		ClientIdleTTL: cfg.Server.ClientIdleTTL,
		MaxClients:    cfg.Server.MaxClients,
		LoadingWait:   cfg.Server.LoadingWait,

		AdminEmails: cfg.Auth.AdminEmails,
		Mailer:      mail,
		RecoveryURL: cfg.Auth.RecoveryURL,
		RecoveryTTL: cfg.Auth.RecoveryTTL,

		CookieSecure: cfg.Server.CookieSecure,
		Logger:       &log,
	})
	if err != nil {
		return fmt.Errorf("could not create kapitbahay instance: %w", err)
	}
	defer k.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		return app.Listen(cfg.Server.Addr, fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error {
		return k.Clients.Run(ctx, cfg.Server.SweepInterval)
	})
	g.Go(func() error {
		return purgeSessions(ctx, k, cfg.Session.PurgeInterval, log)
	})
	if cfg.Database.Listen {
		g.Go(func() error {
			return storage.Listen(ctx, pgxadapter.EventsChannel, k.Hub)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return pool, nil
}

// purgeSessions deletes expired sessions on every interval until ctx is done
func purgeSessions(ctx context.Context, k *kapitbahay.App, interval time.Duration, log zerolog.Logger) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := k.Issuer.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to purge expired sessions")
				continue
			}
			if n > 0 {
				log.Info().Int("removed", n).Msg("purged expired sessions")
			}
		}
	}
}
