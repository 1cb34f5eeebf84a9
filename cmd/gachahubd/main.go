// Command gachahubd runs the GachaHub server: the scrape scheduler, the
// ingestion pipeline, the notification dispatcher, and the admin API.
package main

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gachahub/gachahub/dbopen"
	"github.com/gachahub/gachahub/notify"
	"github.com/gachahub/gachahub/scrape"
	"github.com/gachahub/gachahub/shield"
	"github.com/gachahub/gachahub/users"
	_ "modernc.org/sqlite"
)

func main() {
	port := env("PORT", "8080")
	dbPath := env("DB_PATH", "db/gachahub.db")
	seedFile := env("SEED_FILE", "")
	logLevel := env("LOG_LEVEL", "info")

	secretInput := os.Getenv("SESSION_SECRET")
	if secretInput == "" {
		slog.Error("SESSION_SECRET is required")
		os.Exit(1)
	}
	// Derive a 32-byte JWT secret via SHA-256 (satisfies guard.MinSecretLen).
	secretHash := sha256.Sum256([]byte(secretInput))
	jwtSecret := secretHash[:]

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Database.
	db, err := dbopen.Open(dbPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(scrape.Schema),
		dbopen.WithSchema(users.Schema))
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := shield.Init(db); err != nil {
		slog.Error("shield init", "error", err)
		os.Exit(1)
	}

	userStore := users.NewStore(db)
	if err := seedAdmin(ctx, userStore); err != nil {
		slog.Error("seed admin", "error", err)
		os.Exit(1)
	}

	// Metrics.
	metrics := scrape.NewMetrics()

	// Notification dispatcher, enabled when SMTP_HOST is set.
	var dispatcher *notify.Dispatcher
	svcOpts := []scrape.ServiceOption{scrape.WithMetrics(metrics)}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		sender, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     host,
			Port:     envInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     env("SMTP_FROM", "noreply@gachahub.example"),
		})
		if err != nil {
			slog.Error("smtp sender", "error", err)
			os.Exit(1)
		}
		dispatcher = notify.NewDispatcher(sender, userStore, logger, notify.Config{},
			notify.WithFailureHook(metrics.IncNotifyFailure))
		dispatcher.Start(ctx)
		defer dispatcher.Close()
		svcOpts = append(svcOpts, scrape.WithNotifier(scrape.NewDigestNotifier(dispatcher)))
	} else {
		slog.Info("SMTP_HOST not set, email notifications disabled")
	}

	// Scrape service.
	svc, err := scrape.New(scrape.NewStore(db), &scrape.Config{}, logger, svcOpts...)
	if err != nil {
		slog.Error("scrape service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Seed site configs (defaults for the built-in sites, or a YAML file).
	if err := seedConfigs(ctx, svc, seedFile); err != nil {
		slog.Error("seed configs", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(ctx); err != nil {
		slog.Error("scheduler start", "error", err)
		os.Exit(1)
	}

	serve(ctx, port, newRouter(ctx, db, jwtSecret, svc, userStore, metrics, dispatcher))
}

func seedAdmin(ctx context.Context, store *users.Store) error {
	username := env("ADMIN_USERNAME", "admin")
	email := env("ADMIN_EMAIL", "admin@gachahub.example")
	password := env("ADMIN_PASSWORD", "changeme!")
	u, err := store.SeedAdmin(ctx, username, email, password)
	if err != nil {
		return err
	}
	if u != nil {
		slog.Info("admin user seeded", "username", username, "id", u.ID)
		if os.Getenv("ADMIN_PASSWORD") == "" {
			slog.Warn("admin seeded with the default password, change it")
		}
	}
	return nil
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		slog.Warn("bad integer env var, using default", "key", key, "value", s)
		return def
	}
	return v
}
