package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"insta_relay/internal/config"
	"insta_relay/internal/domain"
	"insta_relay/internal/formatter"
	"insta_relay/internal/publisher"
	"insta_relay/internal/scheduler"
	"insta_relay/internal/service"
	"insta_relay/internal/session"
	"insta_relay/internal/source/instagram"
	"insta_relay/internal/storage/file"
	"insta_relay/internal/storage/postgres"
	"insta_relay/internal/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single relay pass and exit")
	flag.Parse()

	os.Exit(run(*configPath, *once))
}

func run(configPath string, once bool) int {
	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	if once {
		cfg.Sync.Interval = 0
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Instagram source
	igClient, err := instagram.New(instagram.Config{
		BaseURL:        cfg.Instagram.BaseURL,
		Timeout:        cfg.Instagram.Timeout,
		PageSize:       cfg.Instagram.PageSize,
		Proxy:          cfg.Instagram.Proxy,
		MaxAttempts:    cfg.Instagram.Retry.MaxAttempts,
		InitialBackoff: cfg.Instagram.Retry.InitialBackoff,
		MaxBackoff:     cfg.Instagram.Retry.MaxBackoff,
	}, logger)
	if err != nil {
		logger.Error("failed to create instagram client", "error", err)
		return 1
	}

	sessions := session.NewManager(
		igClient,
		session.NewFileStore(cfg.Instagram.SessionDir),
		session.Credentials{Username: cfg.Instagram.Username, Password: cfg.Instagram.Password},
		logger,
	)
	if err := sessions.Ensure(ctx); err != nil {
		logger.Error("failed to authenticate with instagram", "error", err)
		return 1
	}

	// Initialize watermark store
	store, closeStore, err := openStore(ctx, cfg.State, logger)
	if err != nil {
		logger.Error("failed to open state store", "backend", cfg.State.Backend, "error", err)
		return 1
	}
	defer closeStore()

	// Initialize RabbitMQ publisher
	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return 1
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	delivery := telegram.NewClient(telegram.Config{
		BaseURL: cfg.Telegram.BaseURL,
		Token:   cfg.Telegram.BotToken,
		ChatID:  cfg.Telegram.ChatID,
		Timeout: cfg.Telegram.Timeout,
	}, logger)

	format := formatter.New(formatter.Config{
		CaptionLimit:  cfg.Telegram.CaptionLimit,
		MaxMediaGroup: cfg.Telegram.MaxMediaGroup,
		Attribution:   cfg.Telegram.Attribution,
	})

	accounts := make([]domain.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, domain.NewAccount(a))
	}

	relay := service.NewRelayService(
		accounts,
		igClient,
		store,
		format,
		delivery,
		pub,
		logger,
		cfg.Sync,
	)

	sched := scheduler.NewScheduler(relay, cfg.Sync.Interval, cfg.Sync.Timeout, logger)

	logger.Info("starting instagram relay",
		"accounts", cfg.Accounts,
		"interval", cfg.Sync.Interval,
		"state_backend", cfg.State.Backend,
		"authenticated", cfg.Instagram.HasCredentials(),
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay failed", "error", err)
		return 1
	}
	return 0
}

func openStore(ctx context.Context, cfg config.StateConfig, logger *slog.Logger) (service.WatermarkStore, func(), error) {
	if cfg.Backend != config.BackendPostgres {
		return file.NewWatermarkStore(cfg.Path, logger), func() {}, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("connected to database")

	return postgres.NewWatermarkStore(db, postgres.NewTransactionManager(db)), func() { db.Close() }, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
