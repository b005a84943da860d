package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/db"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/devmail"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/postmark"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/redis"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/smtp"
	"github.com/muratdemir0/gopulse-mailer/internal/adapters/sqs"
	"github.com/muratdemir0/gopulse-mailer/internal/app"
	"github.com/muratdemir0/gopulse-mailer/internal/config"
	"github.com/muratdemir0/gopulse-mailer/internal/domain"
	"github.com/muratdemir0/gopulse-mailer/internal/infra/cache"
	"github.com/muratdemir0/gopulse-mailer/internal/infra/database"
	"github.com/muratdemir0/gopulse-mailer/internal/infra/handlers"
	"github.com/muratdemir0/gopulse-mailer/internal/infra/lock"
	"github.com/muratdemir0/gopulse-mailer/internal/infra/middleware"
	"github.com/muratdemir0/gopulse-mailer/internal/telemetry"
	"github.com/muratdemir0/gopulse-mailer/migrations"
	redisclient "github.com/redis/go-redis/v9"
)

type App struct {
	config        *config.Config
	db            *db.Client
	redis         *redisclient.Client
	tracer        *telemetry.TracerProvider
	mailerService *app.MailerService
	server        *http.Server
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	ctx := context.Background()

	app, err := NewApp(ctx)
	if err != nil {
		slog.Error("failed to create app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			app.Close()
			os.Exit(1)
		}
	case sig := <-quit:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	app.Stop()
}

func NewApp(ctx context.Context) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("Starting application", "name", cfg.App.Name, "port", cfg.App.Port, "transport", cfg.Transport.Driver)

	a := &App{config: cfg}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := a.initDatabase(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initRedis(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	if err := a.initServices(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.initServer()

	return a, nil
}

func (a *App) Start() error {
	if a.config.Queue.AutoStart {
		if err := a.mailerService.StartAutoSending(); err != nil {
			slog.Warn("failed to start automatic message sending", "error", err)
		}
	}

	slog.Info("Server starting", "port", a.config.App.Port)
	return a.server.ListenAndServe()
}

func (a *App) Stop() {
	slog.Info("Starting graceful shutdown...")

	a.server.SetKeepAlivesEnabled(false)

	if err := a.mailerService.StopAutoSending(); err != nil {
		slog.Warn("failed to stop automatic message sending", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			slog.Error("Forced shutdown failed", "error", err)
		}
	}

	slog.Info("Server gracefully stopped")
}

func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("failed to close database connection", "error", err)
		}
		a.db = nil
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("failed to close redis connection", "error", err)
		}
		a.redis = nil
	}

	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			slog.Warn("failed to shut down tracer provider", "error", err)
		}
		a.tracer = nil
	}
}

func (a *App) initTelemetry(ctx context.Context) error {
	if !a.config.Telemetry.Enabled {
		slog.Info("Telemetry disabled")
		return nil
	}

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		ServiceName:  a.config.App.Name,
		OTLPEndpoint: a.config.Telemetry.OTLPEndpoint,
		SampleRate:   a.config.Telemetry.SampleRate,
	})
	if err != nil {
		return err
	}
	a.tracer = tp
	slog.Info("Telemetry initialized", "endpoint", a.config.Telemetry.OTLPEndpoint)
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	dbCfg := a.config.Database
	dbClient, err := db.NewDB(ctx, db.Config{
		DSN:             dbCfg.DSN,
		MaxOpenConns:    dbCfg.MaxOpenConns,
		MaxIdleConns:    dbCfg.MaxIdleConns,
		ConnMaxIdleTime: dbCfg.ConnMaxIdleTime,
		QueryTimeout:    dbCfg.QueryTimeout,
	})
	if err != nil {
		return err
	}
	a.db = dbClient
	slog.Info("Database connection established")

	if err := a.db.Migrate(ctx, migrations.FS, slog.Default()); err != nil {
		return err
	}
	slog.Info("Database migrations applied")
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	if !a.config.Redis.Enabled() {
		slog.Warn("Redis not configured, using process-local run lock and no receipt cache")
		return nil
	}

	redisClient, err := redis.New(ctx, a.config.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = redisClient
	slog.Info("Redis connection established", "addr", a.config.Redis.Addr)
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	transport, err := newTransport(a.config)
	if err != nil {
		return err
	}

	var opts []app.EngineOption
	if a.config.Events.Enabled {
		publisher, err := sqs.NewPublisher(ctx, sqs.Config{
			QueueURL: a.config.Events.SQSQueueURL,
			Region:   a.config.Events.AWSRegion,
			Endpoint: a.config.Events.AWSEndpoint,
		})
		if err != nil {
			return err
		}
		opts = append(opts, app.WithSentHook(publishSentEvent(publisher)))
		slog.Info("Delivery events enabled", "queue_url", a.config.Events.SQSQueueURL)
	}

	var (
		locker   domain.Locker
		receipts domain.ReceiptStore
	)
	if a.redis != nil {
		locker = lock.NewRedisLocker(a.redis, slog.Default())
		receipts = cache.NewReceiptCache(a.redis, a.config.Redis.ReceiptTTL)
	}

	queueCfg := a.config.Queue
	a.mailerService = app.NewMailerService(
		database.NewMessageRepository(a.db),
		transport,
		locker,
		receipts,
		app.ServiceConfig{
			Retry: app.RetryConfig{
				Policy: domain.RetryPolicy{
					MaxAttempts: queueCfg.MaxRetryAttempts,
					Delay:       queueCfg.RetryDelay,
				},
				BatchSize: queueCfg.BatchSize,
			},
			SendInterval: queueCfg.SendInterval,
			LockTTL:      queueCfg.LockTTL,
		},
		slog.Default(),
		opts...,
	)
	return nil
}

func publishSentEvent(publisher *sqs.Publisher) app.SentHook {
	return func(message domain.Message) {
		receipt, ok := message.Receipt()
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := publisher.PublishSent(ctx, receipt); err != nil {
			slog.Error("Error publishing delivery event", "message_id", message.ID, "error", err)
		}
	}
}

func newTransport(cfg *config.Config) (domain.Transport, error) {
	switch cfg.Transport.Driver {
	case config.TransportPostmark:
		return postmark.NewClient(postmark.Config{
			ServerToken:  cfg.Postmark.ServerToken,
			AccountToken: cfg.Postmark.AccountToken,
			From:         cfg.Postmark.From,
			ReplyTo:      cfg.Postmark.ReplyTo,
			Stream:       cfg.Postmark.Stream,
			Timeout:      cfg.Postmark.Timeout,
		})
	case config.TransportLog:
		return devmail.NewSender(cfg.Transport.LogDir, cfg.SMTP.From, slog.Default()), nil
	default:
		return smtp.NewClient(smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			From:               cfg.SMTP.From,
			HeloName:           cfg.SMTP.HeloName,
			TLSMode:            cfg.SMTP.TLSMode,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			DialTimeout:        cfg.SMTP.DialTimeout,
			SendTimeout:        cfg.SMTP.SendTimeout,
			DKIM: smtp.DKIMConfig{
				Domain:   cfg.DKIM.Domain,
				Selector: cfg.DKIM.Selector,
				KeyPath:  cfg.DKIM.KeyPath,
			},
		}, slog.Default())
	}
}

func (a *App) initServer() {
	handler := a.setupRoutes()
	a.server = a.setupHTTPServer(handler)
}

func (a *App) setupRoutes() http.Handler {
	checks := map[string]handlers.HealthCheck{
		"database": a.db.Ping,
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}

	mux := http.NewServeMux()
	handlers.RegisterHealthHandler(mux, checks)
	handlers.RegisterMessageHandler(mux, a.mailerService, slog.Default())

	return middleware.Chain(mux,
		middleware.Tracing(a.config.App.Name),
		middleware.Recovery(slog.Default()),
		middleware.Logging(slog.Default()),
	)
}

func (a *App) setupHTTPServer(handler http.Handler) *http.Server {
	readTimeout := getTimeoutValue(a.config.App.ReadTimeout, 30)
	writeTimeout := getTimeoutValue(a.config.App.WriteTimeout, 30)
	idleTimeout := getTimeoutValue(a.config.App.IdleTimeout, 120)
	maxHeaderBytes := getHeaderSize(a.config.App.MaxHeaderMB)

	slog.Info("Server configuration",
		slog.Int("read_timeout_sec", readTimeout),
		slog.Int("write_timeout_sec", writeTimeout),
		slog.Int("idle_timeout_sec", idleTimeout),
		slog.Int("max_header_mb", maxHeaderBytes>>20))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.App.Port),
		ReadTimeout:       time.Duration(readTimeout) * time.Second,
		WriteTimeout:      time.Duration(writeTimeout) * time.Second,
		IdleTimeout:       time.Duration(idleTimeout) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    maxHeaderBytes,
		Handler:           handler,
	}
}

func loadConfig() (*config.Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(".config", fmt.Sprintf("%s.yaml", env))
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Redis config", "addr", cfg.Redis.Addr)

	return cfg, nil
}

func getTimeoutValue(configValue, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}
	return defaultValue
}

func getHeaderSize(maxHeaderMB int) int {
	if maxHeaderMB > 0 {
		return maxHeaderMB << 20
	}
	return 1 << 20 // 1 MB default
}
