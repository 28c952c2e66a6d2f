package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roombook/internal/api"
	"roombook/internal/config"
	"roombook/internal/database"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/google"
	"roombook/internal/logging"
	"roombook/internal/metrics"
	"roombook/internal/models"
	"roombook/internal/notify"
	"roombook/internal/repository"
	"roombook/internal/schedule"
	"roombook/internal/service"
	"roombook/internal/tracing"
	"roombook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return fmt.Errorf("schedule timezone: %w", err)
	}
	catalog, err := schedule.NewCatalog(cfg.Schedule.Slots)
	if err != nil {
		return fmt.Errorf("schedule slots: %w", err)
	}
	detector := schedule.NewDetector(catalog, loc)

	repo, sqliteDB, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if sqliteDB != nil {
		backupLogger := logging.Component(&logger, "backup")
		go database.NewBackupService(sqliteDB, cfg.Backup, &backupLogger).Start(ctx)
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	limiter := initRateLimiter(ctx, redisClient, &logger)

	eventBus := events.NewEventBus()
	if forwarder := initKafka(cfg, &logger); forwarder != nil {
		forwarder.Attach(eventBus)
		defer func() { _ = forwarder.Close() }()
	}

	sheetsWorker := initSheetsWorker(ctx, cfg, repo, redisClient, loc, &logger)

	var notifier domain.Notifier
	if tg := initTelegram(cfg, &logger); tg != nil {
		notifier = tg
	}

	serviceLogger := logging.Component(&logger, "service")
	var syncWorker domain.SyncWorker
	var syncAdmin api.SyncAdmin
	if sheetsWorker != nil {
		syncWorker = sheetsWorker
		syncAdmin = sheetsWorker
	}

	bookingService := service.NewBookingService(repo, detector, cfg.Schedule, limiter, eventBus, syncWorker, notifier, &serviceLogger)
	roomService := service.NewRoomService(repo, eventBus, &serviceLogger)
	userService := service.NewUserService(repo, cfg, eventBus, &serviceLogger)
	statsService := service.NewStatsService(loc)

	rooms, err := loadRooms(cfg, &logger)
	if err != nil {
		return err
	}
	if _, err := roomService.Seed(ctx, rooms); err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}

	if notifier != nil && cfg.Telegram.DigestTime != "" {
		digestLogger := logging.Component(&logger, "digest")
		digest, err := notify.NewDailyDigest(bookingService, roomService, notifier, cfg.Telegram.DigestTime, loc, &digestLogger)
		if err != nil {
			return err
		}
		go digest.Start(ctx)
	}

	tokens := api.NewTokenParser(cfg.API.Auth.JWTSecret, cfg.API.Auth.JWTIssuer)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings: bookingService,
		Rooms:    roomService,
		Users:    userService,
		Stats:    statsService,
		Sync:     syncAdmin,
		Ready:    readiness(repo, redisClient),
	}, tokens, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, bookingService, tokens, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadRooms(cfg *config.Config, logger *zerolog.Logger) ([]models.Room, error) {
	roomsPath := os.Getenv("ROOMS_PATH")
	if roomsPath == "" {
		roomsPath = cfg.RoomsFile
	}
	if roomsPath == "" {
		return nil, nil
	}

	roomsData, err := os.ReadFile(roomsPath)
	if err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("read rooms")
		return nil, err
	}

	var roomsConfig struct {
		Rooms []models.Room `yaml:"rooms"`
	}
	if err := yaml.Unmarshal(roomsData, &roomsConfig); err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("parse rooms")
		return nil, err
	}

	return roomsConfig.Rooms, nil
}

// initDatabase returns the repository and, for SQLite, the concrete DB used by backups.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Repository, *database.DB, error) {
	dbLogger := logging.Component(logger, "database")

	if cfg.Database.Driver == config.DriverPostgres {
		store, err := database.NewPostgresStore(ctx, cfg.Database.Postgres, &dbLogger)
		if err != nil {
			logger.Error().Err(err).Msg("init postgres")
			return nil, nil, err
		}
		return store, nil, nil
	}

	db, err := database.NewDB(cfg.Database.Path, &dbLogger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, nil, err
	}
	return db, db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initRateLimiter(ctx context.Context, redisClient *redis.Client, logger *zerolog.Logger) domain.RateLimiter {
	memory := repository.NewMemoryRateLimiter()
	go pruneLoop(ctx, memory, logger)

	if redisClient == nil {
		return memory
	}
	limiterLogger := logging.Component(logger, "rate-limiter")
	return repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(redisClient), memory, &limiterLogger)
}

func pruneLoop(ctx context.Context, memory *repository.MemoryRateLimiter, logger *zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := memory.Prune(); n > 0 {
				logger.Debug().Int("removed", n).Msg("rate limiter windows pruned")
			}
		}
	}
}

func initKafka(cfg *config.Config, logger *zerolog.Logger) *events.KafkaForwarder {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	kafkaLogger := logging.Component(logger, "kafka")
	forwarder, err := events.NewKafkaForwarder(cfg.Kafka, cfg.App.Name, &kafkaLogger)
	if err != nil {
		logger.Warn().Err(err).Msg("kafka init failed, events stay in-process")
		return nil
	}
	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka forwarder attached")
	return forwarder
}

func initSheetsWorker(
	ctx context.Context,
	cfg *config.Config,
	repo domain.Repository,
	redisClient *redis.Client,
	loc *time.Location,
	logger *zerolog.Logger,
) *worker.SheetsWorker {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	sheetsLogger := logging.Component(logger, "sheets")
	sheetsService, err := google.NewSheetsService(
		ctx,
		cfg.Google.GoogleCredentialsFile,
		cfg.Google.BookingSpreadSheetID,
		cfg.Google.BookingsSheetName,
		loc,
		&sheetsLogger,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets connection test failed")
	}
	go sheetsService.Start(ctx)

	workerLogger := logging.Component(logger, "sheets-worker")
	sheetsWorker := worker.NewSheetsWorker(repo, sheetsService, redisClient, worker.DefaultRetryPolicy(), &workerLogger)
	go sheetsWorker.Start(ctx)

	logger.Info().Msg("google sheets connected")
	return sheetsWorker
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) *notify.TelegramNotifier {
	tgLogger := logging.Component(logger, "telegram")
	notifier, err := notify.NewTelegramNotifier(cfg.Telegram, &tgLogger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, admin notifications disabled")
		return nil
	}
	return notifier
}

func readiness(repo domain.Repository, redisClient *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if redisClient != nil {
			if err := repository.Ping(ctx, redisClient); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	event := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		event = event.Str("grpc_addr", grpcServer.Addr())
	}
	event.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
