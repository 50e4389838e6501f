package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/echonote/echonote/internal/adapter/handler"
	"github.com/echonote/echonote/internal/adapter/repository"
	"github.com/echonote/echonote/internal/domain/repositories"
	"github.com/echonote/echonote/internal/infrastructure/cache"
	"github.com/echonote/echonote/internal/infrastructure/connection"
	"github.com/echonote/echonote/internal/infrastructure/database"
	httpmw "github.com/echonote/echonote/internal/infrastructure/http/middleware"
	"github.com/echonote/echonote/internal/infrastructure/storage"
	"github.com/echonote/echonote/internal/usecase/session"
	"github.com/echonote/echonote/internal/usecase/stream"
	pkgai "github.com/echonote/echonote/pkg/ai"
	"github.com/echonote/echonote/pkg/config"
	"github.com/echonote/echonote/pkg/jobcontext"
	"github.com/echonote/echonote/pkg/jwt"
	pkgvalidator "github.com/echonote/echonote/pkg/validator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := bootstrap()
		defer logger.Sync()
		return serve(cmd.Context(), cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("initializing dependencies")

	// Database
	db, err := database.NewPostgresDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.CloseDB(db, logger)

	if cfg.Database.AutoMigrate {
		if cfg.IsProduction() {
			return errors.New("DB_AUTO_MIGRATE is enabled in production; run `echonote migrate` instead")
		}
		if _, err := database.Migrate(db, cfg.Database.Migrations, migrate.Up, logger); err != nil {
			return err
		}
	}

	// Cache
	var sessionCache repositories.Cache
	if cfg.Redis.Host == "" {
		logger.Warn("REDIS_HOST is empty, using in-process cache")
		mem := cache.NewMemoryStore()
		defer mem.Close()
		sessionCache = mem
	} else {
		redisClient, err := cache.NewRedisClient(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisCache := cache.NewRedisCache(redisClient)
		defer redisCache.Close()
		sessionCache = redisCache
	}

	// Blob storage
	blobs, err := storage.NewMinIOClient(ctx, &cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	// Speech engines
	groqClient := pkgai.NewGroqClient(&cfg.Groq)
	var transcriber stream.Transcriber = groqClient
	if strings.EqualFold(cfg.Pipeline.STTProvider, config.STTProviderAssemblyAI) {
		transcriber = pkgai.NewAssemblyAIClient(&cfg.Assembly)
	}
	logger.Info("speech engines ready",
		zap.String("stt", cfg.Pipeline.STTProvider),
		zap.String("translation_model", cfg.Groq.TranslationModel),
	)

	// Session lifecycle
	retry := jobcontext.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Pipeline.PersistRetries
	sessions := session.NewService(
		repository.NewSessionRepository(db),
		repository.NewTranscriptRepository(db),
		sessionCache,
		blobs,
		transcriber,
		groqClient,
		session.Config{
			CacheTTL:        cfg.Redis.TTL,
			QueueCapacity:   cfg.Pipeline.QueueCapacity,
			PersistTimeout:  cfg.Pipeline.PersistTimeout,
			FinalizeTimeout: cfg.Pipeline.FinalizeTimeout,
			Retry:           retry,
			AudioExtension:  cfg.Pipeline.AudioExtension,
		},
		logger,
	)

	registry := connection.NewRegistry(logger)
	jwtManager := jwt.NewManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry, cfg.JWT.Issuer)

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Validator = pkgvalidator.New()

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http.request",
				zap.String("request_id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))

	router := handler.NewRouter(
		cfg,
		handler.NewSessionHandler(sessions, logger),
		handler.NewStreamHandler(sessions, registry, cfg.Server.AllowedOrigins, logger),
		registry,
		httpmw.EchoAuth(jwtManager),
	)
	router.Setup(e)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", addr), zap.String("environment", cfg.Server.Environment))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	closed := registry.Drain(timeout)
	logger.Info("live connections closed", zap.Int("count", closed))

	// drained streams are still finalizing against db, cache and storage
	finalizeWait := timeout
	if cfg.Pipeline.FinalizeTimeout > finalizeWait {
		finalizeWait = cfg.Pipeline.FinalizeTimeout
	}
	waitCtx, cancelWait := context.WithTimeout(context.Background(), finalizeWait)
	defer cancelWait()
	if err := sessions.Wait(waitCtx); err != nil {
		logger.Warn("live sessions not finalized before shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
