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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/analysis"
	"github.com/san-kum/rep-integrity/server/cache"
	"github.com/san-kum/rep-integrity/server/config"
	"github.com/san-kum/rep-integrity/server/framestore"
	"github.com/san-kum/rep-integrity/server/handlers"
	"github.com/san-kum/rep-integrity/server/middleware"
	"github.com/san-kum/rep-integrity/server/ml"
	"github.com/san-kum/rep-integrity/server/processor"
	"github.com/san-kum/rep-integrity/server/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the analysis API under /api/v1 and job progress on /ws.

Configuration is read from the environment (SERVER_PORT, ML_BASE_URL,
DB_PATH, ...). ANALYSIS_CONFIG points at an optional YAML file that
overrides engine thresholds and registers extra exercises.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	processor   *processor.Processor
	mlClient    *ml.Client
	cache       cache.Cache
	store       *store.Store
	rateLimiter *middleware.RateLimiter
	config      *config.Config
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		return err
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		server.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	server.Close()

	logger.Info("Server exited")
	return nil
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	registry, err := cfg.Analysis.Registry()
	if err != nil {
		return nil, err
	}
	engine, err := analysis.NewEngine(cfg.Analysis.Engine, registry, logger.Named("engine"))
	if err != nil {
		return nil, err
	}

	runStore, err := store.Open(cfg.Database.Path, cfg.Database.MaxConns, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	cacheInstance := cache.NewMemoryCache(cfg.Cache.MaxSize, cfg.Cache.TTL, cfg.Cache.CleanupInterval, logger)

	mlClient, err := ml.NewClient(cfg.ML.BaseURL, ml.ClientConfig{
		Timeout:             cfg.ML.Timeout,
		MaxRetries:          cfg.ML.MaxRetries,
		RetryDelay:          cfg.ML.RetryDelay,
		HealthCheckInterval: cfg.ML.HealthCheckInterval,
	}, logger)
	if err != nil {
		runStore.Close()
		cacheInstance.Close()
		return nil, fmt.Errorf("failed to create ML client: %w", err)
	}

	jobProcessor := processor.NewProcessor(engine, mlClient, runStore, cacheInstance, processor.Config{
		Workers:    cfg.Processor.Workers,
		QueueSize:  cfg.Processor.QueueSize,
		JobTimeout: cfg.Processor.JobTimeout,
		JobTTL:     cfg.Processor.JobTTL,
		Sampling:   framestore.DefaultSampling,
	}, logger)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxUploadSize))
	router.Use(middleware.InputValidation())

	analysisHandler := handlers.NewAnalysisHandler(jobProcessor, runStore, handlers.Config{
		UploadDir:      cfg.Processor.UploadDir,
		MaxCaptureSize: cfg.Security.MaxRequestSize,
		MaxUploadSize:  cfg.Security.MaxUploadSize,
	}, logger)
	wsHandler := handlers.NewWebSocketHandler(jobProcessor, logger)

	setupRoutes(router, analysisHandler, wsHandler, rateLimiter, cfg.Security.RequestTimeout)

	return &Server{
		router:      router,
		logger:      logger,
		processor:   jobProcessor,
		mlClient:    mlClient,
		cache:       cacheInstance,
		store:       runStore,
		rateLimiter: rateLimiter,
		config:      cfg,
	}, nil
}

func setupRoutes(router *gin.Engine, analysisHandler *handlers.AnalysisHandler, wsHandler *handlers.WebSocketHandler, rateLimiter *middleware.RateLimiter, requestTimeout time.Duration) {
	router.GET("/health", middleware.HealthCheck())

	// Websocket connections are long lived; they get no request timeout.
	router.GET("/ws", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		limited := api.Group("/")
		limited.Use(rateLimiter.RateLimit())
		limited.Use(middleware.TimeoutHandler(requestTimeout))
		analysisHandler.Register(limited)
	}
}

// Close releases everything NewServer opened, in dependency order.
func (s *Server) Close() {
	if err := s.processor.Shutdown(30 * time.Second); err != nil {
		s.logger.Error("Failed to shutdown processor", zap.Error(err))
	}

	s.mlClient.Close()
	s.rateLimiter.Shutdown()

	if err := s.cache.Close(); err != nil {
		s.logger.Error("Failed to close cache", zap.Error(err))
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close run store", zap.Error(err))
	}
}
