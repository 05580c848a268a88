package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairgate/adapters/events"
	"github.com/layer-3/pairgate/adapters/metrics"
	"github.com/layer-3/pairgate/adapters/protocol"
	"github.com/layer-3/pairgate/adapters/store"
	"github.com/layer-3/pairgate/adapters/tokenizer"
	"github.com/layer-3/pairgate/config"
	"github.com/layer-3/pairgate/ports"
	"github.com/layer-3/pairgate/service"
	httptransport "github.com/layer-3/pairgate/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface and the session controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	var eventPub ports.EventPublisher
	if cfg.Events.Enabled {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			return fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		defer publisher.Close()
		eventPub = events.NewWatermillPublisher(publisher, cfg.Events.Topic)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessionStore := store.NewRedisStore(redisClient, cfg.Store(), logger)
	bridge := protocol.NewBridge(cfg.Bridge.URL, logger)

	controller := service.NewController(sessionStore, bridge, cfg.Service(),
		service.WithLogger(logger),
		service.WithPublisher(eventPub),
		service.WithMetrics(metrics.NewPrometheus(registry)),
	)

	var tok ports.Tokenizer
	if cfg.Server.JWTSecret != "" {
		tok = tokenizer.NewJWTTokenizer([]byte(cfg.Server.JWTSecret), cfg.Server.TokenTTL, nil)
	}
	general, connect := cfg.RateLimits()

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.SetupRouter(controller, httptransport.RouterOptions{
		APIKeys:      cfg.Server.APIKeys,
		Tokenizer:    tok,
		RateLimit:    general,
		RateBurst:    cfg.Server.RateBurst,
		ConnectLimit: connect,
		ConnectBurst: 10,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("bridge", cfg.Bridge.URL))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			shutdownController(controller, cfg, logger)
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	shutdownController(controller, cfg, logger)
	return nil
}

func shutdownController(controller *service.Controller, cfg config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := controller.Shutdown(ctx); err != nil {
		logger.Warn("controller shutdown", zap.Error(err))
	}
}
