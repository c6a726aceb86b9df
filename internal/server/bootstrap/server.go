// Package bootstrap assembles the agent from configuration and runs the HTTP
// server with graceful shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"sage/internal/ai"
	"sage/internal/aliases"
	"sage/internal/cache"
	"sage/internal/config"
	"sage/internal/logging"
	"sage/internal/market"
	"sage/internal/news"
	"sage/internal/observability"
	"sage/internal/server/app"
	"sage/internal/server/httpapi"
	"sage/internal/session"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 90 * time.Second
	shutdownTimeout = 10 * time.Second
	redisPingWait   = 3 * time.Second
)

// Server is the fully wired agent process.
type Server struct {
	cfg      *config.Config
	obs      *observability.Logger
	logger   logging.Logger
	resolver *aliases.Resolver
	http     *http.Server
}

// New loads configuration from the environment and wires every component.
// Redis and Azure OpenAI being unreachable degrade the agent rather than
// failing startup.
func New() (*Server, error) {
	config.LoadDotenv()
	cfg := config.Load(nil)

	obs := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	logger := logging.FromObservability(obs, "bootstrap")

	rdb := connectRedis(cfg, logger)

	store := cache.New(rdb, logging.FromObservability(obs, "cache"))
	sessions := session.New(rdb, cfg.ChatHistoryTTL, logging.FromObservability(obs, "session"))

	marketClient := market.New(cfg.CoinGeckoAPIURL, cfg.CoinGeckoTimeout, logging.FromObservability(obs, "coingecko"))
	newsClient := news.New(cfg.CoinDeskRSS, cfg.RSS2JSONAPIURL, cfg.NewsTimeout, logging.FromObservability(obs, "news"))
	resolver := aliases.New(store, marketClient, cfg.AliasTTL, logging.FromObservability(obs, "aliases"))

	composer := buildComposer(cfg, logging.FromObservability(obs, "ai"), logger)

	dispatcher := app.New(
		sessions, store, marketClient, newsClient, resolver, composer,
		cfg.CacheTTLShort,
		logging.FromObservability(obs, "dispatcher"),
	)

	api := httpapi.NewServer(cfg, dispatcher, logging.FromObservability(obs, "http"))

	return &Server{
		cfg:      cfg,
		obs:      obs,
		logger:   logger,
		resolver: resolver,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      api.Handler(),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
	}, nil
}

// Run serves until SIGINT/SIGTERM, then drains in-flight requests.
func (s *Server) Run() error {
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		defer cancelWarm()
		s.resolver.Warm(warmCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		s.logger.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// connectRedis tries REDIS_URL first, then host/port settings. Both paths end
// with a ping; an unreachable Redis yields nil and the stores run on their
// in-process fallbacks.
func connectRedis(cfg *config.Config, logger logging.Logger) *redis.Client {
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
			rdb = redis.NewClient(opts)
		} else {
			logger.Warn("invalid REDIS_URL, falling back to host/port: %v", err)
		}
	}
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingWait)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, running without shared cache: %v", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// buildComposer returns the Azure client when configured, otherwise a stand-in
// whose errors let the dispatcher fall back to its fixed replies.
func buildComposer(cfg *config.Config, aiLogger, logger logging.Logger) ai.Composer {
	composer, err := ai.NewAzureClient(ai.AzureConfig{
		Endpoint:   cfg.AzureOpenAIEndpoint,
		APIKey:     cfg.AzureOpenAIAPIKey,
		APIVersion: cfg.AzureOpenAIAPIVersion,
		Deployment: cfg.AzureOpenAIDeployment,
		MaxTokens:  cfg.MaxTokens,
		Timeout:    60 * time.Second,
	}, aiLogger)
	if err != nil {
		logger.Warn("azure openai not configured, composition disabled: %v", err)
		return unconfiguredComposer{}
	}
	return composer
}

type unconfiguredComposer struct{}

func (unconfiguredComposer) Compose(ctx context.Context, req ai.Request) (string, error) {
	return "", errors.New("ai: composer not configured")
}
