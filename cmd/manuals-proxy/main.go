package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/manuals-client/pkg/client"
	"github.com/Sternrassler/manuals-client/pkg/config"
	"github.com/Sternrassler/manuals-client/pkg/history"
	"github.com/Sternrassler/manuals-client/pkg/logging"
	"github.com/Sternrassler/manuals-client/pkg/notify"
	"github.com/Sternrassler/manuals-client/pkg/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("MANUALS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Proxy failed")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Output:  os.Stderr,
		Service: "manuals-proxy",
	})
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, readiness, closeStore, err := openStore(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeStore()

	notifications := notify.NewBus()
	notifications.Subscribe(notify.NewLogNotifier())

	clientCfg := client.DefaultConfig(cfg.API.URL, cfg.API.Key)
	clientCfg.UserAgent = cfg.API.UserAgent
	clientCfg.Timeout = cfg.API.Timeout
	clientCfg.Cache = cfg.Cache
	clientCfg.Retry = cfg.Retry
	clientCfg.Notifier = notifications

	apiClient, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	defer apiClient.Close()

	searchHistory := history.NewManager(store,
		history.Config{MaxItems: cfg.History.MaxItems},
		history.WithNotifier(notifications),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           newServer(apiClient, searchHistory, notifications, readiness).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("api_url", cfg.API.URL).
			Str("user_agent", cfg.API.UserAgent).
			Bool("cache_enabled", cfg.Cache.Enabled).
			Msg("Starting manuals proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// openStore connects to Redis when an address is configured and falls back
// to process memory otherwise. The returned pinger is nil for memory.
func openStore(ctx context.Context, cfg config.RedisConfig) (storage.Store, pinger, func(), error) {
	logger := logging.NewLogger("main")

	if cfg.Addr == "" {
		logger.Info().Msg("No Redis configured, keeping history in memory")
		return storage.NewMemoryStore(), nil, func() {}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	store := storage.NewRedisStore(redisClient, cfg.KeyPrefix)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		redisClient.Close()
		return nil, nil, nil, err
	}
	logger.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")

	return store, store, func() { redisClient.Close() }, nil
}
