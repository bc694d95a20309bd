package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/avnmr/ai-retail/pkg/api"
	"github.com/avnmr/ai-retail/pkg/config"
	"github.com/avnmr/ai-retail/pkg/flowise"
	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/registry"
	"github.com/avnmr/ai-retail/pkg/services"
	"github.com/avnmr/ai-retail/pkg/storage"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

// App represents the flowstudio application
type App struct {
	config          *config.Config
	server          *api.Server
	storageProvider storage.StorageProvider
	redis           *redis.Client
	logger          *slog.Logger
	logCloser       io.Closer
}

// NewApp wires storage, services and the HTTP server from the configuration
func NewApp(cfg *config.Config) (*App, error) {
	logger, logCloser, err := logging.New(logging.LogConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{config: cfg, logger: logger, logCloser: logCloser}
	if err := app.init(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init() error {
	cfg := a.config

	storageProvider, err := newStorageProvider(cfg.Storage)
	if err != nil {
		return err
	}
	a.storageProvider = storageProvider
	a.logger.Info("storage provider created", "type", cfg.Storage.Type)

	if err := storageProvider.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	indexes, err := a.newIndexProvider()
	if err != nil {
		return err
	}

	events := api.NewEventBroker(a.logger)
	ws := api.NewWebSocketManager(a.logger)

	flowRegistry := registry.NewFlowRegistry(storageProvider.GetFlowStore(), registry.FlowRegistryOptions{
		Publishers: []registry.EventPublisher{events, ws},
		Logger:     a.logger,
	})

	jwtService := services.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)
	accountService := services.NewAccountService(storageProvider.GetAccountStore(), jwtService)

	chat := flowise.NewClient(cfg.Chat.BaseURL, cfg.Chat.APIKey, cfg.Chat.Timeout())

	a.server = api.NewServer(cfg, api.Dependencies{
		FlowRegistry:   flowRegistry,
		AccountService: accountService,
		Indexes:        indexes,
		Chat:           chat,
		Events:         events,
		WebSocket:      ws,
		Logger:         a.logger,
	})
	return nil
}

// newStorageProvider maps the storage section to a provider
func newStorageProvider(cfg config.StorageConfig) (storage.StorageProvider, error) {
	providerType, err := storage.ParseProviderType(cfg.Type)
	if err != nil {
		return nil, err
	}

	provider, err := storage.NewProvider(storage.ProviderConfig{
		Type: providerType,
		DynamoDB: &storage.DynamoDBProviderConfig{
			Region:      cfg.DynamoDB.Region,
			Endpoint:    cfg.DynamoDB.Endpoint,
			TablePrefix: cfg.DynamoDB.TablePrefix,
		},
		PostgreSQL: &storage.PostgreSQLProviderConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage provider: %w", providerType, err)
	}
	return provider, nil
}

// newIndexProvider picks Pinecone when configured and guards creation with a
// Redis lock when Redis is configured
func (a *App) newIndexProvider() (vectorindex.Provider, error) {
	cfg := a.config

	var provider vectorindex.Provider
	switch cfg.VectorIndex.Provider {
	case "pinecone":
		if cfg.VectorIndex.APIKey == "" {
			return nil, fmt.Errorf("vector index provider pinecone requires an API key")
		}
		provider = vectorindex.NewPineconeProvider(vectorindex.PineconeConfig{
			APIKey:     cfg.VectorIndex.APIKey,
			BaseURL:    cfg.VectorIndex.BaseURL,
			APIVersion: cfg.VectorIndex.APIVersion,
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
		})
	case "", "memory":
		if cfg.VectorIndex.APIKey != "" {
			a.logger.Warn("pinecone API key set but vector index provider is memory")
		}
		provider = vectorindex.NewMemoryProvider()
	default:
		return nil, fmt.Errorf("unsupported vector index provider: %s", cfg.VectorIndex.Provider)
	}
	a.logger.Info("vector index provider created", "provider", cfg.VectorIndex.Provider)

	var locker vectorindex.Locker
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		locker = vectorindex.NewRedisLocker(a.redis, "flowstudio:index-lock:")
		a.logger.Info("index provisioning lock enabled", "redis", cfg.Redis.Addr)
	}

	return vectorindex.NewProvisioner(provider, locker, cfg.Redis.LockTTL(), a.logger), nil
}

// Handler returns the HTTP handler of the API server
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Start starts the application
func (a *App) Start() error {
	a.logger.Info("starting application", "name", AppName, "version", AppVersion)
	return a.server.Start()
}

// Stop stops the server gracefully and releases resources
func (a *App) Stop(ctx context.Context) error {
	if err := a.server.Stop(ctx); err != nil {
		return err
	}
	return a.Close()
}

// Close releases storage, Redis and the log output
func (a *App) Close() error {
	var firstErr error
	if a.storageProvider != nil {
		if err := a.storageProvider.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close storage: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close redis: %w", err)
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}
