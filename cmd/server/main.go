package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"travel-chat/internal/chat"
	mongostore "travel-chat/internal/chat/store/mongo"
	"travel-chat/internal/chat/store/memory"
	"travel-chat/internal/config"
	"travel-chat/internal/db"
	"travel-chat/internal/pubsub"
	"travel-chat/internal/user"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Config & Flags
	addr := pflag.String("addr", "", "http service address (overrides SERVICE_ADDR)")
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Service.Addr = *addr
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 2. Connect to Database (Platform Layer)
	var database *db.Database
	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.AutoMigrate {
			if err := db.Migrate(cfg.Postgres.DSN, false); err != nil {
				return err
			}
			logger.Info("database schema up to date")
		}

		var err error
		database, err = db.NewDatabase(cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer database.Close() //nolint:errcheck // .
		logger.Info("connected to postgres")
	}

	store, closeStore, err := openStore(ctx, cfg, database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Connect to the broker (Platform Layer)
	broker, err := openBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close() //nolint:errcheck // .

	// 4. Initialize User Feature
	var userRepo user.UserRepository = user.NewMemoryRepository()
	if database != nil {
		userRepo = user.NewRepository(database.Conn)
	}
	userService := user.NewService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// 5. Initialize Chat Feature
	g, gctx := errgroup.WithContext(ctx)

	hub := chat.NewHub(logger)
	chatService := chat.NewService(store, broker, userService, logger, chat.Options{
		StoreTimeout:     cfg.Chat.StoreTimeout,
		PublishTimeout:   cfg.Chat.PublishTimeout,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	})

	router := newRouter(routerDeps{
		logger:      logger,
		users:       user.NewHandler(userService, logger),
		chat:        chat.NewHandler(gctx, chatService, hub, logger),
		validator:   userService,
		healthCheck: healthCheck(database),
	})

	srv := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 6. Start the engines
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return broker.Run(gctx, hub.Deliver)
	})
	g.Go(func() error {
		logger.Info("server starting", "addr", srv.Addr, "store", cfg.Chat.StoreDriver, "broker", cfg.Chat.BrokerDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, database *db.Database, logger *slog.Logger) (chat.Store, func(), error) {
	switch cfg.Chat.StoreDriver {
	case config.StorePostgres:
		return chat.NewRepository(database.Conn), func() {}, nil

	case config.StoreMongo:
		client, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		store := mongostore.New(client.Database(cfg.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		logger.Info("connected to mongo", "database", cfg.Mongo.Database)
		return store, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}
}

func openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pubsub.Broker, error) {
	if cfg.Chat.BrokerDriver == config.BrokerMemory {
		return pubsub.NewMemory(1024), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	return &redisBroker{Redis: pubsub.NewRedis(client, cfg.Redis.ChannelPrefix, logger), client: client}, nil
}

// redisBroker closes the client it was built on.
type redisBroker struct {
	*pubsub.Redis
	client *redis.Client
}

func (b *redisBroker) Close() error {
	return b.client.Close()
}

func healthCheck(database *db.Database) func(context.Context) error {
	return func(ctx context.Context) error {
		if database == nil {
			return nil
		}
		return database.Conn.PingContext(ctx)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("service", cfg.Service.Name)
}
