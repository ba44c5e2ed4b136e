package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/marks/internal/client"
	"github.com/MrSnakeDoc/marks/internal/config"
	"github.com/MrSnakeDoc/marks/internal/httpserver"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/identity"
	"github.com/MrSnakeDoc/marks/internal/index"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/redis"
	"github.com/MrSnakeDoc/marks/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/marks/internal/store/redis"
	"github.com/MrSnakeDoc/marks/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	clients     *index.ClientIndex
	gc          *scheduler.GarbageCollector
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(context.Background(), redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	store := redisstore.NewStore(redisClient)

	connectors, err := buildConnectors(cfg)
	if err != nil {
		loggerClient.Errorf("Failed to configure sign-in: %v", err)
		os.Exit(1)
	}
	provider := identity.NewProvider(
		store,
		identity.NewTokens([]byte(cfg.SessionSecret), cfg.PublicURL),
		cfg.SessionTTL,
		loggerClient,
		connectors...,
	)
	loggerClient.Info("sign-in providers configured",
		logger.String("providers", fmt.Sprint(provider.Providers())))

	// One bookmark client per device, created on its first request
	clients := index.NewClientIndex(func(device string) (*client.Client, error) {
		c := client.New(device, provider, store, loggerClient)
		if err := c.Start(); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	})

	gc := scheduler.NewGarbageCollector(clients, loggerClient, cfg.GCInterval, cfg.ClientIdleTTL)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		PublicURL:    cfg.PublicURL,
		CookieSecure: cfg.CookieSecure,
		RedisClient:  redisClient,
		Clients:      clients,
		Identity:     provider,
		KeepAlive:    30 * time.Second,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		clients:     clients,
		gc:          gc,
	}
}

func buildConnectors(cfg *config.Config) ([]identity.Connector, error) {
	var connectors []identity.Connector
	if cfg.DevLogin {
		connectors = append(connectors, identity.NewDevConnector(cfg.PublicURL))
	}
	if cfg.GoogleClientID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		google, err := identity.NewGoogleConnector(ctx,
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			cfg.PublicURL+"/auth/callback")
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		connectors = append(connectors, google)
	}
	return connectors, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting marks v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("garbage collector started",
			logger.Duration("interval", a.cfg.GCInterval),
			logger.Duration("idle_ttl", a.cfg.ClientIdleTTL))
		return a.gc.Start(gctx)
	})

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("⏳ Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	})

	err := g.Wait()

	// Clients hold Redis subscriptions, close them before the connection
	a.clients.CloseAll()
	a.logger.Info("✅ Clients closed")

	if a.redisClient != nil {
		if cerr := a.redisClient.Close(); cerr != nil {
			a.logger.Warnf("failed to close redis: %v", cerr)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	if err != nil {
		return err
	}
	a.logger.Info("✅ marks stopped cleanly")
	return nil
}
