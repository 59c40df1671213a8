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

	"github.com/damoang/angple-messenger/internal/config"
	"github.com/damoang/angple-messenger/internal/database"
	"github.com/damoang/angple-messenger/internal/handler"
	"github.com/damoang/angple-messenger/internal/middleware"
	"github.com/damoang/angple-messenger/internal/migration"
	"github.com/damoang/angple-messenger/internal/presence"
	"github.com/damoang/angple-messenger/internal/repository"
	"github.com/damoang/angple-messenger/internal/routes"
	"github.com/damoang/angple-messenger/internal/service"
	"github.com/damoang/angple-messenger/internal/ws"
	"github.com/damoang/angple-messenger/pkg/jwt"
	pkglogger "github.com/damoang/angple-messenger/pkg/logger"
	pkgredis "github.com/damoang/angple-messenger/pkg/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	gormlogger "gorm.io/gorm/logger"
)

// getConfigPath returns config file path based on APP_ENV environment variable
func getConfigPath(env string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	dotenvFiles := config.LoadDotEnv()

	// 로거 초기화
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	log := pkglogger.GetLogger()
	log.Info().Str("app_env", env).Strs("env_files", dotenvFiles).Msg("starting angple-messenger")

	// 설정 로드
	configPath := getConfigPath(env)
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}
	pkglogger.SetLevel(cfg.Server.LogLevel)
	config.LogResolved(cfg)

	// 메시지 저장소
	db, err := database.Open(cfg.Database, gormlogger.Warn)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to connect to database")
	}
	if err := migration.Run(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close() //nolint:errcheck
	}

	// Redis 연결 (없으면 단일 인스턴스 모드)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(context.Background(), pkgredis.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, continuing as a single instance")
			redisClient = nil
		} else {
			defer redisClient.Close() //nolint:errcheck
			log.Info().Msg("connected to Redis")
		}
	}

	// Event channel
	hub := ws.NewHub(redisClient, ws.WithSubscriptionBuffer(cfg.WebSocket.SubscriptionBuffer))

	// Presence registry
	presenceOpts := []presence.Option{
		presence.WithTimeout(cfg.Presence.TimeoutDuration()),
		presence.WithCheckInterval(cfg.Presence.CheckIntervalDuration()),
	}
	var remote service.RemoteSnapshotter
	if redisClient != nil {
		mirror := presence.NewRedisMirror(redisClient, hub.InstanceID(), cfg.Presence.TimeoutDuration())
		presenceOpts = append(presenceOpts, presence.WithObserver(mirror), presence.WithCluster(mirror))
		remote = mirror
	}
	registry := presence.NewRegistry(hub, presenceOpts...)

	// Services
	messageRepo := repository.NewMessageRepository(db,
		repository.WithMaxContentLength(cfg.Messaging.MaxContentLength),
	)
	messageService := service.NewMessageService(messageRepo, hub, service.MessageServiceConfig{
		MaxContentLength:    cfg.Messaging.MaxContentLength,
		DefaultHistoryLimit: cfg.Messaging.DefaultHistoryLimit,
		MaxHistoryLimit:     cfg.Messaging.MaxHistoryLimit,
	})
	presenceService := service.NewPresenceService(registry, hub, remote)

	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.ExpiresIn)

	// Handlers
	var redisPing handler.PingFunc
	if redisClient != nil {
		redisPing = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	handlers := routes.Handlers{
		Message:  handler.NewMessageHandler(messageService),
		Presence: handler.NewPresenceHandler(presenceService),
		WS: handler.NewWSHandler(hub, presenceService, handler.WSHandlerConfig{
			AllowedOrigins:  cfg.CORS.Origins(),
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		}),
		Health: handler.NewHealthHandler(db, redisPing),
	}

	// Gin 라우터 생성
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORS)))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	sendLimit := middleware.RateLimitPerUser(redisClient, middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Messaging.SendRatePerMinute,
		KeyPrefix:         middleware.DefaultSendRateLimitConfig().KeyPrefix,
		Message:           middleware.DefaultSendRateLimitConfig().Message,
	})
	routes.Setup(router, handlers, jwtManager, sendLimit)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if sqlDB, err := db.DB(); err == nil {
					middleware.SetDBConnectionsOpen(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// Subscribers see ErrHubStopped; presence is rebuilt on reconnect
		hub.Stop()
		registry.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func corsConfig(c config.CORSConfig) cors.Config {
	origins := c.Origins()
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:           12 * time.Hour,
	}
}
