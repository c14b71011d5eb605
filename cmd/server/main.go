package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deptportal/backend/internal/auth"
	jwtpkg "deptportal/backend/internal/auth/jwt"
	"deptportal/backend/internal/blob"
	"deptportal/backend/internal/config"
	"deptportal/backend/internal/health"
	"deptportal/backend/internal/logger"
	"deptportal/backend/internal/monitoring"
	"deptportal/backend/internal/notify"
	"deptportal/backend/internal/pool"
	"deptportal/backend/internal/service"
	"deptportal/backend/internal/smtpgw"
	"deptportal/backend/internal/storage"
	"deptportal/backend/internal/storage/memory"
	redisstore "deptportal/backend/internal/storage/redis"
	sqlstore "deptportal/backend/internal/storage/sql"
	httptransport "deptportal/backend/internal/transport/http"
	"deptportal/backend/internal/websocket"
)

// main 启动公文流转服务，包含 HTTP API、WebSocket 通知与可选的 SMTP 收文网关。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development, cfg.Log.File)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting deptportal server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 存储层：配置了数据库就用 SQL，否则内存存储（开发环境）
	var store storage.Store
	if cfg.Database.Type != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			log.Fatal("failed to initialize database storage", zap.Error(err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// Redis：限流计数与跨实例通知，可选
	var cache *redisstore.Cache
	if cfg.Redis.Enabled {
		cache, err = redisstore.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer cache.Close()
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
	}

	blobStore, err := blob.NewStore(cfg.Blob.BasePath)
	if err != nil {
		log.Fatal("failed to initialize blob storage", zap.Error(err))
	}
	log.Info("blob storage initialized", zap.String("path", cfg.Blob.BasePath))

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, log)
	if cache != nil {
		healthChecker.AddCheck("redis", cache.Health)
	}

	workers := pool.NewWorkerPool(cfg.Workers.MaxWorkers, cfg.Workers.QueueSize, log)

	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, log)

	// 通知链路：本实例 WebSocket 直推，启用 Redis 时再广播给其他实例
	var dispatcher notify.Dispatcher = notify.NewHubDispatcher(wsHub)
	if cache != nil {
		dispatcher = notify.NewMultiDispatcher(
			notify.NewHubDispatcher(wsHub),
			notify.NewRedisDispatcher(cache),
		)
	}

	authService := auth.NewService(store, cfg.Admin.SecretHash)
	distributionService := service.NewDistributionService(store, dispatcher, workers, log)
	visibilityService := service.NewVisibilityService(store, blobStore, log)
	approvalService := service.NewApprovalService(store, dispatcher, log)
	departmentService := service.NewDepartmentService(store)

	// 限流计数：有 Redis 用共享计数，否则退化到存储层的单实例计数。
	// SQL 存储不做限流计数，配额中间件对计数错误放行。
	var quotaCounter storage.RateLimitRepository
	if cache != nil {
		quotaCounter = cache
	} else if counter, ok := store.(storage.RateLimitRepository); ok {
		quotaCounter = counter
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:              cfg,
		DistributionService: distributionService,
		VisibilityService:   visibilityService,
		ApprovalService:     approvalService,
		DepartmentService:   departmentService,
		AuthService:         authService,
		JWTManager:          jwtManager,
		BlobStore:           blobStore,
		WebSocketHub:        wsHub,
		Store:               store,
		RateLimitCounter:    quotaCounter,
		Metrics:             metrics,
		HealthChecker:       healthChecker,
		Logger:              log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	workers.Start(groupCtx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 跨实例通知桥：把其他实例发布的通知转推到本实例的连接
	if cache != nil {
		group.Go(func() error {
			notify.RunRedisBridge(groupCtx, cache, wsHub, log)
			return nil
		})
	}

	// SMTP 收文网关，可选
	var smtpServer interface{ Close() error }
	if cfg.SMTP.Enabled {
		backend := smtpgw.NewBackend(distributionService, store, cfg.SMTP.Domain, log)
		server := smtpgw.NewServer(backend, cfg.SMTP.BindAddr)
		smtpServer = server

		group.Go(func() error {
			log.Info("starting SMTP intake gateway",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := server.ListenAndServe(); err != nil {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}

		workers.Stop()
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
