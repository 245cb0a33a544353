package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/feeengine/internal/feeengine/application"
	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/lock"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/messaging"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/persistence/memory"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/persistence/mysql"
	httpserver "github.com/wyfcoding/feeengine/internal/feeengine/interfaces/http"
	"github.com/wyfcoding/feeengine/pkg/cache"
	"github.com/wyfcoding/feeengine/pkg/config"
	"github.com/wyfcoding/feeengine/pkg/db"
	"github.com/wyfcoding/feeengine/pkg/idgen"
	"github.com/wyfcoding/feeengine/pkg/logger"
	"github.com/wyfcoding/feeengine/pkg/metrics"
	"github.com/wyfcoding/feeengine/pkg/middleware"
	"github.com/wyfcoding/feeengine/pkg/mq"
	"github.com/wyfcoding/feeengine/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var configPath = flag.String("config", "configs/feeengine/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	log = log.With("service", cfg.ServiceName, "version", cfg.Version)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化指标
	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		metricsSrv := m.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path)
		defer shutdownHTTP(metricsSrv, log)
	}

	idGen, err := idgen.NewSnowflake(cfg.Engine.SnowflakeNode)
	if err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	// 4. 初始化存储与 outbox
	deps := application.Dependencies{IDGen: idGen, Metrics: m}
	var outboxStore messaging.OutboxStore
	// 进程内存储不为中继提供事务，避免投递期间持有存储锁
	var relayTx domain.Transactor
	switch cfg.Database.Driver {
	case "mysql":
		database, err := db.Init(ctx, db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		}, log)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer database.Close()

		gormOutbox := messaging.NewGormOutbox(database.DB)
		if cfg.Database.AutoMigrate {
			if err := mysql.Migrate(ctx, database.DB); err != nil {
				return fmt.Errorf("migrate fee tables: %w", err)
			}
			if err := gormOutbox.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("migrate outbox: %w", err)
			}
		}
		deps.Plans = mysql.NewFeePlanRepository(database.DB)
		deps.Events = mysql.NewFeeEventRepository(database.DB)
		deps.Invoices = mysql.NewInvoiceRepository(database.DB)
		deps.Commissions = mysql.NewCommissionRepository(database.DB)
		deps.Outbox = gormOutbox
		deps.Tx = database
		outboxStore = gormOutbox
		relayTx = database
	default:
		log.Warn("using in-memory store, data is not persisted")
		store := memory.NewStore()
		memOutbox := store.Outbox()
		deps.Plans = store.Plans()
		deps.Events = store.FeeEvents()
		deps.Invoices = store.Invoices()
		deps.Commissions = store.Commissions()
		deps.Outbox = memOutbox
		deps.Tx = store
		outboxStore = memOutbox
	}

	// 5. 初始化锁与限流
	var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter()
	var locker domain.InvoiceLocker = lock.NewLocalLocker()
	if cfg.Redis.Enabled {
		rc, err := cache.New(ctx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		locker = lock.NewRedisLocker(rc.Client(), cfg.Engine.InvoiceLockTTL(), cfg.Engine.InvoiceLockTTL())
		limiter = ratelimit.NewRedisRateLimiter(rc.Client())
	}
	deps.Locker = locker

	// 6. 初始化应用服务
	svc := application.NewFeeEngineService(deps, application.Options{
		DayCountBasis:  cfg.Engine.DayCountBasis,
		InvoiceDueDays: cfg.Engine.InvoiceDueDays,
	}, log)

	g, gctx := errgroup.WithContext(ctx)

	// 7. outbox 中继
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(ctx, mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		defer producer.Close()

		relay := messaging.NewRelay(outboxStore, relayTx, producer, m, messaging.RelayConfig{
			BatchSize:       cfg.Engine.OutboxBatchSize,
			PollInterval:    cfg.Engine.OutboxPollInterval(),
			Retention:       cfg.Engine.OutboxRetention(),
			CleanupInterval: cfg.Engine.OutboxCleanupInterval(),
		}, log)
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
	}

	// 8. 初始化接口层
	// gRPC 只承载健康检查与反射
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(middleware.GRPCRecoveryInterceptor(), middleware.GRPCLoggingInterceptor()),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentStreams)),
	)
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcSrv)

	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(m),
		middleware.GinCORSMiddleware(),
	)
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimit))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	httpserver.NewFeeEngineHandler(svc).RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 9. 启动服务
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			return err
		}
		log.Info("gRPC server starting", "addr", cfg.GRPC.Addr())
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		log.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 10. 优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers...")
		healthSrv.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(httpSrv, log)
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}

func shutdownHTTP(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown failed", "addr", srv.Addr, "error", err)
	}
}
