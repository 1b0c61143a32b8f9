package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "taxcore/api/swagger" // swagger docs
	"taxcore/internal/cache"
	"taxcore/internal/config"
	"taxcore/internal/database"
	"taxcore/internal/handler"
	"taxcore/internal/logger"
	"taxcore/internal/metrics"
	"taxcore/internal/middleware"
	"taxcore/internal/repository"
	"taxcore/internal/service"
	"taxcore/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @title           Tax Core API
// @version         1.0
// @description     Tax groups, versioned rates, entity assignments and cascading tax computation.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Env == logger.ProdEnvironment {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.DB.DSN(), log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	log.Info("connected to PostgreSQL")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New("taxcore", reg)

	store, closeStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		log.Fatal("cache store unavailable", zap.String("driver", cfg.Cache.Driver), zap.Error(err))
	}
	defer closeStore()

	// Set up WebSocket Hub
	hubStop := make(chan struct{})
	wsHub := websocket.NewHub(log.Named("ws"))
	go wsHub.Run(hubStop)
	defer close(hubStop)

	// Repository -> (cache) -> Service -> Handler
	rateRepo := repository.NewRateRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	var (
		resolver    = service.NewResolver(assignmentRepo, rateRepo)
		rates       service.RateSource = rateRepo
		invalidator service.CacheInvalidator
	)
	if store != nil {
		opts := cache.Options{TTL: cfg.Cache.TTL, Metrics: m, Logger: log}
		resolver = cache.NewCachedResolver(resolver, rateRepo, store, opts)
		rates = cache.NewCachedRateSource(rateRepo, store, opts)
		invalidator = cache.NewInvalidator(store, cfg.Cache.InvalidationRetries, m, log)
	}
	log.Info("tax cache configured", zap.String("driver", cfg.Cache.Driver), zap.Duration("ttl", cfg.Cache.TTL))

	engine := service.NewTaxEngine(resolver, rates, service.NewCalculator(cfg.CurrencyPrecision), m, log.Named("engine"))
	taxService := service.NewTaxService(rateRepo, assignmentRepo, auditRepo, txManager, invalidator, wsHub, log.Named("tax"))
	auditService := service.NewAuditService(auditRepo)

	secret := []byte(cfg.JWTSecret)
	taxHandler := handler.NewTaxHandler(taxService, secret)
	computeHandler := handler.NewComputeHandler(engine, secret)
	auditHandler := handler.NewAuditHandler(auditService, secret)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log.Named("http")), m.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", middleware.CorrelationIDHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.ExposeHeaders = []string{middleware.CorrelationIDHeader}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, secret, middleware.RoleAdmin, middleware.RoleTaxManager)
	})

	taxHandler.RegisterRoutes(router.Group(""))
	computeHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := serve(ctx, srv, 15*time.Second, log); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}

// newCacheStore builds the store selected by CACHE_DRIVER. A nil store means
// caching is disabled.
func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	switch cfg.Cache.Driver {
	case config.CacheRedis:
		client := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		store := cache.NewRedisStore(client, cache.DefaultRedisPrefix)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, func() {}, err
		}
		return store, func() { _ = client.Close() }, nil
	case config.CacheNone:
		return nil, func() {}, nil
	default:
		return cache.NewMemoryStore(), func() {}, nil
	}
}
