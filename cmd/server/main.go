package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kin_marketplace/internal/pkg/config"
	"kin_marketplace/internal/pkg/lock"
	"kin_marketplace/internal/pkg/middleware"
	"kin_marketplace/internal/pkg/payment"
	"kin_marketplace/internal/pkg/ratelimit"
	"kin_marketplace/internal/pkg/registry"
	"kin_marketplace/pkg/cache"
	"kin_marketplace/pkg/database"
	"kin_marketplace/pkg/logger"
	"kin_marketplace/pkg/metrics"

	// 模块通过 init() 自注册
	_ "kin_marketplace/internal/domain/asset"
	_ "kin_marketplace/internal/domain/offer"
	_ "kin_marketplace/internal/domain/order"
	_ "kin_marketplace/internal/domain/user"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	config.LoadConfig()

	// 2. 初始化日志
	logger.Init(config.GlobalConfig.App.Debug)
	defer logger.Sync()

	// 3. 初始化存储
	db := database.InitDatabase()
	redisClient := database.InitRedis()

	// 4. 初始化 HTTP 引擎
	gin.SetMode(config.GlobalConfig.Server.Mode)
	r := gin.New()

	collector := metrics.NewCollector()

	r.Use(gin.Recovery())
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.RateLimitMiddleware())
	r.Use(middleware.MetricsMiddleware(collector))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Trace-ID"},
		ExposeHeaders:    []string{"Location", "X-Trace-ID"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 5. 初始化各业务模块
	paymentClient := payment.NewClient(config.GlobalConfig.Payment.BaseURL)
	moduleCtx := &registry.ModuleContext{
		DB:      db,
		Redis:   redisClient,
		Router:  r,
		Locker:  lock.NewLocker(redisClient),
		Limiter: ratelimit.NewLimiter(redisClient),
		Metrics: collector,
		Payment: paymentClient,
		Cache:   cache.NewRedisCache(redisClient, "kin_marketplace", 10*time.Minute),
	}
	if err := registry.InitModules(moduleCtx); err != nil {
		logger.Log.Fatal("failed to init modules", zap.Error(err))
	}

	// 6. 向支付服务登记 webhook 回调
	registerWatcher(paymentClient)

	// 7. 启动服务并等待退出信号
	srv := &http.Server{
		Addr:    ":" + config.GlobalConfig.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Log.Info("server started", zap.String("port", config.GlobalConfig.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}
}

// registerWatcher 把本服务的回调地址登记到支付服务
// 失败只告警：支付服务不可用不应拦住启动，回调配置可重放
func registerWatcher(client payment.Client) {
	cfg := config.GlobalConfig.Payment
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := client.SetWatcherCallback(ctx, payment.WatcherRegistration{
		Callback:  cfg.CallbackURL,
		ServiceID: cfg.ServiceID,
	})
	if err != nil {
		logger.Log.Warn("failed to register payment watcher callback", zap.Error(err))
		return
	}
	logger.Log.Info("payment watcher callback registered", zap.String("callback", cfg.CallbackURL))
}
