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

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"wellness/internal/api"
	"wellness/internal/audit"
	"wellness/internal/auth"
	"wellness/internal/config"
	"wellness/internal/model"
	"wellness/internal/obs"
	"wellness/internal/service"
	"wellness/internal/terms"
)

func main() {
	// 初始化配置
	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.WithError(err).Error("Failed to parse config")
		return
	}

	// 初始化logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := model.InitRepository(&cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise repository")
		return
	}

	hasher := auth.NewHasher(cfg.BcryptCost)
	if err := model.SeedRolePermissions(ctx, repo); err != nil {
		logrus.WithError(err).Warn("failed to seed role permissions")
	}
	if _, err := model.SeedAdmin(ctx, repo, hasher, cfg); err != nil {
		logrus.WithError(err).Warn("failed to seed admin user")
	}

	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, auth.TokenTTLs{
		Access:  cfg.AccessTokenTTL,
		Refresh: cfg.RefreshTokenTTL,
		Terms:   cfg.TermsTokenTTL,
	})
	if err != nil {
		logrus.WithError(err).Error("failed to initialise token manager")
		return
	}

	gate, err := newGate(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise terms gate")
		return
	}
	if gate != nil {
		go gate.RunSweeper(ctx, cfg.GateSweepInterval)
	}

	var publisher audit.Publisher
	if cfg.AuditAMQPURL != "" {
		amqpPublisher, err := audit.NewAMQPPublisher(cfg.AuditAMQPURL, cfg.AuditQueue, cfg.AuditAMQPDialTimeout)
		if err != nil {
			logrus.WithError(err).Warn("audit events will not be published")
		} else {
			defer amqpPublisher.Close()
			publisher = amqpPublisher
		}
	}

	httpHandler, err := api.NewHTTPHandler(cfg, service.Deps{
		Repo:         repo,
		Hasher:       hasher,
		Tokens:       tokens,
		Authorizer:   auth.NewAuthorizer(repo),
		Gate:         gate,
		Audit:        audit.NewRecorder(repo, publisher),
		TermsVersion: cfg.TermsVersion,
	})
	if err != nil {
		logrus.WithError(err).Error("failed to initialise http handler")
		return
	}

	obs.Init()

	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)
	r, err := api.NewEngine(cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to create router")
		return
	}

	// 添加中间件
	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware())
	r.Use(obs.GinMiddleware())
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	httpHandler.RegisterRoutes(r.Group("/api"))

	serverHost := fmt.Sprintf("0.0.0.0:%s", cfg.HTTPPort)
	logrus.WithField("host", serverHost).Info("服务器启动")
	// 创建HTTP服务器
	httpServer := &http.Server{
		Addr:              serverHost,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("服务器关闭失败")
		}
	}()

	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Error("服务器启动失败")
	}
}

// newGate builds the terms gate over the configured store. It returns nil
// when the gate is disabled.
func newGate(ctx context.Context, cfg config.Config) (*terms.Gate, error) {
	if !cfg.TermsGateRequired {
		logrus.Warn("terms gate disabled; registration and login accept requests without a gate token")
		return nil, nil
	}
	var store terms.Store
	switch cfg.GateStore {
	case config.GateStoreRedis:
		rdb, err := cfg.NewRedisClient(ctx)
		if err != nil {
			return nil, err
		}
		store = terms.NewRedisStore(rdb, cfg.RedisGateKeyPrefix)
	case config.GateStoreMemory, "":
		store = terms.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported gate store: %s", cfg.GateStore)
	}
	return terms.NewGate(store, cfg.GateTokenTTL), nil
}

// CORSMiddleware CORS跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token, X-Requested-With")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware 日志记录中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// 处理请求
		c.Next()
		// 记录请求结束
		duration := time.Since(start)
		logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  duration.String(),
			"size":      c.Writer.Size(),
			"client_ip": c.ClientIP(),
		}).Info("http_request")
	}
}
