package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yashrajoria/storefront-core/common/logger"
	"github.com/yashrajoria/storefront-core/common/middleware"
	"github.com/yashrajoria/storefront-core/config"
	"github.com/yashrajoria/storefront-core/storefront"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Initialize("development")
		logger.Log.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Initialize(cfg.Env)
	defer logger.Log.Sync()

	sf, err := storefront.New(cfg, storefront.WithLogger(logger.Log))
	if err != nil {
		logger.Log.Fatal("Failed to create storefront", zap.Error(err))
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	err = sf.Init(initCtx)
	cancelInit()
	if err != nil {
		logger.Log.Fatal("Failed to initialize storefront", zap.Error(err))
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := middleware.NewRateLimiter(rate.Every(time.Minute/time.Duration(max(cfg.ClientRatePerMinute, 1))), cfg.ClientBurst, 5*time.Minute)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go limiter.Run(sweepCtx)

	var recorder middleware.Recorder
	if m := sf.Metrics(); m != nil {
		recorder = m
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.RateLimit(limiter))
	r.Use(middleware.Metrics(recorder, "storefront-bff"))
	storefront.RegisterRoutes(r, sf)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("Storefront BFF listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Shutdown error", zap.Error(err))
	}
	if err := sf.Dispose(); err != nil {
		logger.Log.Warn("Failed to release storefront resources", zap.Error(err))
	}
	logger.Log.Info("Storefront BFF stopped")
}
