package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bridgetalk/internal/broker"
	"bridgetalk/internal/config"
	"bridgetalk/internal/ratelimit"
	"bridgetalk/internal/server"
	"bridgetalk/internal/session"
	"bridgetalk/internal/translate"
	"bridgetalk/internal/util"
	"bridgetalk/pkg/ai"
	"bridgetalk/pkg/storage"
	"bridgetalk/pkg/store"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init database", "err", err)
	}

	messageLimiter, err := ratelimit.NewRedisSlidingWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "bridgetalk:msg",
		cfg.MessageRateLimit, time.Duration(cfg.MessageRateWindowMs)*time.Millisecond,
	)
	if err != nil {
		util.Fatal("failed to init message rate limiter", "err", err)
	}
	loginLimiter, err := ratelimit.NewRedisSlidingWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "bridgetalk:login",
		cfg.LoginRateLimit, time.Duration(cfg.LoginRateWindowMs)*time.Millisecond,
	)
	if err != nil {
		util.Fatal("failed to init login rate limiter", "err", err)
	}

	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		util.Fatal("failed to init gemini client", "err", err)
	}
	cache := translate.NewCacheWithConfig(cfg.TranslationCacheSize, time.Duration(cfg.TranslationCacheTTLMin)*time.Minute)
	translator := translate.NewTranslator(gemini, cfg.TranslationModel, cache, logger)

	registry := session.NewRegistry()
	chatBroker := broker.NewBroker(st, translator, messageLimiter, registry, []byte(cfg.JWTSecret), logger)

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		objects = minioStore
	} else {
		logger.Warn("minio endpoint not configured, uploads disabled")
	}

	httpServer := server.New(server.Config{
		Store:             st,
		Broker:            chatBroker,
		LoginLimiter:      loginLimiter,
		ObjectStore:       objects,
		JWTSecret:         []byte(cfg.JWTSecret),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            logger,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("bridgetalk server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	logger.Info("server stopped")
}

func configPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return config.ConfigPath
}
