// Package main запускает HTTP-сервер сервиса лотерей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/lottery-system/internal/cache"
	"github.com/mmeshcher/lottery-system/internal/config"
	"github.com/mmeshcher/lottery-system/internal/handler"
	"github.com/mmeshcher/lottery-system/internal/repository"
	"github.com/mmeshcher/lottery-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := newRepository(cfg, sugar)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	var winnerCache service.WinnerCache
	if cfg.RedisAddress != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := cache.Connect(connectCtx, cfg.RedisAddress)
		cancel()
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}

		redisCache := cache.NewRedisCache(client, cfg.WinnerCacheTTL)
		defer redisCache.Close()

		winnerCache = redisCache
		sugar.Infow("winner cache enabled", "addr", cfg.RedisAddress, "ttl", cfg.WinnerCacheTTL)
	}

	svc := service.NewService(repo, winnerCache, logger,
		service.WithListLimit(cfg.ListLimit),
		service.WithReset(cfg.EnableReset),
	)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting lottery server", "addr", cfg.RunAddress, "reset", cfg.EnableReset)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// newRepository выбирает хранилище: PostgreSQL, если задан DATABASE_URI, иначе память процесса
// с начальным набором данных.
func newRepository(cfg *config.Config, sugar *zap.SugaredLogger) (service.Repository, error) {
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	sugar.Warn("DATABASE_URI is empty, using in-memory storage")

	repo := repository.NewMemoryRepository()
	if err := repo.Reset(context.Background()); err != nil {
		return nil, fmt.Errorf("seed memory storage: %w", err)
	}
	return repo, nil
}
