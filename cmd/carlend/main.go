// Package main запускает HTTP-сервер сервиса аренды автомобилей.
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

	"github.com/mmeshcher/carlend-system/internal/config"
	"github.com/mmeshcher/carlend-system/internal/handler"
	"github.com/mmeshcher/carlend-system/internal/identity"
	"github.com/mmeshcher/carlend-system/internal/ledger"
	"github.com/mmeshcher/carlend-system/internal/middleware"
	"github.com/mmeshcher/carlend-system/internal/orchestrator"
	"github.com/mmeshcher/carlend-system/internal/repository"
	"github.com/mmeshcher/carlend-system/internal/score"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := repository.NewPostgresStore(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer store.Close()

	assets := ledger.NewAssetsClient(cfg.ContractRelay)
	tokens := ledger.NewTokenClient(cfg.MirrorNodeAddress, cfg.ReputationTokenID)
	audit := ledger.NewTopicClient(cfg.MirrorNodeAddress, cfg.AuditTopicID)

	resolver := identity.NewResolver(cfg.MerchantAddress, cfg.MerchantAccountID)

	orch := orchestrator.New(orchestrator.Config{
		Registry: assets,
		Tokens:   tokens,
		Audit:    audit,
		Store:    store,
		Identity: resolver,
		Policy:   orchestrator.ScorePolicy{ReturnReward: cfg.ReturnReward},
		Logger:   logger,
	})

	projector := score.NewProjector(tokens, store)

	session := middleware.NewSessionMiddleware(cfg.SessionSecret)
	h := handler.NewHandler(orch, projector, audit, resolver, logger, session)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового процесса погашения отложенных обязательств
	g.Go(func() error {
		orch.StartObligationSettlement(ctx, time.Duration(cfg.SettlementInterval)*time.Second)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting carlend server", "addr", cfg.RunAddress)
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
