package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/app"
	"github.com/examsetu/examsetu/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg := config.LoadConfig()
	application, err := app.NewApp(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalw("startup failed", "error", err)
	}
	defer application.Close()

	go func() {
		if err := application.Server.Start(); err != nil {
			sugar.Fatalw("server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("shutdown incomplete", "error", err)
	}
}
