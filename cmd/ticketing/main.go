package main // Entry point of the ticketing service

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/parking-orchestrator/internal/config"
	"github.com/iliyamo/parking-orchestrator/internal/database"
	"github.com/iliyamo/parking-orchestrator/internal/handler"
	"github.com/iliyamo/parking-orchestrator/internal/logger"
	"github.com/iliyamo/parking-orchestrator/internal/middleware"
	"github.com/iliyamo/parking-orchestrator/internal/repository"
	"github.com/iliyamo/parking-orchestrator/internal/router"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadTicketing()
	zl, err := logger.New(logger.FromEnv(cfg.Env))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DB)
	if err != nil {
		zl.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db, database.TicketingSchema); err != nil {
		zl.Fatal("schema", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(zl))
	router.RegisterRoutes(e, db)
	router.RegisterTicketing(e, handler.NewTicketHandler(repository.NewTicketRepo(db), zl))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		zl.Info("ticketing listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		zl.Fatal("ticketing stopped", zap.Error(err))
	}
}
