package main // Entry point of the parking service

import (
	"context"
	"database/sql"
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

	"github.com/iliyamo/parking-orchestrator/internal/client"
	"github.com/iliyamo/parking-orchestrator/internal/config"
	"github.com/iliyamo/parking-orchestrator/internal/database"
	"github.com/iliyamo/parking-orchestrator/internal/gate"
	"github.com/iliyamo/parking-orchestrator/internal/handler"
	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/logger"
	"github.com/iliyamo/parking-orchestrator/internal/middleware"
	"github.com/iliyamo/parking-orchestrator/internal/orchestrator"
	"github.com/iliyamo/parking-orchestrator/internal/queue"
	"github.com/iliyamo/parking-orchestrator/internal/repository"
	"github.com/iliyamo/parking-orchestrator/internal/router"
	"github.com/iliyamo/parking-orchestrator/internal/service"
)

// spotBackend bundles what the selected spot store provides.
type spotBackend struct {
	store  ledger.Store
	levels handler.LevelStore
	spots  handler.SpotLister
	db     *sql.DB // nil in memory mode
}

func openBackend(ctx context.Context, cfg config.Config, zl *zap.Logger) (spotBackend, error) {
	if cfg.SpotStore == config.StoreMemory {
		zl.Warn("using in-memory spot store; occupancy is not shared between instances")
		mem := ledger.NewMemoryStore()
		levels := repository.NewMemoryLevelRepo(mem)
		return spotBackend{store: mem, levels: levels, spots: levels}, nil
	}
	db, err := database.Open(cfg.DB)
	if err != nil {
		return spotBackend{}, err
	}
	if err := database.EnsureSchema(ctx, db, database.ParkingSchema); err != nil {
		db.Close()
		return spotBackend{}, err
	}
	spots := repository.NewSpotRepo(db)
	return spotBackend{store: spots, levels: repository.NewLevelRepo(db), spots: spots, db: db}, nil
}

func main() {
	_ = godotenv.Load() // a missing .env file is fine; the environment may be set directly

	cfg := config.Load() // Load environment config
	zl, err := logger.New(logger.FromEnv(cfg.Env))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("spot store unavailable", zap.Error(err))
	}
	if backend.db != nil {
		defer backend.db.Close()
	}

	policies, err := config.LoadGatePolicies()
	if err != nil {
		zl.Fatal("invalid gate policy", zap.Error(err))
	}
	gates := gate.NewRegistry(policies, zl)

	hc := client.NewHTTPClient()
	vehicles := client.NewVehicleClient(cfg.VehicleURL, hc, gates.Get(config.DepVehicle), cfg.Orchestration.VehicleCacheTTL)
	defer vehicles.Stop()
	tickets := client.NewTicketClient(cfg.TicketingURL, hc, gates.Get(config.DepTicketing))
	payments := client.NewPaymentClient(cfg.PaymentURL, cfg.Fee.Currency, hc, gates.Get(config.DepPayment))
	publisher := service.NewPublisher(cfg.RabbitURL, zl)

	spotLedger := ledger.New(backend.store, zl)
	entry := orchestrator.NewEntryOrchestrator(orchestrator.EntryDeps{
		Ledger:    spotLedger,
		Vehicles:  vehicles,
		Tickets:   tickets,
		Escalator: publisher,
	}, cfg.Orchestration, zl)
	exit := orchestrator.NewExitOrchestrator(orchestrator.ExitDeps{
		Ledger:    spotLedger,
		Tickets:   tickets,
		Payments:  payments,
		Escalator: publisher,
		Notifier:  publisher,
	}, cfg.Fee, cfg.Orchestration, zl)

	// Redis backs the rate limiter and the catalogue cache; both degrade
	// to pass-through when it is unreachable.
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		zl.Warn("redis unavailable; rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}
	rlCfg := config.LoadRateLimitConfig()
	cacheCfg := config.LoadCacheConfig()

	levels := handler.NewLevelHandler(backend.levels, backend.spots, spotLedger, gates, zl)
	levels.Invalidate = func(ctx context.Context) error {
		return middleware.InvalidateCache(ctx, cacheCfg, rdb)
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(middleware.RequestLogger(zl))
	var pinger handler.Pinger
	if backend.db != nil {
		pinger = backend.db
	}
	router.RegisterRoutes(e, pinger)
	v1 := router.RegisterParking(e,
		handler.NewParkingHandler(entry, exit, zl),
		levels,
		middleware.NewTokenBucket(rlCfg, rdb, zl),
		middleware.NewRedisCache(cacheCfg, rdb))
	router.RegisterOperator(v1, levels, cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("spot_store", cfg.SpotStore))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})
	if cfg.ReconciliationConsumer {
		g.Go(func() error {
			return queue.StartReconciliationConsumer(gctx, cfg.RabbitURL, cfg.ReconciliationDir, zl)
		})
	}

	if err := g.Wait(); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
	zl.Info("shutdown complete")
}
