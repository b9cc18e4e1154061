package main

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

	"github.com/iliyamo/event-credentials/internal/config"
	"github.com/iliyamo/event-credentials/internal/credential"
	"github.com/iliyamo/event-credentials/internal/database"
	"github.com/iliyamo/event-credentials/internal/handler"
	"github.com/iliyamo/event-credentials/internal/metrics"
	"github.com/iliyamo/event-credentials/internal/middleware"
	"github.com/iliyamo/event-credentials/internal/queue"
	"github.com/iliyamo/event-credentials/internal/repository"
	"github.com/iliyamo/event-credentials/internal/router"
	"github.com/iliyamo/event-credentials/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	cfg := config.Load()
	logger := config.NewLogger(cfg.Env, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store repository.Store
		db    *sql.DB
	)
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; state is lost on restart")
		store = repository.NewMemoryStore()
	default:
		var err error
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		if cfg.DBMigrate {
			if err := database.Migrate(ctx, db); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			logger.Info("schema applied")
		}
		store = repository.NewSQLStore(db)
	}

	issuer, verifier, err := credential.New(cfg.CredentialConfig())
	if err != nil {
		log.Fatalf("credential: %v", err)
	}
	m := metrics.New(nil)

	var (
		notifier  service.Notifier  = service.NopNotifier{}
		deliverer service.Deliverer = service.NopNotifier{}
		pub       *queue.Publisher
	)
	if cfg.RabbitMQURL != "" {
		pub = queue.NewPublisher(cfg.RabbitMQURL, cfg.NotifyBuffer, logger, m)
		// not bound to the signal context: Close drains it after e.Shutdown
		pub.Start(context.Background())
		notifier, deliverer = pub, pub
		if cfg.ConsumerEnabled {
			cons := queue.NewConsumer(cfg.RabbitMQURL, cfg.ActivityLogDir, logger)
			go func() {
				if err := cons.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("activity consumer stopped", "err", err)
				}
			}()
		}
	} else {
		logger.Warn("RABBITMQ_URL not set; notifications disabled")
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and response cache disabled")
	} else {
		defer rdb.Close()
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb, logger)
	rateLimit := middleware.RateLimit(config.LoadRateLimitConfig(), rdb, logger)

	inventory := service.NewInventory(store, logger)
	ledger := service.NewLedger(store, verifier, inventory, notifier, logger, m)
	importer := service.NewImporter(store, issuer, deliverer, logger, m, cfg.ImportNotifyBatch, cfg.ImportNotifyDelay)
	h := handler.New(ledger, inventory, importer, cache, cfg.ImportMaxBytes, logger)

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, db, nil)
	router.RegisterAPI(e, h, cfg.StaffJWTSecret, rateLimit, cache.Middleware())

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.Store)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if pub != nil {
		pub.Close()
	}
}
