package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/CloudIDP/platform/internal/auth"
	"github.com/CloudIDP/platform/internal/cache"
	"github.com/CloudIDP/platform/internal/config"
	"github.com/CloudIDP/platform/internal/httpserver"
	"github.com/CloudIDP/platform/internal/inventory"
	"github.com/CloudIDP/platform/internal/jobs"
	"github.com/CloudIDP/platform/internal/queue"
	"github.com/CloudIDP/platform/internal/runner"
	"github.com/CloudIDP/platform/internal/service"
	"github.com/CloudIDP/platform/internal/terraform"
)

func main() {
	runRunner := flag.Bool("run-runner", false, "start the in-process job runner")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[startup] config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		log.Fatalf("[startup] %v", err)
	}
	defer cleanup()

	svc := service.New(deps)
	sessions := cache.NewSessionStore(deps.Cache)
	authMgr := auth.NewManager(cfg.JWTSecret, sessions, cfg.SessionTTL)
	server := httpserver.New(svc, authMgr)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	if shouldRunRunner(*runRunner) {
		log.Printf("[startup] starting job runner")
		go runner.New(deps.Registry, deps.Executor, 2*time.Second).Run(ctx)
	}

	go func() {
		log.Printf("[startup] CloudIDP service listening on %s (mode=%s)", cfg.Addr, deps.Mode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

// buildDeps constructs the capability implementations once, at startup.
// Demo mode is all in-memory; live mode opens Postgres, Redis, SQS, and the
// Kafka/S3 audit fan-out.
func buildDeps(ctx context.Context, cfg config.Config) (service.Deps, func(), error) {
	states := terraform.NewStateStore()
	cleanup := func() {}

	if cfg.DemoMode {
		cacheStore := cache.NewMemoryStore()
		executor := terraform.NewExecutor(cacheStore, states)
		return service.Deps{
			Registry:  jobs.NewMemoryRegistry(),
			Broker:    queue.NewMemoryBroker(),
			Inventory: inventory.NewMemoryStore(),
			Cache:     cacheStore,
			Executor:  executor,
			States:    states,
			Publisher: inventory.NewPublisher(nil, nil),
			Mode:      "demo",
		}, cleanup, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return service.Deps{}, cleanup, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return service.Deps{}, cleanup, err
	}

	cacheStore := cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := cacheStore.Ping(ctx); err != nil {
		db.Close()
		return service.Deps{}, cleanup, err
	}

	broker, err := queue.NewSQSBroker(ctx, queue.SQSBrokerConfig{
		Region:   cfg.SQSRegion,
		Endpoint: cfg.SQSEndpoint,
		Prefix:   cfg.QueuePrefix,
	})
	if err != nil {
		db.Close()
		return service.Deps{}, cleanup, err
	}

	var producer inventory.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = inventory.NewKafkaProducer(inventory.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaAuditTopic,
		})
		if err != nil {
			db.Close()
			return service.Deps{}, cleanup, err
		}
	}
	var archiver inventory.Archiver
	if cfg.AuditBucket != "" {
		archiver, err = inventory.NewS3Archiver(ctx, cfg.AuditBucket, cfg.AuditPrefix)
		if err != nil {
			db.Close()
			return service.Deps{}, cleanup, err
		}
	}
	publisher := inventory.NewPublisher(producer, archiver)

	cleanup = func() {
		if err := publisher.Close(); err != nil {
			log.Printf("[shutdown] publisher close: %v", err)
		}
		if err := cacheStore.Close(); err != nil {
			log.Printf("[shutdown] redis close: %v", err)
		}
		db.Close()
	}

	return service.Deps{
		Registry:  jobs.NewPGRegistry(db),
		Broker:    broker,
		Inventory: inventory.NewPGStore(db),
		Cache:     cacheStore,
		Executor:  terraform.NewExecutor(cacheStore, states),
		States:    states,
		Publisher: publisher,
		Mode:      "live",
	}, cleanup, nil
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func shouldRunRunner(flagValue bool) bool {
	if flagValue {
		return true
	}
	if v := os.Getenv("CLOUDIDP_RUNNER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return false
}
