package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsconsole/dbsupervisor/internal/alert"
	"github.com/opsconsole/dbsupervisor/internal/config"
	"github.com/opsconsole/dbsupervisor/internal/database"
	"github.com/opsconsole/dbsupervisor/internal/eventbus"
	"github.com/opsconsole/dbsupervisor/internal/health"
	"github.com/opsconsole/dbsupervisor/internal/registry"
	"github.com/opsconsole/dbsupervisor/internal/store"
	"github.com/opsconsole/dbsupervisor/internal/supervisor"
)

func main() {
	log.Printf("Database Operation Supervisor starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Configuration loaded")
	log.Printf("  Adapter: %s", cfg.DBAdapter)
	log.Printf("  Leak threshold: %s, scan interval: %s", cfg.LeakThreshold, cfg.ScanInterval)
	log.Printf("  Health check interval: %s", cfg.HealthCheckInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := database.NewClient(ctx, database.Config{
		Adapter:          cfg.DBAdapter,
		ConnectionString: cfg.DBConnectionString,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database connected (%s)", cfg.DBAdapter)

	dispatcher := alert.NewDispatcher()
	dispatcher.OnAlert(func(a alert.Alert) {
		log.Printf("ALERT [%s] %s", a.Level, a.Message)
	})

	// Optional collaborators: the supervisor degrades gracefully when the
	// event bus or the audit store is unreachable.
	publisher := connectNATS(cfg, dispatcher)
	auditStore := connectRedis(cfg, dispatcher)

	reg := registry.New(registry.Config{
		LeakThreshold:       cfg.LeakThreshold,
		MaxActiveOperations: cfg.MaxActiveOperations,
	}, dispatcher)

	sup := supervisor.New(client, reg, dispatcher, supervisor.Config{
		StaleOperationAge: cfg.StaleOperationAge,
	})

	scanner := registry.NewLeakScanner(reg, dispatcher, cfg.ScanInterval)
	scanner.OnPass(func() { sup.RefreshStats() })
	scanner.Start()

	monitor := health.NewMonitor(client, sup, reg, dispatcher, health.DefaultThresholds())
	monitor.StartPeriodicChecks(cfg.HealthCheckInterval)

	server := health.NewServer(cfg.HTTPPort, monitor, sup)
	server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Printf("Shutdown signal received...")

	cancel()
	monitor.StopPeriodicChecks()
	scanner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping admin server: %v", err)
	}

	if publisher != nil {
		publisher.Close()
	}
	if auditStore != nil {
		if err := auditStore.Close(); err != nil {
			log.Printf("Error closing audit store: %v", err)
		}
	}
	if err := client.Close(); err != nil {
		log.Printf("Error closing database client: %v", err)
	}

	log.Printf("Supervisor stopped successfully")
}

func connectNATS(cfg *config.Config, dispatcher *alert.Dispatcher) *eventbus.Publisher {
	if cfg.NatsURL == "" {
		log.Printf("NATS disabled (NATS_URL empty)")
		return nil
	}

	publisher, err := eventbus.NewPublisher(cfg.NatsURL)
	if err != nil {
		log.Printf("Warning: NATS unavailable, alerts will not be published: %v", err)
		return nil
	}

	dispatcher.OnAlert(func(a alert.Alert) {
		if err := publisher.PublishAlert(a); err != nil {
			log.Printf("Failed to publish alert: %v", err)
		}
	})
	return publisher
}

func connectRedis(cfg *config.Config, dispatcher *alert.Dispatcher) *store.Store {
	if cfg.RedisAddr == "" {
		log.Printf("Alert audit store disabled (REDIS_ADDR empty)")
		return nil
	}

	auditStore, err := store.NewStore(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		log.Printf("Warning: Redis unavailable, alerts will not be persisted: %v", err)
		return nil
	}

	dispatcher.OnAlert(func(a alert.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := auditStore.SaveAlert(ctx, a); err != nil {
			log.Printf("Failed to persist alert: %v", err)
		}
	})
	return auditStore
}
