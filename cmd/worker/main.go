package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/store"
	"geoattend/internal/worker"
)

// Worker consumes attendance events and sweeps expired sessions.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.StoreBackend != "postgres" {
		log.Fatalf("worker needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("%v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Println("WARNING: in-memory queue is process-local; the worker will only sweep")
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	var sessionRepo session.Repository = session.NewPostgresRepository(db.Client)
	if cfg.SessionCacheTTL > 0 {
		sessionRepo = session.NewCachedRepository(sessionRepo, redisClient.Client, cfg.SessionCacheTTL)
	}
	lifecycle := session.NewLifecycle(sessionRepo, nil, func(s session.Session, from, to session.Status) {
		metrics.TrackTransition(string(from), string(to))
		log.Printf("session %s: %s -> %s", s.ID, from, to)
	})
	processor := worker.NewProcessor(attendance.NewRepository(db.Client), nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Sweep(ctx, lifecycle, cfg.SweepInterval)
	}()

	log.Println("worker started, waiting for messages...")
	if err := processor.Run(ctx, q); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	wg.Wait()
	log.Println("worker stopped")
}
