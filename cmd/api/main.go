package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attemptlog"
	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/httpapi"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/store"
	"geoattend/internal/verdict"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()
	checks := map[string]httpapi.HealthCheck{}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var (
		sessionRepo session.Repository
		classStore  attendance.Store
	)
	if cfg.StoreBackend == "memory" {
		sessionRepo = session.NewMemoryRepository()
		classStore = attendance.NewMemoryStore()
		log.Println("using in-memory store")
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		sessionRepo = session.NewPostgresRepository(db.Client)
		classStore = attendance.NewRepository(db.Client)
		checks["db"] = db.Healthy
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}
	if cfg.QueueBackend == "redis" || cfg.SessionCacheTTL > 0 {
		checks["redis"] = redisClient.Healthy
	}
	if cfg.SessionCacheTTL > 0 {
		sessionRepo = session.NewCachedRepository(sessionRepo, redisClient.Client, cfg.SessionCacheTTL)
	}

	var attempts attemptlog.Log = attemptlog.Nop{}
	if cfg.MongoURI != "" {
		client, err := attemptlog.Connect(ctx, cfg.MongoURI)
		if err != nil {
			log.Printf("warning: attempt log disabled: %v", err)
		} else {
			defer client.Disconnect(context.Background())
			mongoLog := attemptlog.NewMongo(client, cfg.MongoDB, cfg.AttemptsColl)
			if err := mongoLog.EnsureIndexes(ctx); err != nil {
				log.Printf("warning: attempt log indexes: %v", err)
			}
			attempts = mongoLog
			checks["mongo"] = func(ctx context.Context) bool { return client.Ping(ctx, nil) == nil }
		}
	}

	closer := session.NewAutoCloser()
	defer closer.Stop()
	lifecycle := session.NewLifecycle(sessionRepo, closer, func(s session.Session, from, to session.Status) {
		metrics.TrackTransition(string(from), string(to))
		log.Printf("session %s: %s -> %s", s.ID, from, to)
	})
	if closed, armed, err := lifecycle.Resume(ctx); err != nil {
		log.Printf("warning: resuming session timers: %v", err)
	} else {
		log.Printf("sessions resumed: %d closed, %d timers armed", closed, armed)
	}

	att := attendance.NewService(lifecycle, classStore, attempts, q, attendance.Options{
		Tolerance:       verdict.Tolerance{Percent: cfg.TolerancePercent},
		LocationTimeout: cfg.LocationTimeout,
	})

	srv := httpapi.New(lifecycle, att, checks, httpapi.Options{
		Env:             cfg.Env,
		JWTIssuer:       cfg.JWTIssuer,
		JWTSigningKey:   cfg.JWTSigningKey,
		AccessTTL:       cfg.AccessTTL,
		RefreshTTL:      cfg.RefreshTTL,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
