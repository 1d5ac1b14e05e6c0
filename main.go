package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/froggu-tantei/apigateway/account"
	"github.com/froggu-tantei/apigateway/archive"
	"github.com/froggu-tantei/apigateway/audit"
	"github.com/froggu-tantei/apigateway/backend"
	"github.com/froggu-tantei/apigateway/clock"
	"github.com/froggu-tantei/apigateway/config"
	"github.com/froggu-tantei/apigateway/gateway"
	"github.com/froggu-tantei/apigateway/handlers"
	"github.com/froggu-tantei/apigateway/kvstore"
	"github.com/froggu-tantei/apigateway/loadbalancer"
	"github.com/froggu-tantei/apigateway/metrics"
	"github.com/froggu-tantei/apigateway/middleware"
	"github.com/froggu-tantei/apigateway/plans"
	"github.com/froggu-tantei/apigateway/ratelimit"
	"github.com/froggu-tantei/apigateway/routes"
	"github.com/froggu-tantei/apigateway/storage"
)

// noopAudit discards audit writes when the database is unreachable or
// disabled, so the gateway pipeline's AuditLog dependency is never nil.
type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, clientID, plan, service string, status int, latencySeconds float64) error {
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	// The auth package reads JWT_SECRET only; export the secret config
	// resolved (possibly from SECRET_KEY) so token signing sees it.
	if os.Getenv("JWT_SECRET") == "" && cfg.JWTSecret != "" {
		os.Setenv("JWT_SECRET", cfg.JWTSecret)
	}

	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	redisClient := kvstore.NewClient(redisAddr)
	defer redisClient.Close()
	store := kvstore.New(redisClient)

	registry := plans.Default()
	sysClock := clock.System{}
	recorder := metrics.New(store)
	limiter := ratelimit.New(store, sysClock, recorder)
	selector := loadbalancer.New(store, cfg.ServiceRegistry)
	backendClient := backend.New(backend.DefaultTimeout)

	var auditLog gateway.AuditLog = noopAudit{}
	if cfg.AuditEnabled {
		if log := setupAuditLog(cfg.DatabaseURL); log != nil {
			auditLog = log
		}
	}

	pipeline := gateway.New(store, registry, limiter, selector, backendClient, recorder, auditLog, sysClock)

	acctSvc := account.New(store, registry)

	serviceInstanceCounts := map[string]int{}
	for svc, urls := range cfg.ServiceRegistry {
		serviceInstanceCounts[svc] = len(urls)
	}
	metricsReader := metrics.NewReader(store, registry.Names(), serviceInstanceCounts)

	fileStorage := setupStorage(cfg)
	archiver := archive.New(metricsReader, fileStorage, cfg.MetricsArchiveInterval)
	archiver.Start()
	defer archiver.Close()

	authConfig := middleware.RateLimiterConfig{
		Rate:            float64(cfg.AuthRateLimit) / float64(cfg.AuthRateWindow),
		Capacity:        cfg.AuthRateLimit,
		MaxBuckets:      10000,
		CleanupInterval: 5 * time.Minute,
		BucketTTL:       10 * time.Minute,
		MaxRetryAfter:   5 * time.Minute,
	}
	genericConfig := middleware.RateLimiterConfig{
		Rate:            float64(cfg.GenericRateLimit) / float64(cfg.GenericRateWindow),
		Capacity:        cfg.GenericRateLimit,
		MaxBuckets:      10000,
		CleanupInterval: 5 * time.Minute,
		BucketTTL:       10 * time.Minute,
		MaxRetryAfter:   5 * time.Minute,
	}
	authLimiter := middleware.NewRateLimiter(authConfig)
	genericLimiter := middleware.NewRateLimiter(genericConfig)
	defer func() {
		if err := authLimiter.Close(); err != nil {
			log.Printf("Error closing auth limiter: %v", err)
		}
		if err := genericLimiter.Close(); err != nil {
			log.Printf("Error closing generic limiter: %v", err)
		}
	}()

	apiCfg := handlers.NewAPIConfig(acctSvc, pipeline, metricsReader)
	router := routes.RegisterRoutes(apiCfg, authLimiter, genericLimiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		IdleTimeout:  60 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("Starting server on port " + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exiting")
}

func setupAuditLog(databaseURL string) *audit.Log {
	if databaseURL == "" {
		log.Println("DATABASE_URL not set; audit log disabled")
		return nil
	}

	conn, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		log.Printf("audit log: can't connect to database: %v", err)
		return nil
	}
	if err := conn.Ping(context.Background()); err != nil {
		log.Printf("audit log: failed to ping database: %v", err)
		return nil
	}

	auditLog := audit.New(conn)
	if err := auditLog.EnsureSchema(context.Background()); err != nil {
		log.Printf("audit log: failed to ensure schema: %v", err)
		return nil
	}
	return auditLog
}

func setupStorage(cfg config.Config) storage.FileStorage {
	if cfg.StorageBackend == "s3" {
		s3Storage, err := storage.NewS3Storage(cfg.S3Bucket, cfg.AWSRegion, "")
		if err != nil {
			log.Printf("failed to initialize S3 storage, falling back to local: %v", err)
			return storage.NewLocalStorage(cfg.MetricsArchiveDir, "")
		}
		return s3Storage
	}
	return storage.NewLocalStorage(cfg.MetricsArchiveDir, "")
}
