package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	ecgstore "github.com/cardiotrace/ecgstore"
)

func main() {
	cfg := ecgstore.ConfigFromEnv()

	flag.StringVar(&cfg.Backend.Type, "backend", cfg.Backend.Type, "storage backend: filesystem or s3")
	flag.StringVar(&cfg.Backend.Bucket, "bucket", cfg.Backend.Bucket, "S3 bucket or base directory")
	flag.StringVar(&cfg.Backend.Region, "region", cfg.Backend.Region, "AWS region (s3 backend)")
	flag.StringVar(&cfg.Backend.Endpoint, "endpoint", cfg.Backend.Endpoint, "custom S3 endpoint (MinIO etc.)")
	flag.StringVar(&cfg.Cache, "cache", cfg.Cache, "cache: redis, memory or none")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	var logger *ecgstore.ZapLogger
	var err error
	if *debug {
		logger, err = ecgstore.NewDevelopmentZapLogger()
	} else {
		logger, err = ecgstore.NewProductionZapLogger()
	}
	if err != nil {
		os.Stderr.WriteString("logger init: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := ecgstore.NewBackend(ctx, cfg.Backend)
	if err != nil {
		logger.Error("backend init", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	if err := backend.Ping(ctx); err != nil {
		logger.Error("backend unreachable", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ecgstore.NewPrometheusMetrics(registry)

	store := ecgstore.NewDocStore(backend,
		ecgstore.WithLogger(logger),
		ecgstore.WithMetrics(metrics),
	)

	var redisClient *redis.Client
	var cache ecgstore.Cache
	var constraints *ecgstore.ConstraintManager

	switch cfg.Cache {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		cache = ecgstore.NewRedisCache(redisClient, cfg.CacheNamespace)
		constraints = ecgstore.NewConstraintManager(redisClient)
	case "memory":
		cache = ecgstore.NewMemoryCache(cfg.MemoryCacheSize, 10*time.Minute, cfg.CacheNamespace)
	}
	if cache != nil {
		defer cache.Close()
	}

	deps := ecgstore.ServiceDeps{
		Cache:        cache,
		Logger:       logger,
		Metrics:      metrics,
		Namespace:    cfg.CacheNamespace,
		Constraints:  constraints,
		Audit:        ecgstore.NewAuditLog(backend, logger),
		Invalidation: cfg.Invalidation,
	}

	files := ecgstore.NewFileStore(backend, logger)
	exams := ecgstore.NewExamService(store, files, deps)
	users := ecgstore.NewUserService(store, deps)

	mux := http.NewServeMux()
	ecgstore.NewAPI(exams, users, logger).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := backend.Ping(hctx); err != nil {
			http.Error(w, "backend: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(hctx).Err(); err != nil {
				http.Error(w, "redis: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr,
			"backend", cfg.Backend.Type, "cache", cfg.Cache)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}
