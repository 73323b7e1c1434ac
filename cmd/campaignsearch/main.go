package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/config"
	"github.com/ent-agency/campaignsearch/internal/domain"
	dbRedis "github.com/ent-agency/campaignsearch/internal/db/redis"
	logpkg "github.com/ent-agency/campaignsearch/internal/logger"
	"github.com/ent-agency/campaignsearch/internal/metrics"
	"github.com/ent-agency/campaignsearch/internal/repository/embcache"
	chiTransport "github.com/ent-agency/campaignsearch/internal/transport/chi"
	openaiEmb "github.com/ent-agency/campaignsearch/internal/transport/openai"
	"github.com/ent-agency/campaignsearch/internal/transport/pinecone"
	"github.com/ent-agency/campaignsearch/internal/version"
	analyticsuc "github.com/ent-agency/campaignsearch/internal/usecase/analytics"
	healthuc "github.com/ent-agency/campaignsearch/internal/usecase/health"
	ingestuc "github.com/ent-agency/campaignsearch/internal/usecase/ingest"
	queryuc "github.com/ent-agency/campaignsearch/internal/usecase/query"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting campaignsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index", cfg.Retrieval.Index),
	)

	// Register metrics explicitly (no init())
	metrics.Register()

	ctx := context.Background()

	// Base embedding provider
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	// Optional caching decorator backed by a key-value store
	var embedder domain.Embedder = base
	var cachePing healthuc.CachePinger
	if cfg.Cache.Enabled {
		kv, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer kv.Close()

		if err := kv.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache store not ready", zap.Error(err))
		}
		logger.Info("Connected to embedding cache", zap.Strings("addrs", cfg.Cache.Addrs))

		embedder = embcache.New(base, kv, cfg.Cache.KeyPrefix, metrics.EmbeddingCacheTotal, logger)
		cachePing = kv
	}

	// Retrieval service client
	store := pinecone.New(pinecone.Config{
		APIKey:      cfg.Retrieval.APIKey,
		Host:        cfg.Retrieval.Host,
		ControlHost: cfg.Retrieval.ControlHost,
		Index:       cfg.Retrieval.Index,
		Timeout:     time.Duration(cfg.Retrieval.TimeoutSec) * time.Second,
		Logger:      logger,
	})

	// Startup capability probe. A failure here means the index is unreachable
	// or misconfigured, which nothing at request time can fix.
	integrated, err := store.SupportsIntegratedEmbedding(ctx)
	if err != nil {
		logger.Fatal("Failed to describe index",
			zap.Error(fmt.Errorf("%w: %w", domain.ErrConfiguration, err)))
	}
	if !integrated {
		// Legacy vector path requires matching dimensions on both sides.
		dim, err := store.Dimension(ctx)
		if err != nil {
			logger.Fatal("Failed to read index dimension", zap.Error(err))
		}
		if dim > 0 && dim != base.Dimensions() {
			logger.Fatal("Embedding dimension mismatch",
				zap.Int("index_dimension", dim),
				zap.Int("embedder_dimension", base.Dimensions()),
				zap.Error(domain.ErrConfiguration))
		}
	}
	logger.Info("Index described", zap.Bool("integrated_embedding", integrated))

	// Use case services
	writer := ingestuc.New(store, embedder, logger).
		WithMaxBatchSize(cfg.Ingest.MaxBatchSize).
		WithMaxParallel(cfg.Ingest.MaxParallel).
		WithRetry(cfg.Ingest.MaxAttempts, time.Duration(cfg.Ingest.BackoffMs)*time.Millisecond)
	engine := queryuc.New(store, embedder, cfg.Retrieval.RerankModel, logger)
	analytics := analyticsuc.New(engine, logger)
	healthSvc := healthuc.New(newEmbeddingHealthChecker(embedder), cachePing)

	server := chiTransport.NewServer(writer, engine, analytics, healthSvc, store.Stats, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
