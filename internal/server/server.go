// Package server provides the HTTP API for triggering and inspecting feed ingestion.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/pipeline"
	"github.com/jonathan/feed-validator/internal/server/ratelimit"
)

// Ingestor is the run control surface of the pipeline.
type Ingestor interface {
	Start(ctx context.Context) (string, error)
	Run(ctx context.Context) (*pipeline.Summary, error)
	Snapshot() pipeline.Snapshot
	LastSummary() *pipeline.Summary
	Subscribe() (<-chan pipeline.ProgressEvent, func())
}

// Reader is the read side of the product store.
type Reader interface {
	ListProducts(ctx context.Context, filter db.ProductFilter) (*db.ProductPage, error)
	ProductSummary(ctx context.Context) (*db.ProductSummary, error)
	GetRun(ctx context.Context, id uuid.UUID) (*db.Run, error)
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	Ping(ctx context.Context) error
}

// DefaultStreamPoll is how often a progress stream re-checks the run state.
const DefaultStreamPoll = time.Second

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	ingestor    Ingestor
	store       Reader
	rateLimiter *ratelimit.Limiter
	streamPoll  time.Duration
}

// Config holds server configuration
type Config struct {
	Port int
	// RateLimit defaults to ratelimit.DefaultConfig() when nil.
	RateLimit *ratelimit.Config
}

// New creates a new server instance
func New(cfg Config, ingestor Ingestor, store Reader) *Server {
	rl := ratelimit.DefaultConfig()
	if cfg.RateLimit != nil {
		rl = *cfg.RateLimit
	}
	s := &Server{
		ingestor:    ingestor,
		store:       store,
		rateLimiter: ratelimit.NewLimiter(rl),
		streamPoll:  DefaultStreamPoll,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /ingest", s.handleIngestGet)
	mux.HandleFunc("GET /progress", s.handleProgress)
	mux.HandleFunc("GET /progress/stream", s.handleProgressStream)
	mux.HandleFunc("GET /last-summary", s.handleLastSummary)
	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("GET /products", s.handleListProducts)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout: 30 * time.Second,
		// Synchronous ingests and progress streams outlive ordinary requests.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the full middleware chain and router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	zap.L().Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware.
// A trigger answered with 409 started nothing, so its token is handed back.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := ratelimit.Classify(r.Method, r.URL.Path)
		d := s.rateLimiter.Take(s.extractClientID(r), class)
		s.setRateLimitHeaders(w, d)
		if !d.Allowed {
			s.rateLimitResponse(w, class, d)
			return
		}
		if class != ratelimit.Trigger {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status == http.StatusConflict {
			d.Refund()
		}
	})
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps progress streams working through the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID uses the IP address from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, class ratelimit.Class, d ratelimit.Decision) {
	retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	zap.L().Warn("rate limit exceeded",
		zap.Stringer("class", class),
		zap.Int("limit", d.Limit),
		zap.Duration("retry_after", d.RetryAfter))

	s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Rate limit exceeded. Please try again later.",
		"limit":       d.Limit,
		"retry_after": retryAfter,
	})
}
