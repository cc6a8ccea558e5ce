package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/pricecache/internal/telemetry"
)

type ctxKey string

const requestIDKey ctxKey = "requestID"

// ServerConfig holds the HTTP listener's own settings, distinct from the
// domain Config the rest of the service uses.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	InboundRPS   float64
	InboundBurst int
}

// Server wires the router, middleware chain and handlers into a
// net/http.Server.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	metrics  *telemetry.Metrics
	log      zerolog.Logger
	limiter  *rate.Limiter
	cfg      ServerConfig
}

func NewServer(cfg ServerConfig, handlers *Handlers, metrics *telemetry.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		metrics:  metrics,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.InboundRPS), cfg.InboundBurst),
		cfg:      cfg,
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	// OPTIONS is listed so preflights reach the CORS middleware; mux only
	// runs middleware on matched routes.
	s.router.HandleFunc("/api/prices/all", s.handlers.PricesAll).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/health", s.handlers.Health).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/ping", s.handlers.Ping).Methods(http.MethodGet, http.MethodOptions)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet, http.MethodOptions)
	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Info().
			Str("requestId", fmt.Sprint(r.Context().Value(requestIDKey))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

// recoverMiddleware converts a handler panic into a 503 with a retryAfter
// hint, rather than dropping the connection. Only the handler's own logic
// is expected to reach this — Cache and Limiter operations don't panic,
// and FetchAll reports per-key failures in its return value instead of
// raising.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				s.handlers.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
					Error:      "Internal error",
					Message:    "unexpected failure handling request",
					RetryAfter: 5,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware applies a permissive, read-only cross-origin policy:
// any origin, GET/OPTIONS only.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware throttles inbound requests, independent of the
// outbound upstream quota enforced by internal/quota.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.handlers.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "Too many requests",
				Message: "inbound rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving. It returns http.ErrServerClosed on a clean Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", s.server.Addr, err)
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.Serve(listener)
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
