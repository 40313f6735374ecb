package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"safebank/internal/cache"
	"safebank/internal/config"
	"safebank/internal/domain"
	"safebank/internal/handler"
	"safebank/internal/repository"
	"safebank/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	store  domain.Store
	db     *sql.DB
	redis  *redis.Client
	logger *slog.Logger
	port   string
}

// NewServer builds the store, cache, service and routes described by cfg.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s := &Server{logger: logger}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		s.store = repository.NewMemoryStore(logger)
		logger.Info("Using in-memory account store")
	case config.StoreDriverPostgres:
		db, err := repository.Open(ctx, cfg.GetDBConnectionString())
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to database")

		if cfg.RunMigrations {
			if err := repository.RunMigrations(ctx, db, logger); err != nil {
				db.Close()
				return nil, err
			}
		}

		s.db = db
		s.store = repository.NewStore(db, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	opts := []service.Option{
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithMaxRetries(cfg.MaxRetries),
	}

	if cfg.CacheEnabled() {
		rdb, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			s.close()
			return nil, err
		}
		s.redis = rdb
		opts = append(opts, service.WithCache(cache.NewAccountCache(rdb, cfg.CacheTTL, logger)))
		logger.Info("Account cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	accountService := service.NewAccountService(s.store, logger, opts...)
	accountHandler := handler.NewAccountHandler(accountService)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	accountHandler.RegisterRoutes(router)
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	s.router = router
	return s, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "store unavailable"})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start listens on port and serves in the background. Port "0" picks a free port.
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server, then releases the store and cache.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.close()
	return err
}

func (s *Server) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Failed to close redis client", "error", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("Failed to close database", "error", err)
		}
		s.db = nil
	}
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.close()
		return nil, "", err
	}

	return server, port, nil
}
