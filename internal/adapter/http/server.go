package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/compliai/auditplanner/pkg/logger"
)

// HealthCheck reports the health of one dependency
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	addr   string
	server *http.Server
	logger logger.Logger
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, projectHandler *ProjectHandler, checks map[string]HealthCheck, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	router := NewRouter(config, projectHandler, checks, log)
	addr := config.Host + ":" + config.Port

	return &Server{
		addr:   addr,
		logger: log,
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// NewRouter builds the router with middleware, project routes and health checks.
// CORS wraps the router so preflight requests never reach route matching.
func NewRouter(config ServerConfig, projectHandler *ProjectHandler, checks map[string]HealthCheck, log logger.Logger) http.Handler {
	router := mux.NewRouter()

	projectHandler.RegisterRoutes(router)

	health := healthHandler(checks)
	router.HandleFunc("/health", health).Methods("GET")
	router.HandleFunc(routePrefix+"/health", health).Methods("GET")

	router.Use(correlationMiddleware)
	router.Use(loggingMiddleware(log))
	router.Use(recoveryMiddleware(log))

	return corsMiddleware(config.CORSOrigins)(router)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		results := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				healthy = false
				continue
			}
			results[name] = "ok"
		}

		data := map[string]interface{}{
			"service": "audit-planner",
			"checks":  results,
		}
		if !healthy {
			writeJSON(w, http.StatusServiceUnavailable, Envelope{Status: false, Message: "Service degraded", Data: data})
			return
		}
		writeSuccess(w, http.StatusOK, "Service healthy", data)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Starting HTTP server", map[string]interface{}{"addr": s.addr})
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}
