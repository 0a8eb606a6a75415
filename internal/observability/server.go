package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/matching"
)

// ServerConfig mirrors the teacher's HFTServerConfig knobs, trimmed to the
// fields a metrics/health sidecar needs — no TLS, no keep-alive tuning,
// this endpoint only ever serves operators and health checkers on a
// private network.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig matches the teacher's HFTServerConfig defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server exposes /healthz, /metrics and a debug order book snapshot route.
// Grounded in NewHFTGinEngine/SetupHFTRoutes: a release-mode gin.Engine with
// no default middleware, recovery added back in explicitly, and a thin
// route table, generalized from the teacher's trading REST API to this
// exchange's monitoring-only surface.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// NewServer wires engine's snapshot endpoint, the Prometheus exporter for
// registry, and a liveness probe. mirror may be nil, in which case
// /ws/debug is not registered.
func NewServer(cfg ServerConfig, registry *prometheus.Registry, eng *matching.Engine, mirror *DebugMirror, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	gin.DisableConsoleColor()

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Unix()})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	if mirror != nil {
		engine.GET("/ws/debug", gin.WrapF(mirror.Handle))
	}

	engine.GET("/books/:symbol", func(c *gin.Context) {
		symbol := c.Param("symbol")
		snap, err := eng.Snapshot(symbol)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	engine.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Stats())
	})

	return &Server{
		engine: engine,
		logger: logger,
		http: &http.Server{
			Addr:         cfg.Address,
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("observability server listening", zap.String("addr", s.http.Addr))
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observability server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("observability server stopping")
	return s.http.Shutdown(ctx)
}

// Engine exposes the underlying gin.Engine for tests that want to drive
// routes directly with httptest, without binding a real port.
func (s *Server) Engine() *gin.Engine { return s.engine }
