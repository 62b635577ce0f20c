// Package api serves a read-only HTTP view of the font: health, metrics,
// the glyph map and glyph documents.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/developer-mesh/fontedit/pkg/observability"
)

// Config holds the HTTP server configuration
type Config struct {
	ListenAddress string          `mapstructure:"listen_address" validate:"required"`
	ReadTimeout   time.Duration   `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout  time.Duration   `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout   time.Duration   `mapstructure:"idle_timeout" validate:"gte=0"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

// DefaultConfig returns the server defaults
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   90 * time.Second,
		RateLimit:     DefaultRateLimitConfig(),
	}
}

// FontService is the font data the API reads.
type FontService interface {
	GetGlyph(ctx context.Context, name string) (map[string]any, error)
	GetGlyphMap(ctx context.Context) (map[string][]int, error)
	GetGlobalAxes(ctx context.Context) ([]map[string]any, error)
	GetUnitsPerEm(ctx context.Context) (int, error)
}

// Server represents the API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	font    FontService
	config  Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewServer creates the API server. metricsHandler serves /metrics; when
// nil the default Prometheus registry is exposed.
func NewServer(font FontService, cfg Config, logger observability.Logger, metrics observability.MetricsClient, metricsHandler http.Handler) (*Server, error) {
	logger = observability.OrNoop(logger).WithPrefix("api")
	metrics = observability.MetricsOrNoop(metrics)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(MetricsMiddleware(metrics))

	s := &Server{
		router:  router,
		font:    font,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/health", s.healthHandler)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		limiter, err := RateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		v1.Use(limiter)
	}
	v1.GET("/font", s.fontInfoHandler)
	v1.GET("/glyph-map", s.glyphMapHandler)
	v1.GET("/glyphs/:name", s.glyphHandler)
	return s, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", map[string]interface{}{"address": s.config.ListenAddress})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
