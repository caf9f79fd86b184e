package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"RunGuard/pkg/http/middleware"
	applogger "RunGuard/pkg/logger"
)

// ServerConfig is the server section of the application config.
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	// CORSOrigins enables CORS for these origins; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
}

// DefaultServerConfig returns a ServerConfig with every default tag applied.
func DefaultServerConfig() ServerConfig {
	var c ServerConfig
	if err := defaults.Set(&c); err != nil {
		panic(err)
	}
	return c
}

// ServerOption sets what the config file does not carry.
type ServerOption func(*Server)

// WithMetricsPath exposes the Prometheus registry at path; empty disables it.
func WithMetricsPath(path string) ServerOption {
	return func(s *Server) { s.metricsPath = path }
}

// WithLogger sets the request and lifecycle logger.
func WithLogger(l *applogger.Logger) ServerOption {
	return func(s *Server) { s.l = l }
}

// Server wraps Echo HTTP server.
type Server struct {
	echo        *echo.Echo
	config      ServerConfig
	metricsPath string
	l           *applogger.Logger
	ln          net.Listener
}

// NewServer creates the echo server. cfg is used as given; start from
// DefaultServerConfig for the usual timeouts.
func NewServer(cfg ServerConfig, handler Handler, opts ...ServerOption) *Server {
	s := &Server{config: cfg, l: applogger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.l == nil {
		s.l = applogger.Nop()
	}
	l := s.l

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(l))
	e.Use(middleware.RequestLogging(l))
	e.Use(middleware.Metrics(l, cfg.SlowThreshold))

	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodDelete,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
			},
		}))
	}

	if handler != nil {
		handler.RegisterRoutes(e)
	}

	if s.metricsPath != "" {
		e.GET(s.metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	s.echo = e
	return s
}

// Start binds the listen address and serves in the background. A port that
// cannot be bound is reported here rather than from the serving goroutine.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.echo.Listener = ln

	go func() {
		s.l.Info("http server listening", applogger.String("addr", ln.Addr().String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http server error", applogger.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once Start succeeded. With port 0 this is
// where the kernel-chosen port shows up.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.l.Info("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
