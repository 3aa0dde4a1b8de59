// Package http exposes the generation pipeline, usage and brand context
// over a JSON API.
//
// The caller identity comes from X-User-ID and X-Workspace-ID, set by the
// authenticating gateway in front of this service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/brandctx"
	"github.com/fyrsmithlabs/copyd/internal/gate"
	"github.com/fyrsmithlabs/copyd/internal/logging"
	"github.com/fyrsmithlabs/copyd/internal/pipeline"
	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// Pipeline runs steps and applies results.
type Pipeline interface {
	Run(ctx context.Context, s subject.Subject, step string, payload json.RawMessage, opts ...pipeline.RunOption) (*pipeline.Result, error)
	Apply(ctx context.Context, s subject.Subject, req pipeline.ApplyRequest) error
}

// UsageReporter reports monthly usage.
type UsageReporter interface {
	Usage(ctx context.Context, s subject.Subject) (*gate.UsageReport, error)
}

// RecordWriter upserts profile records.
type RecordWriter interface {
	PutRecord(ctx context.Context, owner string, category subject.Category, v any) error
}

// Deps are the services the server exposes.
type Deps struct {
	Pipeline Pipeline
	Usage    UsageReporter
	Contexts pipeline.ContextBuilder
	Records  RecordWriter
}

// DefaultBodyLimit fits a base64-encoded pipeline.MaxFileBytes attachment
// (4/3 of its size) plus the JSON around it.
const DefaultBodyLimit = "16M"

// Server provides the HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host      string
	Port      int
	BodyLimit string
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Pipeline == nil || deps.Usage == nil || deps.Contexts == nil || deps.Records == nil {
		return nil, errors.New("pipeline, usage, contexts and records are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8080}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = DefaultBodyLimit
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleHTTPError
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", subjectMiddleware)
	v1.POST("/pipeline/:step", s.handleRunStep)
	v1.GET("/usage", s.handleUsage)
	v1.GET("/context", s.handleContext)
	v1.PUT("/records/:category", s.handlePutRecord)
	v1.POST("/contents/:id", s.handleApply)
}

// requestLogger logs one line per request with the request id and subject.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			}
			fields = append(fields, logging.ContextFields(c.Request().Context())...)
			logger.Info("http request", fields...)
			return nil
		}
	}
}

// handleHTTPError renders errors raised outside the handlers, such as the
// body limit, as an ErrorResponse.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		_ = s.writeError(c, err)
		return
	}
	s.echo.DefaultHTTPErrorHandler(err, c)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// subjectKey is the echo context key holding the caller subject.
const subjectKey = "subject"

const (
	HeaderUserID      = "X-User-ID"
	HeaderWorkspaceID = "X-Workspace-ID"
)

func subjectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		s, err := subject.New(req.Header.Get(HeaderUserID), req.Header.Get(HeaderWorkspaceID))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthenticated, Error: err.Error()})
		}
		c.Set(subjectKey, s)

		ctx := logging.WithSubject(req.Context(), s)
		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		}
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func subjectOf(c echo.Context) subject.Subject {
	s, _ := c.Get(subjectKey).(subject.Subject)
	return s
}

// policyFromQuery reads "ctx.<toggle>=true|false" query parameters.
func policyFromQuery(c echo.Context) (brandctx.Policy, error) {
	raw := map[string]bool{}
	for key, values := range c.QueryParams() {
		name, ok := strings.CutPrefix(key, "ctx.")
		if !ok || len(values) == 0 {
			continue
		}
		on, err := strconv.ParseBool(values[0])
		if err != nil {
			return nil, fmt.Errorf("invalid value %q for %s", values[0], key)
		}
		raw[name] = on
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return brandctx.ParsePolicy(raw)
}
