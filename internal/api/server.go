// Package api exposes the extraction engine and the review workflow over HTTP,
// and provides a client for engines served remotely.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/engine"
	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/workflow"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Engine is the engine surface served by the API.
type Engine interface {
	engine.Extractor
	Stats(ctx context.Context) (*model.EngineStats, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is the allowed requests per second per client. Zero disables limiting.
	RateLimit float64
}

// Server provides HTTP endpoints for the engine and the workflow.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	manager *workflow.Manager
	config  *Config
}

// NewServer creates a new HTTP server.
func NewServer(eng Engine, manager *workflow.Manager, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("workflow manager cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			},
		}))
	}

	s := &Server{
		echo:    e,
		engine:  eng,
		manager: manager,
		config:  cfg,
	}
	s.registerRoutes()

	return s, nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	iago := s.echo.Group("/api/iago")
	iago.POST("/learn", s.handleLearn)
	iago.POST("/analyze", s.handleAnalyze)
	iago.GET("/stats", s.handleStats)

	records := s.echo.Group("/api/records")
	records.GET("", s.handleListRecords)
	records.POST("", s.handleImport)
	records.GET("/:id", s.handleGetRecord)
	records.POST("/:id/open", s.handleOpen)
	records.POST("/:id/save", s.handleSave)
	records.POST("/:id/conclude", s.handleConclude)
	records.POST("/:id/reopen", s.handleReopen)
	records.POST("/:id/release", s.handleRelease)
	records.POST("/:id/reanalyze", s.handleReanalyze)
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		duration := time.Since(start)

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().Status
		RequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(route).Observe(duration.Seconds())

		slog.Info("http request",
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"status", status,
			"duration", duration,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID))

		return nil
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleLearn(c echo.Context) error {
	var req LearnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	learned, err := s.engine.Learn(c.Request().Context(), req.FullText, req.CurrentData)
	if err != nil {
		return httpError(err)
	}
	PatternsLearned.Add(float64(learned))

	return c.JSON(http.StatusOK, LearnResponse{LearnedCount: learned})
}

func (s *Server) handleAnalyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	values, err := s.engine.Analyze(c.Request().Context(), req.FullText)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, values)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.engine.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListRecords(c echo.Context) error {
	filter := model.RecordFilter{
		Status: model.RecordStatus(strings.ToUpper(c.QueryParam("status"))),
		Search: c.QueryParam("search"),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}

	views, err := s.manager.ListRecords(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}

	items := make([]RecordListItem, 0, len(views))
	for _, v := range views {
		items = append(items, RecordListItem{
			Record:          v.Record,
			Lock:            v.Lock,
			EffectiveStatus: v.EffectiveStatus(),
		})
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleImport(c echo.Context) error {
	var req ImportRequestBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	fields, err := parseFields(req.Fields)
	if err != nil {
		return err
	}

	result, err := s.manager.ImportDocument(c.Request().Context(), workflow.ImportRequest{
		RecognizedText: req.RecognizedText,
		SourceFile:     req.SourceFile,
		Fields:         fields,
		Overwrite:      req.Overwrite,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, result.Record)
}

func (s *Server) handleGetRecord(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}

	view, err := s.manager.GetRecord(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, RecordListItem{Record: view.Record, Lock: view.Lock, EffectiveStatus: view.EffectiveStatus()})
}

func (s *Server) handleOpen(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.manager.OpenForEdit(c.Request().Context(), id, req.User, req.Role)
	if err != nil {
		return httpError(err)
	}

	resp := OpenResponse{
		Granted:        result.Granted,
		LockedBy:       result.LockedBy,
		Completed:      result.Completed,
		Stolen:         result.Stolen,
		PreviousHolder: result.PreviousHolder,
	}
	if !result.Granted {
		LockOutcomes.WithLabelValues("denied").Inc()
		resp.Error = result.Err().Error()
		return c.JSON(http.StatusConflict, resp)
	}

	if result.Stolen {
		LockOutcomes.WithLabelValues("stolen").Inc()
	} else {
		LockOutcomes.WithLabelValues("granted").Inc()
	}
	resp.Record = result.Record
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSave(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req FieldsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	fields, err := parseFields(req.Fields)
	if err != nil {
		return err
	}

	if err := s.manager.SaveRecord(c.Request().Context(), id, fields); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleConclude(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req FieldsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	fields, err := parseFields(req.Fields)
	if err != nil {
		return err
	}

	result, err := s.manager.ConcludeRecord(c.Request().Context(), id, req.User, fields)
	if err != nil {
		return httpError(err)
	}
	PatternsLearned.Add(float64(result.LearnedCount))

	resp := ConcludeResponse{LearnedCount: result.LearnedCount}
	if result.LearnErr != nil {
		resp.LearnError = result.LearnErr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReopen(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.manager.ReopenRecord(c.Request().Context(), id, req.User, req.Role); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRelease(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}

	if err := s.manager.ReleaseLock(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReanalyze(c echo.Context) error {
	id, err := recordID(c)
	if err != nil {
		return err
	}

	changes, err := s.manager.Reanalyze(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if changes == nil {
		changes = []workflow.FieldChange{}
	}
	return c.JSON(http.StatusOK, ReanalyzeResponse{Changes: changes})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	slog.Info("Starting http server", "addr", addr)
	return s.echo.Start(addr)
}

// StartTLS starts the HTTPS server with the given PEM files.
func (s *Server) StartTLS(certFile, keyFile string) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	slog.Info("Starting https server", "addr", addr, "cert", certFile)
	return s.echo.StartTLS(addr, certFile, keyFile)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down http server")
	return s.echo.Shutdown(ctx)
}

func recordID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "record id must be a positive integer")
	}
	return id, nil
}

func parseFields(raw map[string]string) (map[model.FieldName]string, error) {
	fields := make(map[model.FieldName]string, len(raw))
	for name, value := range raw {
		field, ok := model.ParseFieldName(name)
		if !ok {
			return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown field %q", name))
		}
		fields[field] = value
	}
	return fields, nil
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	var lockErr *common.LockDeniedError
	var userErr *common.UserError
	switch {
	case errors.As(err, &lockErr):
		return echo.NewHTTPError(http.StatusConflict, lockErr.Error())
	case errors.Is(err, common.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrNotPrivileged):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrDuplicateRecord):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrInvalidRole),
		errors.Is(err, common.ErrNoRecognizedText),
		errors.As(err, &userErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	slog.Error("Request failed", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
