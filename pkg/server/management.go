package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/batchsync/pkg/config"
	"github.com/nimburion/batchsync/pkg/health"
	"github.com/nimburion/batchsync/pkg/ledger"
	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/observability/metrics"
)

// ManagementServer serves health checks, metrics and the ledger read API on
// the management port.
type ManagementServer struct {
	*Server
	engine          *gin.Engine
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	liveness        *health.PingChecker
}

// NewManagementServer builds the management router. ledgerReader may be nil,
// in which case the ledger routes are not registered.
func NewManagementServer(
	cfg config.ManagementConfig,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	ledgerReader LedgerReader,
) (*ManagementServer, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if healthRegistry == nil {
		return nil, errors.New("health registry is required")
	}
	if metricsRegistry == nil {
		return nil, errors.New("metrics registry is required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		requestID(),
		accessLog(log, "/health", "/ready", "/metrics"),
		recovery(log),
		httpMetrics(),
	)

	s := &ManagementServer{
		Server: NewServer(Config{
			Port:            cfg.Port,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, engine, log),
		engine:          engine,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		liveness:        health.NewPingChecker("process"),
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/ready", s.handleReady)
	engine.GET("/metrics", gin.WrapH(metricsRegistry.Handler()))
	if ledgerReader != nil {
		registerLedgerRoutes(engine.Group("/v1/contracts/:contract"), &ledgerHandlers{ledger: ledgerReader})
	}
	return s, nil
}

// Handler returns the router, for in-process use and tests.
func (s *ManagementServer) Handler() http.Handler {
	return s.engine
}

// handleHealth is the liveness probe. It does not check dependencies.
func (s *ManagementServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.liveness.Check(c.Request.Context()))
}

// handleReady runs every registered check and answers 503 when one of them is
// unhealthy.
func (s *ManagementServer) handleReady(c *gin.Context) {
	result := s.healthRegistry.Check(c.Request.Context())
	if !result.IsHealthy() {
		c.JSON(http.StatusServiceUnavailable, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ErrorResponse is the error body of every management endpoint.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status, category := http.StatusInternalServerError, "internal_server_error"
	message := "an unexpected error occurred"
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status, category, message = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, errInvalidQuery):
		status, category, message = http.StatusBadRequest, "validation_failed", err.Error()
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     category,
		Message:   message,
		RequestID: RequestIDFromContext(c.Request.Context()),
	})
}
