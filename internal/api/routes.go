package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/adapters/realtime"
	"github.com/bromscandium/BioGrow/domain/repositories"
	"github.com/bromscandium/BioGrow/internal/metrics"
	"github.com/bromscandium/BioGrow/internal/websocket"
)

// InitRoutes initializes all broker routes
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	minter repositories.SessionMinter,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) {
	e.Use(requestMetrics(m))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "farmvoice-broker",
		})
	})

	// Ephemeral credential for the client's media session
	e.GET("/session", func(c echo.Context) error {
		return mintSession(c, minter, m, logger)
	})

	// Streaming transport
	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(hub, c)
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func mintSession(c echo.Context, minter repositories.SessionMinter, m *metrics.Metrics, logger *zap.Logger) error {
	body, err := minter.MintSession(c.Request().Context())
	if err != nil {
		var upstream *realtime.UpstreamError
		if errors.As(err, &upstream) {
			logger.Warn("Upstream rejected session request",
				zap.Int("status", upstream.StatusCode),
				zap.String("body", upstream.Body))
			m.RecordSessionMinted(upstream.StatusCode)
			return c.JSON(upstream.StatusCode, ErrorResponse{
				Error:   "upstream_error",
				Message: upstream.Body,
			})
		}

		logger.Error("Failed to mint session", zap.Error(err))
		m.RecordSessionMinted(http.StatusBadGateway)
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "session_unavailable",
			Message: "Failed to obtain a realtime session",
		})
	}

	m.RecordSessionMinted(http.StatusOK)
	logger.Info("Realtime session minted", zap.Int("size", len(body)))
	return c.JSONBlob(http.StatusOK, body)
}

// requestMetrics records count and latency of every request
func requestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				status = httpErr.Code
			}
			m.RecordHTTPRequest(c.Request().Method, c.Path(), status, time.Since(start).Seconds())
			return err
		}
	}
}
