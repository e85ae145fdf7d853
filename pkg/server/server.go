package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bilisub/pkg/logger"
	"bilisub/pkg/models"
	"bilisub/pkg/store"
	"bilisub/pkg/supervisor"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Subscriptions is the supervisor surface served over HTTP
type Subscriptions interface {
	Subscribe(ctx context.Context, uid int64, dest string) (*models.Entity, error)
	Unsubscribe(ctx context.Context, uid int64, dest string) (*models.Entity, error)
	List(ctx context.Context) ([]supervisor.Status, error)
}

// SubscriptionRequest is the body of POST /api/subscriptions
type SubscriptionRequest struct {
	UID         int64  `json:"uid"`
	Destination string `json:"destination"`
}

// SubscriptionView is one entity in API responses
type SubscriptionView struct {
	UID          int64    `json:"uid"`
	Name         string   `json:"name"`
	Destinations []string `json:"destinations"`
	Running      bool     `json:"running,omitempty"`
}

// Server is the admin HTTP server
type Server struct {
	echo   *echo.Echo
	addr   string
	subs   Subscriptions
	logger logger.Logger
}

// New builds the server and registers its routes
func New(addr string, subs Subscriptions, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &Server{
		echo:   echo.New(),
		addr:   addr,
		subs:   subs,
		logger: log.WithField("component", "server"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogError:   true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := map[string]interface{}{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				s.logger.WithError(v.Error).WarnWithFields("Request failed", fields)
				return nil
			}
			s.logger.DebugWithFields("Request completed", fields)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())

	s.echo.GET("/healthz", s.health)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	api := s.echo.Group("/api")
	api.GET("/subscriptions", s.listSubscriptions)
	api.POST("/subscriptions", s.createSubscription)
	api.DELETE("/subscriptions/:uid", s.deleteSubscription)

	return s
}

// Handler returns the routed http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.logger.InfoWithFields("Admin server listening", map[string]interface{}{
		"address": s.addr,
	})
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSubscriptions(c echo.Context) error {
	statuses, err := s.subs.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions")
	}

	out := make([]SubscriptionView, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, SubscriptionView{
			UID:          st.UID,
			Name:         st.Name,
			Destinations: nonNil(st.Destinations),
			Running:      st.Running,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createSubscription(c echo.Context) error {
	var req SubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UID <= 0 || strings.TrimSpace(req.Destination) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "uid and destination are required")
	}

	e, err := s.subs.Subscribe(c.Request().Context(), req.UID, req.Destination)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, view(e))
}

func (s *Server) deleteSubscription(c echo.Context) error {
	uid, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil || uid <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid uid")
	}
	dest := c.QueryParam("destination")
	if dest == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "destination is required")
	}

	e, err := s.subs.Unsubscribe(c.Request().Context(), uid, dest)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, view(e))
}

func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	case errors.Is(err, store.ErrDestinationExists):
		return echo.NewHTTPError(http.StatusConflict, "already subscribed")
	}
	// validation errors from the supervisor name the bad field
	if strings.Contains(err.Error(), "invalid") || strings.Contains(err.Error(), "unknown destination") {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.WithError(err).Error("Subscription change failed")
	return echo.NewHTTPError(http.StatusBadGateway, "subscription change failed")
}

func view(e *models.Entity) SubscriptionView {
	return SubscriptionView{UID: e.UID, Name: e.Name, Destinations: nonNil(e.Destinations)}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
