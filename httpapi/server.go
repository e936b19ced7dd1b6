// Package httpapi exposes a read-only view of projection status over HTTP.
// It never mutates a projection's lifecycle: control stays on the
// cooperative run/stop/reset/delete protocol, issued via the CLI or direct
// Go calls against projection.Manager.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/go-eventry/eventry/eventstore"
	"github.com/go-eventry/eventry/projection"
)

// Server wraps an Echo instance serving the projection status surface.
type Server struct {
	echo    *echo.Echo
	manager *projection.Manager
	ready   func() bool
}

// NewServer builds a Server bound to manager. ready reports whether
// GET /healthz should return 200; pass nil to always report ready.
func NewServer(manager *projection.Manager, ready func() bool) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{echo: e, manager: manager, ready: ready}

	e.GET("/healthz", s.healthz)
	e.GET("/projections", s.listProjections)
	e.GET("/projections/:name", s.getProjection)

	return s
}

// Echo returns the underlying Echo instance, for tests and for embedding
// into a larger router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start listens on addr (e.g. ":8080").
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown closes the underlying listener.
func (s *Server) Shutdown() error {
	return s.echo.Close()
}

func (s *Server) healthz(c echo.Context) error {
	if !s.ready() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// projectionView is the wire shape for one projection's status.
type projectionView struct {
	Name      string                      `json:"name"`
	Status    eventstore.ProjectionStatus `json:"status"`
	Positions map[string]int64            `json:"positions"`
}

func (s *Server) listProjections(c echo.Context) error {
	records, err := s.manager.Status(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	views := make([]projectionView, 0, len(records))
	for _, rec := range records {
		views = append(views, projectionView{Name: rec.Name, Status: rec.Status, Positions: rec.Positions})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getProjection(c echo.Context) error {
	name := c.Param("name")

	records, err := s.manager.Status(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	for _, rec := range records {
		if rec.Name == name {
			return c.JSON(http.StatusOK, projectionView{Name: rec.Name, Status: rec.Status, Positions: rec.Positions})
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("projection %q not found", name))
}
