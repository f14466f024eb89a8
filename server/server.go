// Package server hosts the HTTP surface: the ingest API, the SSE event
// stream, the RSS feed of the vault, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/ingest"
	"github.com/linkhoard/linkhoard/pipeline/metrics"
	apiv1 "github.com/linkhoard/linkhoard/server/router/api/v1"
	"github.com/linkhoard/linkhoard/store"
)

// Options carries the pipeline collaborators the server exposes over
// HTTP. Metrics may be nil; the /metrics route is skipped then.
type Options struct {
	Ingest  *ingest.Service
	Bus     *eventbus.Bus
	Metrics *metrics.Exporter
}

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

func NewServer(_ context.Context, instanceProfile *profile.Profile, st *store.Store, opts *Options) (*Server, error) {
	if opts == nil || opts.Ingest == nil || opts.Bus == nil {
		return nil, errors.New("server requires ingest service and event bus")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		Profile:    instanceProfile,
		Store:      st,
		echoServer: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/feed.rss", s.handleRSSFeed)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}

	apiService := apiv1.NewAPIV1Service(instanceProfile, st, opts.Ingest, opts.Bus, opts.Metrics)
	apiService.RegisterRoutes(e)

	return s, nil
}

// Start binds the listener and returns immediately. Listen errors other
// than a clean shutdown are logged from the serving goroutine.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shutdown complete")
}
