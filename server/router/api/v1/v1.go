// Package v1 implements the REST API: content ingestion, parse retry,
// content listing and the SSE event stream.
package v1

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/pipeline/eventbus"
	"github.com/linkhoard/linkhoard/pipeline/ingest"
	"github.com/linkhoard/linkhoard/pipeline/metrics"
	"github.com/linkhoard/linkhoard/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Ingest  *ingest.Service
	Bus     *eventbus.Bus
	Metrics *metrics.Exporter
}

func NewAPIV1Service(instanceProfile *profile.Profile, st *store.Store, ingestService *ingest.Service, bus *eventbus.Bus, exporter *metrics.Exporter) *APIV1Service {
	return &APIV1Service{
		Profile: instanceProfile,
		Store:   st,
		Ingest:  ingestService,
		Bus:     bus,
		Metrics: exporter,
	}
}

// RegisterRoutes mounts all v1 routes on the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	group := echoServer.Group("/api/v1")
	group.Use(middleware.CORS())

	group.POST("/contents", s.CreateContent)
	group.GET("/contents", s.ListContents)
	group.GET("/contents/:id", s.GetContent)
	group.POST("/contents/:id/retry", s.RetryParse)
	group.GET("/events", s.StreamEvents)
}
