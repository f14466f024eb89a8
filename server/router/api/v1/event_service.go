package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/pipeline/eventbus"
)

// StreamEvents serves the realtime event stream over SSE. Reconnecting
// clients send Last-Event-ID; outbox events with a greater id are
// replayed in order before live delivery resumes.
func (s *APIV1Service) StreamEvents(c echo.Context) error {
	ctx := c.Request().Context()
	response := c.Response()

	replay := false
	lastID := int64(0)
	if header := c.Request().Header.Get("Last-Event-ID"); header != "" {
		parsed, err := strconv.ParseInt(header, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid Last-Event-ID")
		}
		replay = true
		lastID = parsed
	}

	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set(echo.HeaderCacheControl, "no-cache")
	response.Header().Set(echo.HeaderConnection, "keep-alive")
	response.WriteHeader(http.StatusOK)

	s.Metrics.AddSSESubscriber(1)
	defer s.Metrics.AddSSESubscriber(-1)

	// Subscribe before replaying so nothing published in between is
	// lost; replayed ids are skipped in the live loop.
	subscriber := s.Bus.Subscribe()
	defer subscriber.Close()

	var replayedThrough int64
	if replay {
		events, err := s.Bus.ReplaySince(ctx, lastID)
		if err != nil {
			return errors.Wrap(err, "failed to replay events")
		}
		for _, event := range events {
			writeSSEEvent(response, event)
			replayedThrough = event.ID
		}
		response.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-subscriber.C:
			if event == nil {
				return nil
			}
			if event.ID > 0 && event.ID <= replayedThrough {
				continue
			}
			writeSSEEvent(response, event)
			response.Flush()
		}
	}
}

func writeSSEEvent(response *echo.Response, event *eventbus.Event) {
	if event.ID > 0 {
		fmt.Fprintf(response, "id: %d\n", event.ID)
	}
	fmt.Fprintf(response, "event: %s\n", event.Type)
	data := "{}"
	if len(event.Payload) > 0 {
		data = string(event.Payload)
	}
	fmt.Fprintf(response, "data: %s\n\n", data)
}
