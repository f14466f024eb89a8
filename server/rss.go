package server

import (
	"net/http"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"

	"github.com/linkhoard/linkhoard/store"
)

const rssItemLimit = 50

// handleRSSFeed serves the newest successfully parsed contents as an
// RSS 2.0 feed.
func (s *Server) handleRSSFeed(c echo.Context) error {
	ctx := c.Request().Context()

	status := store.ContentStatusParseSuccess
	limit := rssItemLimit
	contents, err := s.Store.ListContents(ctx, &store.FindContent{
		Status:             &status,
		Limit:              &limit,
		OrderByCreatedDesc: true,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list contents").SetInternal(err)
	}

	feed := &feeds.Feed{
		Title:       "LinkHoard",
		Link:        &feeds.Link{Href: s.Profile.InstanceURL},
		Description: "Recently archived contents",
		Created:     time.Now(),
	}
	for _, content := range contents {
		link := content.CleanURL
		if link == "" {
			link = content.URL
		}
		title := content.Title
		if title == "" {
			title = link
		}
		description := content.Summary
		if description == "" {
			description = content.Body
		}
		created := time.Unix(content.CreatedTs, 0)
		if content.PublishedTs > 0 {
			created = time.Unix(content.PublishedTs, 0)
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          content.CanonicalURL,
			Title:       title,
			Link:        &feeds.Link{Href: link},
			Description: description,
			Author:      &feeds.Author{Name: content.AuthorName},
			Created:     created,
		})
	}

	rss, err := feed.ToRss()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render feed").SetInternal(err)
	}
	return c.Blob(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
