package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"stashcast/items"
	"stashcast/progress"
)

func writeEvent(res *echo.Response, event progress.Status) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	res.Flush()
	return nil
}

// ItemEventsGet streams progress of one item as server-sent events until it
// reaches READY or ERROR or the client goes away.
func ItemEventsGet(c echo.Context) error {
	id := c.Param("id")
	item, err := env.Service.Get(id)
	if errors.Is(err, items.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	}
	if err != nil {
		return err
	}

	req := c.Request()
	res := c.Response()

	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	q := env.Progress.Subscribe()
	defer env.Progress.Unsubscribe(q)

	current, ok := env.Progress.Read(id)
	if !ok || item.Status.Terminal() {
		current = progress.Status{ID: id, Status: string(item.Status), UpdatedAt: item.UpdatedAt}
	}
	if err := writeEvent(res, current); err != nil {
		return err
	}
	if items.Status(current.Status).Terminal() {
		return nil
	}

	done := req.Context().Done()
	for {
		select {
		case <-done:
			return nil
		case event := <-q.Ch:
			if event.ID != id {
				continue
			}
			if err := writeEvent(res, event); err != nil {
				return err
			}
			if items.Status(event.Status).Terminal() {
				return nil
			}
		}
	}
}
