package handlers

import (
	"errors"
	"net/http"
	"path"
	"strconv"

	"github.com/labstack/echo/v4"

	"stashcast/items"
	"stashcast/media"
	"stashcast/pipeline"
	"stashcast/playlists"
	"stashcast/prefetch"
	"stashcast/progress"
)

type itemView struct {
	*items.Item
	ContentURL   string           `json:"content_url,omitempty"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	SubtitleURL  string           `json:"subtitle_url,omitempty"`
	LogURL       string           `json:"log_url,omitempty"`
	Progress     *progress.Status `json:"progress,omitempty"`
}

func mediaURL(item *items.Item, rel string) string {
	if rel == "" || item.Status != items.StatusReady {
		return ""
	}
	return path.Join("/media", item.Slug, rel)
}

// logURL points at the run log: in the item directory once READY, under
// errors/<id> once a failed run kept it.
func logURL(item *items.Item) string {
	if item.LogPath == "" {
		return ""
	}
	switch item.Status {
	case items.StatusReady:
		return path.Join("/media", item.Slug, item.LogPath)
	case items.StatusError:
		return path.Join("/media", items.ErrorsDir, item.ID, item.LogPath)
	}
	return ""
}

func viewOf(item *items.Item) *itemView {
	if item == nil {
		return nil
	}
	v := &itemView{
		Item:         item,
		ContentURL:   mediaURL(item, item.ContentPath),
		ThumbnailURL: mediaURL(item, item.ThumbnailPath),
		SubtitleURL:  mediaURL(item, item.SubtitlePath),
		LogURL:       logURL(item),
	}
	if p, ok := env.Progress.Read(item.ID); ok && !item.Status.Terminal() {
		v.Progress = &p
	}
	return v
}

type stashRequest struct {
	URL           string `json:"url" form:"url"`
	Type          string `json:"type" form:"type"`
	AllowMultiple bool   `json:"allow_multiple" form:"allow_multiple"`
	Wait          bool   `json:"wait" form:"wait"`
	Alternate     string `json:"alternate" form:"alternate"`
}

type stashResponse struct {
	Item     *itemView           `json:"item,omitempty"`
	Reused   bool                `json:"reused"`
	Playlist *playlists.Playlist `json:"playlist,omitempty"`
	Items    []*itemView         `json:"items,omitempty"`
	Error    string              `json:"error,omitempty"`
	Entries  []prefetch.Entry    `json:"entries,omitempty"`
}

func StashPost(c echo.Context) error {
	var req stashRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed request"))
	}
	res, err := env.Service.Stash(c.Request().Context(), req.URL, media.ParseRequested(req.Type), pipeline.StashOptions{
		Wait:          req.Wait,
		AllowMultiple: req.AllowMultiple,
		Alternate:     req.Alternate,
	})
	return respond(c, res, err, req.Wait)
}

func ItemRetryPost(c echo.Context) error {
	wait, _ := strconv.ParseBool(c.FormValue("wait"))
	res, err := env.Service.Retry(c.Request().Context(), c.Param("id"), wait)
	return respond(c, res, err, wait)
}

// respond maps a stash or retry outcome to a status code. A waited run that
// failed still answers 200: the item carries the error.
func respond(c echo.Context, res *pipeline.StashResult, err error, waited bool) error {
	var limit *pipeline.LimitReachedError
	var multi *prefetch.MultipleItemsError
	switch {
	case errors.Is(err, pipeline.ErrEmptySource):
		return c.JSON(http.StatusBadRequest, errorBody("url is required"))
	case errors.As(err, &limit):
		return c.JSON(http.StatusBadRequest, errorBody(limit.Error()))
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, items.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		return c.JSON(http.StatusConflict, errorBody(err.Error()))
	case errors.As(err, &multi):
		body := stashResponse{Error: multi.Error(), Entries: multi.Entries}
		if res != nil {
			body.Item = viewOf(res.Item)
		}
		return c.JSON(http.StatusConflict, body)
	case err != nil && res == nil:
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	body := stashResponse{
		Item:     viewOf(res.Item),
		Reused:   res.Reused,
		Playlist: res.Playlist,
	}
	for _, it := range res.Items {
		body.Items = append(body.Items, viewOf(it))
	}
	if err != nil {
		body.Error = err.Error()
	}
	if !waited {
		return c.JSON(http.StatusAccepted, body)
	}
	return c.JSON(http.StatusOK, body)
}

func ItemsGet(c echo.Context) error {
	limit := 50
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		limit = v
	}
	list, err := env.Service.List(limit)
	if err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("Unable to list items"))
	}
	views := make([]*itemView, 0, len(list))
	for i := range list {
		views = append(views, viewOf(&list[i]))
	}
	return c.JSON(http.StatusOK, views)
}

func ItemGet(c echo.Context) error {
	item, err := env.Service.Get(c.Param("id"))
	if errors.Is(err, items.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	}
	if err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("Unable to load item"))
	}
	return c.JSON(http.StatusOK, viewOf(item))
}

// ItemProgressGet answers from the progress map and falls back to the store,
// which stays authoritative once the map has forgotten the item.
func ItemProgressGet(c echo.Context) error {
	id := c.Param("id")
	item, err := env.Service.Get(id)
	if errors.Is(err, items.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	}
	if err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("Unable to load item"))
	}
	if p, ok := env.Progress.Read(id); ok && !item.Status.Terminal() {
		return c.JSON(http.StatusOK, p)
	}
	p := progress.Status{ID: id, Status: string(item.Status), UpdatedAt: item.UpdatedAt}
	if item.Status == items.StatusReady {
		p.Percent = 100
	}
	return c.JSON(http.StatusOK, p)
}

func PlaylistGet(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("bad playlist id"))
	}
	p, members, err := env.Service.Playlist(uint(id))
	if errors.Is(err, playlists.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	}
	if err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("Unable to load playlist"))
	}
	views := make([]*itemView, 0, len(members))
	for i := range members {
		views = append(views, viewOf(&members[i]))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"playlist": p,
		"items":    views,
	})
}

func ResolveGet(c echo.Context) error {
	res, err := env.Service.ResolveAlternates(c.Request().Context(), c.QueryParam("url"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, res)
}
