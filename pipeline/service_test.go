package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stashcast/items"
	"stashcast/media"
	"stashcast/playlists"
	"stashcast/prefetch"
	"stashcast/progress"
	"stashcast/strategy"
)

func newTestService(t *testing.T, e *testEnv, limit int) (*Service, *fakeDispatcher) {
	t.Helper()
	d := &fakeDispatcher{}
	return NewService(e.store, ServiceDeps{
		Runner:     e.orch,
		Dispatcher: d,
		Limiter:    NewLimiter(e.store, limit),
		Strategies: strategy.NewResolver([]string{"drm.example"}),
		Alternates: e.alt,
		Progress:   progress.NewTracker(0),
		MediaDir:   e.mediaDir,
	}), d
}

func TestStashWaitRunsToReady(t *testing.T) {
	e := newTestEnv(t, Options{})
	svc, d := newTestService(t, e, 0)

	res, err := svc.Stash(context.Background(), "  "+page+"  ", media.Auto, StashOptions{Wait: true})
	require.NoError(t, err)

	assert.False(t, res.Reused)
	assert.Equal(t, items.StatusReady, res.Item.Status)
	assert.Equal(t, page, res.Item.SourceRef)
	assert.Empty(t, d.ids)
}

func TestStashDispatchesInBackground(t *testing.T) {
	e := newTestEnv(t, Options{})
	svc, d := newTestService(t, e, 0)

	res, err := svc.Stash(context.Background(), page, media.Auto, StashOptions{})
	require.NoError(t, err)
	assert.Equal(t, items.StatusPrefetching, res.Item.Status)
	assert.Equal(t, []string{res.Item.ID}, d.ids)

	again, err := svc.Stash(context.Background(), page, media.Auto, StashOptions{})
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, res.Item.ID, again.Item.ID)
	assert.Len(t, d.ids, 1, "an in-flight item is not dispatched twice")
}

func TestStashReusesItem(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.pre.results[page] = &prefetch.Result{Title: "Show", Streams: media.Streams{HasAudio: true}}
	svc, _ := newTestService(t, e, 0)

	first, err := svc.Stash(context.Background(), page, media.Auto, StashOptions{Wait: true})
	require.NoError(t, err)
	second, err := svc.Stash(context.Background(), page, media.Auto, StashOptions{Wait: true})
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.Item.ID, second.Item.ID)
	assert.Equal(t, first.Item.Slug, second.Item.Slug)
	assert.Equal(t, items.StatusReady, second.Item.Status)

	list, err := svc.List(0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStashOtherKindCreatesItem(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.pre.results[page] = &prefetch.Result{Title: "Show", Streams: media.Streams{HasAudio: true, HasVideo: true}}
	svc, _ := newTestService(t, e, 0)

	audio, err := svc.Stash(context.Background(), page, media.RequestedAudio, StashOptions{Wait: true})
	require.NoError(t, err)
	video, err := svc.Stash(context.Background(), page, media.RequestedVideo, StashOptions{Wait: true})
	require.NoError(t, err)

	assert.NotEqual(t, audio.Item.ID, video.Item.ID)
	assert.Equal(t, media.Audio, audio.Item.Kind)
	assert.Equal(t, media.Video, video.Item.Kind)
	assert.NotEqual(t, audio.Item.Slug, video.Item.Slug)
	assert.DirExists(t, filepath.Join(e.mediaDir, audio.Item.Slug))
	assert.DirExists(t, filepath.Join(e.mediaDir, video.Item.Slug))

	again, err := svc.Stash(context.Background(), page, media.RequestedAudio, StashOptions{Wait: true})
	require.NoError(t, err)
	assert.Equal(t, audio.Item.ID, again.Item.ID)
}

func TestStashEpisodeLimit(t *testing.T) {
	e := newTestEnv(t, Options{})
	svc, _ := newTestService(t, e, 1)

	first, err := svc.Stash(context.Background(), page, media.Auto, StashOptions{Wait: true})
	require.NoError(t, err)

	_, err = svc.Stash(context.Background(), "https://example.com/watch?v=2", media.Auto, StashOptions{Wait: true})
	var limit *LimitReachedError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, "Episode limit reached (1/1)", err.Error())

	again, err := svc.Stash(context.Background(), page, media.Auto, StashOptions{Wait: true})
	require.NoError(t, err, "reusing an item does not count against the limit")
	assert.Equal(t, first.Item.ID, again.Item.ID)
}

func TestStashEmptySource(t *testing.T) {
	e := newTestEnv(t, Options{})
	svc, _ := newTestService(t, e, 0)

	_, err := svc.Stash(context.Background(), "   ", media.Auto, StashOptions{})
	require.ErrorIs(t, err, ErrEmptySource)
}

func TestStashExpandsPlaylist(t *testing.T) {
	e := newTestEnv(t, Options{})
	feed := "https://example.com/playlist?list=1"
	e.pre.errs[feed] = &prefetch.MultipleItemsError{
		PlaylistTitle: "Season One",
		Entries: []prefetch.Entry{
			{URL: "https://example.com/watch?v=e1", Title: "One"},
			{URL: "https://example.com/watch?v=e2", Title: "Two"},
		},
	}
	e.pre.results["https://example.com/watch?v=e1"] = &prefetch.Result{Title: "One", Streams: media.Streams{HasAudio: true}}
	e.pre.results["https://example.com/watch?v=e2"] = &prefetch.Result{Title: "Two", Streams: media.Streams{HasAudio: true}}
	svc, _ := newTestService(t, e, 0)

	res, err := svc.Stash(context.Background(), feed, media.Auto, StashOptions{Wait: true, AllowMultiple: true})
	require.NoError(t, err)

	require.NotNil(t, res.Playlist)
	assert.Equal(t, "Season One", res.Playlist.Title)
	assert.Equal(t, 2, res.Playlist.Count)
	assert.Equal(t, playlists.StatusCompleted, res.Playlist.Status)
	require.Len(t, res.Items, 2)
	for _, it := range res.Items {
		assert.Equal(t, items.StatusReady, it.Status)
		assert.Equal(t, res.Playlist.ID, it.PlaylistID)
	}

	list, err := svc.List(0)
	require.NoError(t, err)
	assert.Len(t, list, 2, "the placeholder item is removed")
}

func TestStashMultipleWithoutOptIn(t *testing.T) {
	e := newTestEnv(t, Options{})
	feed := "https://example.com/playlist?list=1"
	e.pre.errs[feed] = &prefetch.MultipleItemsError{PlaylistTitle: "Feed", Entries: []prefetch.Entry{{URL: "a"}, {URL: "b"}}}
	svc, _ := newTestService(t, e, 0)

	res, err := svc.Stash(context.Background(), feed, media.Auto, StashOptions{Wait: true})
	var multi *prefetch.MultipleItemsError
	require.ErrorAs(t, err, &multi)
	require.NotNil(t, res)
	assert.Equal(t, items.StatusError, res.Item.Status)
	assert.Nil(t, res.Playlist)
}

func TestRetry(t *testing.T) {
	e := newTestEnv(t, Options{})
	svc, d := newTestService(t, e, 0)
	e.dl.err = assert.AnError

	res, err := svc.Stash(context.Background(), page, media.Auto, StashOptions{Wait: true})
	require.Error(t, err)
	require.Equal(t, items.StatusError, res.Item.Status)

	e.dl.err = nil
	retried, err := svc.Retry(context.Background(), res.Item.ID, true)
	require.NoError(t, err)
	assert.Equal(t, items.StatusReady, retried.Item.Status)
	assert.Equal(t, res.Item.ID, retried.Item.ID)
	assert.NoDirExists(t, res.Item.ErrorDir(e.mediaDir))

	require.NoError(t, e.store.Reset(res.Item.ID))
	_, err = svc.Retry(context.Background(), res.Item.ID, false)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Empty(t, d.ids)

	_, err = svc.Retry(context.Background(), "missing", false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetryLogsUnremovableErrorDir(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	prev := log
	log = logrus.NewEntry(logger)
	t.Cleanup(func() { log = prev })

	e := newTestEnv(t, Options{})
	svc, d := newTestService(t, e, 0)
	item := e.create(t, page, media.Auto)
	require.NoError(t, e.store.Transition(item.ID, items.StatusPrefetching, items.StatusError, map[string]interface{}{"error": "boom"}))
	// a plain file where the errors directory belongs
	require.NoError(t, os.WriteFile(filepath.Join(e.mediaDir, items.ErrorsDir), []byte("x"), 0o644))

	_, err := svc.Retry(context.Background(), item.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, d.ids)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "removing") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestResolveAlternatesRejectsPlainSources(t *testing.T) {
	e := newTestEnv(t, Options{})
	svc, _ := newTestService(t, e, 0)

	_, err := svc.ResolveAlternates(context.Background(), page)
	assert.Error(t, err)
}
