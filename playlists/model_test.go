package playlists

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stashcast/database"
	"stashcast/items"
	"stashcast/media"
)

func TestSummarize(t *testing.T) {
	assert.Equal(t, StatusCompleted, Summarize([]items.Status{items.StatusReady, items.StatusReady}))
	assert.Equal(t, StatusDownloading, Summarize([]items.Status{items.StatusReady, items.StatusDownloading, items.StatusError}))
	assert.Equal(t, StatusFailed, Summarize([]items.Status{items.StatusReady, items.StatusError}))
}

func TestRefresh(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), &items.Item{}, &Playlist{})
	require.NoError(t, err)
	store := items.NewStore(db)

	p, err := Create(db, "https://example.com/list", "Season 1", media.Auto, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusDownloading, p.Status)

	for _, src := range []string{"https://example.com/1", "https://example.com/2"} {
		require.NoError(t, store.Create(&items.Item{SourceRef: src, PlaylistID: p.ID}))
	}
	members, err := store.ListByPlaylist(p.ID)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, store.Transition(m.ID, items.StatusPrefetching, items.StatusError, nil))
	}

	got, listed, err := Refresh(db, store, p.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	assert.Equal(t, StatusFailed, got.Status)

	stored, err := Get(db, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)

	_, err = Get(db, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
