package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	localMP4 := filepath.Join(dir, "clip.mp4")
	localHTML := filepath.Join(dir, "page.HTML")
	require.NoError(t, os.WriteFile(localMP4, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(localHTML, []byte("<html></html>"), 0o644))

	r := NewResolver([]string{"spotify.com"})
	cases := []struct {
		input string
		want  Strategy
	}{
		{"https://example.com/audio.mp3", DirectMedia},
		{"https://example.com/AUDIO.M4A?token=1", DirectMedia},
		{"https://example.com/page.html", GenericExtraction},
		{localMP4, LocalFile},
		{"file://" + localMP4, LocalFile},
		{localHTML, GenericExtraction},
		{"https://open.spotify.com/episode/abc123", DRMRedirect},
		{"https://spotify.com/show/abc", DRMRedirect},
		{"https://notspotify.com/episode/abc", GenericExtraction},
		{"https://www.youtube.com/watch?v=abc", GenericExtraction},
		{"https://example.com/podcasts/episode-12", GenericExtraction},
	}
	for _, c := range cases {
		t.Run(c.input, func(t *testing.T) {
			assert.Equal(t, c.want, r.Resolve(c.input))
		})
	}
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "local-file", LocalFile.String())
	assert.Equal(t, "direct-media", DirectMedia.String())
	assert.Equal(t, "drm-redirect", DRMRedirect.String())
	assert.Equal(t, "generic-extraction", GenericExtraction.String())
}
