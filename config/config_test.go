package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stashcast/config"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 6, cfg.SlugMaxWords)
		assert.Equal(t, 40, cfg.SlugMaxChars)
		assert.Equal(t, 0, cfg.MaxEpisodes)
		assert.Equal(t, 3, cfg.SummarySentences)
		assert.Equal(t, 30*time.Second, cfg.WorkerTimeout)
		assert.Equal(t, time.Hour, cfg.ToolTimeout)
		assert.Equal(t, int64(500*1024*1024), cfg.MinFreeDisk)
		assert.Equal(t, int64(0), cfg.MaxDownloadSize)
		assert.Equal(t, "yt-dlp", cfg.YtdlpBin)
		assert.True(t, cfg.AutoSelect)
		assert.Equal(t, []string{"spotify.com"}, cfg.DRMHostList())
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("STASHCAST_PORT", "9999")
		t.Setenv("STASHCAST_MAX_EPISODES", "3")
		t.Setenv("STASHCAST_TOOL_TIMEOUT", "90s")
		t.Setenv("STASHCAST_MAX_DOWNLOAD_SIZE", "50MB")
		t.Setenv("STASHCAST_DRM_HOSTS", "spotify.com, Deezer.com")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 3, cfg.MaxEpisodes)
		assert.Equal(t, 90*time.Second, cfg.ToolTimeout)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxDownloadSize)
		assert.Equal(t, []string{"spotify.com", "deezer.com"}, cfg.DRMHostList())
	})

	t.Run("reads stashcast.yaml", func(t *testing.T) {
		dir := t.TempDir()
		chdir(t, dir)
		yaml := "MEDIA_DIR: /srv/media\nSLUG_MAX_CHARS: 20\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "stashcast.yaml"), []byte(yaml), 0o644))

		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Equal(t, "/srv/media", cfg.MediaDir)
		assert.Equal(t, 20, cfg.SlugMaxChars)
	})

	t.Run("rejects unbalanced tool arguments", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("STASHCAST_FFMPEG_ARGS_AUDIO", `-metadata "title`)

		_, err := config.Load()
		assert.Error(t, err)
	})
}

func TestArgs(t *testing.T) {
	assert.Equal(t, []string{"-f", "best audio"}, config.Args(`-f "best audio"`))
	assert.Empty(t, config.Args(""))
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
