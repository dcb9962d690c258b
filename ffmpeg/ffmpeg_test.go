package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func script(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestParseProbe(t *testing.T) {
	p, err := parseProbe([]byte(`{
		"format": {"duration": "125.300000", "tags": {"TITLE": "Episode 4", "artist": "Host"}},
		"streams": [
			{"codec_type": "audio"},
			{"codec_type": "video", "disposition": {"attached_pic": 1}}
		]
	}`))
	require.NoError(t, err)
	assert.InDelta(t, 125.3, p.Duration, 0.001)
	assert.Equal(t, "Episode 4", p.Title())
	assert.Equal(t, "Host", p.Tags["artist"])
	assert.True(t, p.HasAudio)
	assert.False(t, p.HasVideo)
}

func TestMetadataArgs(t *testing.T) {
	m := Metadata{"title": "T", "artist": "", "comment": "c"}
	assert.Equal(t, []string{"-metadata", "comment=c", "-metadata", "title=T"}, m.args())
}

func TestEncodePassesArguments(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bin := script(t, "ffmpeg", `for a in "$@"; do echo "$a"; done > `+argsFile+`; eval "last=\${$#}"; : > "$last"`)
	r := New(bin, "", time.Minute)

	out := filepath.Join(dir, "out.m4a")
	err := r.Encode(context.Background(), "in.opus", out, []string{"-c:a", "aac"}, Metadata{"title": "Hi there"})
	require.NoError(t, err)
	assert.FileExists(t, out)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-map_metadata\n0\n-c:a\naac\n-metadata\ntitle=Hi there\n")
}

func TestEncodeFailureRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")
	bin := script(t, "ffmpeg", `: > "`+out+`"; echo "Invalid data found" >&2; exit 1`)
	r := New(bin, "", time.Minute)

	err := r.Encode(context.Background(), "in", out, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.NoFileExists(t, out)
}

func TestProbeTimeout(t *testing.T) {
	r := New("", script(t, "ffprobe", "exec sleep 5"), 100*time.Millisecond)
	_, err := r.Probe(context.Background(), "x")
	assert.ErrorIs(t, err, ErrTimeout)
}
