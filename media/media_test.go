package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsNormalization(t *testing.T) {
	all := []string{"mp3", "m4a", "mp4", "webm", "ogg", "wav", "aac", "flac", "opus", "mkv", "avi", "mov"}
	for _, ext := range all {
		for _, e := range []string{ext, strings.ToUpper(ext), "." + ext} {
			assert.Equal(t, !(ext == "mp3" || ext == "m4a"), NeedsNormalization(e, Audio), "audio %s", e)
			assert.Equal(t, ext != "mp4", NeedsNormalization(e, Video), "video %s", e)
		}
	}
}

func TestOutputExtension(t *testing.T) {
	assert.Equal(t, "mp3", OutputExtension(Audio, "mp3"))
	assert.Equal(t, "m4a", OutputExtension(Audio, "M4A"))
	assert.Equal(t, "m4a", OutputExtension(Audio, "opus"))
	assert.Equal(t, "mp4", OutputExtension(Video, "webm"))
	assert.Equal(t, "mp4", OutputExtension(Video, "mp4"))
}

func TestResolveKind(t *testing.T) {
	both := Streams{HasVideo: true, HasAudio: true}
	cases := []struct {
		name      string
		requested Requested
		streams   Streams
		want      Kind
	}{
		{"explicit audio beats detection", RequestedAudio, both, Audio},
		{"explicit video", RequestedVideo, Streams{HasAudio: true}, Video},
		{"auto with video", Auto, both, Video},
		{"auto audio only", Auto, Streams{HasAudio: true}, Audio},
		{"auto nothing detected", Auto, Streams{}, Video},
		{"unknown request is auto", Requested("podcast"), Streams{HasAudio: true}, Audio},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ResolveKind(c.requested, c.streams))
		})
	}
	assert.True(t, Ambiguous(Auto, Streams{}))
	assert.False(t, Ambiguous(RequestedAudio, Streams{}))
}

func TestStreamsFromExtension(t *testing.T) {
	assert.Equal(t, Streams{HasAudio: true}, StreamsFromExtension("episode.mp3"))
	assert.Equal(t, Streams{HasVideo: true, HasAudio: true}, StreamsFromExtension("mkv"))
	assert.Equal(t, Streams{HasVideo: true, HasAudio: true}, StreamsFromExtension("bin"))
}

func TestMIMEType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", MIMEType("x.mp3"))
	assert.Equal(t, "video/mp4", MIMEType("mp4"))
	assert.Equal(t, "application/octet-stream", MIMEType("bin"))
}
