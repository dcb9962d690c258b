package media

import (
	"path/filepath"
	"strings"
)

type extSet map[string]struct{}

func newExtSet(exts ...string) extSet {
	s := make(extSet, len(exts))
	for _, e := range exts {
		s[e] = struct{}{}
	}
	return s
}

func (s extSet) has(ext string) bool {
	_, ok := s[Ext(ext)]
	return ok
}

var (
	mediaExts     = newExtSet("mp3", "m4a", "mp4", "webm", "ogg", "wav", "aac", "flac", "opus", "mkv", "avi", "mov")
	audioExts     = newExtSet("mp3", "m4a", "ogg", "wav", "aac", "flac", "opus")
	videoExts     = newExtSet("mp4", "webm", "mkv", "avi", "mov")
	contentExts   = newExtSet("mp4", "mkv", "webm", "mp3", "m4a", "ogg", "opus")
	thumbnailExts = newExtSet("jpg", "jpeg", "png", "webp")
	subtitleExts  = newExtSet("vtt", "srt")

	acceptedAudio = newExtSet("mp3", "m4a")
	acceptedVideo = newExtSet("mp4")
)

// Ext normalizes an extension or a file name to a bare lowercase extension.
func Ext(s string) string {
	if e := filepath.Ext(s); e != "" {
		s = e
	}
	return strings.ToLower(strings.TrimPrefix(s, "."))
}

func IsMedia(ext string) bool     { return mediaExts.has(ext) }
func IsAudio(ext string) bool     { return audioExts.has(ext) }
func IsVideo(ext string) bool     { return videoExts.has(ext) }
func IsContent(ext string) bool   { return contentExts.has(ext) }
func IsThumbnail(ext string) bool { return thumbnailExts.has(ext) }
func IsSubtitle(ext string) bool  { return subtitleExts.has(ext) }

// StreamsFromExtension guesses capabilities from an extension alone.
// Anything that is not a known audio container is taken as video with audio.
func StreamsFromExtension(ext string) Streams {
	if IsAudio(ext) {
		return Streams{HasAudio: true}
	}
	return Streams{HasVideo: true, HasAudio: true}
}

// NeedsNormalization is false only for mp3/m4a audio and mp4 video.
func NeedsNormalization(ext string, kind Kind) bool {
	switch kind {
	case Audio:
		return !acceptedAudio.has(ext)
	case Video:
		return !acceptedVideo.has(ext)
	}
	return true
}

// OutputExtension is the extension of the processed content file.
func OutputExtension(kind Kind, ext string) string {
	if !NeedsNormalization(ext, kind) {
		return Ext(ext)
	}
	if kind == Audio {
		return "m4a"
	}
	return "mp4"
}

var mimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
	"mov":  "video/quicktime",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"vtt":  "text/vtt",
	"srt":  "application/x-subrip",
}

func MIMEType(ext string) string {
	if m, ok := mimeTypes[Ext(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}
