package media

import "strings"

// Kind is a resolved media type. The empty Kind means "not yet known".
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

func (k Kind) Valid() bool {
	return k == Audio || k == Video
}

// Requested is what the caller asked for; anything unrecognized is Auto.
type Requested string

const (
	Auto           Requested = "auto"
	RequestedAudio Requested = "audio"
	RequestedVideo Requested = "video"
)

func ParseRequested(s string) Requested {
	switch Requested(strings.ToLower(strings.TrimSpace(s))) {
	case RequestedAudio:
		return RequestedAudio
	case RequestedVideo:
		return RequestedVideo
	default:
		return Auto
	}
}

// Streams describes what a source is known to carry.
type Streams struct {
	HasVideo bool
	HasAudio bool
}

// ResolveKind picks the final kind. An explicit request always wins; with
// auto, video beats audio and nothing detected falls back to video.
func ResolveKind(requested Requested, s Streams) Kind {
	switch ParseRequested(string(requested)) {
	case RequestedAudio:
		return Audio
	case RequestedVideo:
		return Video
	}
	if s.HasVideo {
		return Video
	}
	if s.HasAudio {
		return Audio
	}
	return Video
}

// Ambiguous reports whether ResolveKind would fall back to its default.
func Ambiguous(requested Requested, s Streams) bool {
	return ParseRequested(string(requested)) == Auto && !s.HasVideo && !s.HasAudio
}
