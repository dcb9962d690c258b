package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Ffprobe runs ffprobe with the provided args and returns (stdout, stderr, error)
func (r *Runner) Ffprobe(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return r.run(ctx, r.FFprobe, args...)
}

type Probe struct {
	Duration float64
	Tags     map[string]string
	HasVideo bool
	HasAudio bool
}

// Title returns the embedded title tag, if any.
func (p *Probe) Title() string {
	return p.Tags["title"]
}

type probeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		// attached cover art shows up as a video stream
		Disposition struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
}

func parseProbe(data []byte) (*Probe, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding ffprobe json: %w", err)
	}
	p := &Probe{Tags: map[string]string{}}
	if out.Format.Duration != "" {
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			p.Duration = d
		}
	}
	for k, v := range out.Format.Tags {
		p.Tags[strings.ToLower(k)] = v
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if s.Disposition.AttachedPic == 0 {
				p.HasVideo = true
			}
		case "audio":
			p.HasAudio = true
		}
	}
	return p, nil
}

// Probe reads duration, container tags and stream kinds of path.
func (r *Runner) Probe(ctx context.Context, path string) (*Probe, error) {
	stdout, _, err := r.Ffprobe(ctx, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return nil, err
	}
	return parseProbe(stdout)
}
