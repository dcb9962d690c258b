// Package process turns a raw download into the files served for an item:
// content, thumbnail and subtitles.
package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"stashcast/download"
	"stashcast/ffmpeg"
	"stashcast/media"
	"stashcast/runlog"
)

var log = logrus.NewEntry(logrus.StandardLogger())

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "process",
	})
	return nil
}

const (
	ContentBase   = "content"
	ThumbnailBase = "thumbnail"
	SubtitleFile  = "subtitles.vtt"
)

// Encoder is the transcoding and probing tool.
type Encoder interface {
	Encode(ctx context.Context, in, out string, opts []string, meta ffmpeg.Metadata) error
	Probe(ctx context.Context, path string) (*ffmpeg.Probe, error)
}

// NormalizationError is returned when a required format conversion failed.
// A plain copy is never an acceptable substitute.
type NormalizationError struct {
	Kind      media.Kind
	Extension string
	Err       error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalizing %s to %s failed: %v", e.Extension, e.Kind, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

type Config struct {
	// Args are the codec/container options used when normalizing each kind.
	Args map[media.Kind][]string
}

type Processor struct {
	enc Encoder
	cfg Config
}

func New(enc Encoder, cfg Config) *Processor {
	return &Processor{enc: enc, cfg: cfg}
}

type Input struct {
	Raw  *download.Result
	Kind media.Kind
	Dir  string

	Title       string
	Author      string
	Description string

	Log runlog.Logger
}

type Result struct {
	ContentPath   string
	Size          int64
	Extension     string
	MIMEType      string
	Transcoded    bool
	ThumbnailPath string
	SubtitlePath  string
	Duration      float64
	Tags          map[string]string
}

func (p *Processor) Process(ctx context.Context, in Input) (*Result, error) {
	rl := in.Log
	if rl == nil {
		rl = runlog.Discard
	}
	raw := in.Raw

	ext := media.OutputExtension(in.Kind, raw.Extension)
	out := filepath.Join(in.Dir, ContentBase+"."+ext)
	res := &Result{ContentPath: out, Extension: ext, MIMEType: media.MIMEType(ext)}

	meta := p.missingTags(ctx, raw.ContentPath, in)

	if media.NeedsNormalization(raw.Extension, in.Kind) {
		rl.Printf("Transcoding %s to %s (%s)", filepath.Base(raw.ContentPath), filepath.Base(out), in.Kind)
		if err := p.enc.Encode(ctx, raw.ContentPath, out, p.cfg.Args[in.Kind], meta); err != nil {
			rl.Printf("Transcoding failed: %v", err)
			return nil, &NormalizationError{Kind: in.Kind, Extension: raw.Extension, Err: err}
		}
		res.Transcoded = true
	} else if err := p.copyWithTags(ctx, raw.ContentPath, out, meta, rl); err != nil {
		return nil, err
	}
	if out != raw.ContentPath {
		os.Remove(raw.ContentPath)
	}

	fi, err := os.Stat(out)
	if err != nil {
		return nil, err
	}
	res.Size = fi.Size()
	rl.Printf("Content ready: %s (%d bytes)", filepath.Base(out), res.Size)

	res.Duration = raw.Duration
	res.Tags = raw.Tags
	if probe, err := p.enc.Probe(ctx, out); err != nil {
		rl.Printf("Could not probe %s: %v", filepath.Base(out), err)
	} else {
		if probe.Duration > 0 {
			res.Duration = probe.Duration
		}
		res.Tags = probe.Tags
	}

	if raw.ThumbnailPath != "" {
		res.ThumbnailPath = p.thumbnail(ctx, raw.ThumbnailPath, in.Dir, rl)
	}
	if raw.SubtitlePath != "" {
		res.SubtitlePath = p.subtitles(ctx, raw.SubtitlePath, in.Dir, rl)
	}
	return res, nil
}

// missingTags returns title, artist and comment for the fields the source
// file does not already carry.
func (p *Processor) missingTags(ctx context.Context, path string, in Input) ffmpeg.Metadata {
	existing := map[string]string{}
	if probe, err := p.enc.Probe(ctx, path); err == nil {
		existing = probe.Tags
	}
	meta := ffmpeg.Metadata{}
	add := func(key, val string) {
		if val != "" && existing[key] == "" {
			meta[key] = val
		}
	}
	add("title", in.Title)
	add("artist", in.Author)
	add("comment", in.Description)
	return meta
}

func (p *Processor) copyWithTags(ctx context.Context, in, out string, meta ffmpeg.Metadata, rl runlog.Logger) error {
	if len(meta) > 0 {
		rl.Printf("Adding metadata to %s", filepath.Base(in))
		err := p.enc.Encode(ctx, in, out, []string{"-c", "copy"}, meta)
		if err == nil {
			return nil
		}
		rl.Printf("Metadata copy failed, falling back to plain copy: %v", err)
	}
	if in == out {
		return nil
	}
	_, err := download.CopyFile(in, out)
	return err
}

// thumbnail converts to png. When conversion fails the original bytes are
// kept under their own extension.
func (p *Processor) thumbnail(ctx context.Context, src, dir string, rl runlog.Logger) string {
	out := filepath.Join(dir, ThumbnailBase+".png")
	rl.Printf("Converting thumbnail to PNG: %s", filepath.Base(src))
	err := p.enc.Encode(ctx, src, out, []string{"-frames:v", "1"}, nil)
	if err == nil {
		if src != out {
			os.Remove(src)
		}
		return out
	}
	rl.Printf("Thumbnail conversion failed: %v", err)

	fallback := filepath.Join(dir, ThumbnailBase+filepath.Ext(src))
	if _, err := download.CopyFile(src, fallback); err != nil {
		log.Warnf("copying thumbnail %s: %v", src, err)
		rl.Printf("Could not keep thumbnail: %v", err)
		return ""
	}
	if src != fallback {
		os.Remove(src)
	}
	return fallback
}

func (p *Processor) subtitles(ctx context.Context, src, dir string, rl runlog.Logger) string {
	out := filepath.Join(dir, SubtitleFile)
	if media.Ext(src) != "vtt" {
		rl.Printf("Converting subtitle to VTT: %s", filepath.Base(src))
		err := p.enc.Encode(ctx, src, out, nil, nil)
		if err == nil {
			os.Remove(src)
			return out
		}
		rl.Printf("Subtitle conversion failed, copying original: %v", err)
	} else {
		rl.Printf("Copying VTT subtitle: %s", filepath.Base(src))
	}
	if _, err := download.CopyFile(src, out); err != nil {
		log.Warnf("copying subtitles %s: %v", src, err)
		rl.Printf("Could not keep subtitles: %v", err)
		return ""
	}
	os.Remove(src)
	return out
}
