// Package prefetch gathers title, author and stream information for an input
// without downloading its payload.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"stashcast/media"
	"stashcast/runlog"
	"stashcast/strategy"
	"stashcast/ytdlp"
)

var log = logrus.NewEntry(logrus.StandardLogger())

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "prefetch",
	})
	return nil
}

const userAgent = "Mozilla/5.0 (compatible; stashcast)"

// Extractor is the metadata side of the extraction tool.
type Extractor interface {
	Metadata(ctx context.Context, url string) (*ytdlp.Info, error)
}

type Result struct {
	Title       string
	Author      string
	Description string
	Duration    float64
	Streams     media.Streams
	WebpageURL  string
	Extractor   string
	ExternalID  string
	Thumbnail   string
	Extension   string

	// ExtractedMediaURL is set when page scraping found a raw media link;
	// for local pages it is a filesystem path.
	ExtractedMediaURL string
}

type Entry struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// MultipleItemsError means the input is a collection. Callers must opt in
// to bulk processing.
type MultipleItemsError struct {
	PlaylistTitle string
	Entries       []Entry
}

func (e *MultipleItemsError) Error() string {
	return fmt.Sprintf("%d items found in %q; bulk processing must be allowed explicitly", len(e.Entries), e.PlaylistTitle)
}

func (e *MultipleItemsError) Count() int {
	return len(e.Entries)
}

// Error is returned once every metadata path has failed.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("prefetch failed for %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Prefetcher struct {
	extractor Extractor
	client    *http.Client
}

func New(extractor Extractor, client *http.Client) *Prefetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Prefetcher{extractor: extractor, client: client}
}

func (p *Prefetcher) Prefetch(ctx context.Context, input string, s strategy.Strategy, rl runlog.Logger) (*Result, error) {
	if rl == nil {
		rl = runlog.Discard
	}
	switch s {
	case strategy.LocalFile:
		return prefetchLocal(input, rl), nil
	case strategy.DirectMedia:
		return prefetchDirect(input, rl), nil
	case strategy.GenericExtraction:
		return p.prefetchGeneric(ctx, input, rl)
	case strategy.DRMRedirect:
		return nil, &Error{Source: input, Err: errors.New("drm-redirect sources must be resolved to an alternate first")}
	}
	return nil, &Error{Source: input, Err: fmt.Errorf("unhandled strategy %v", s)}
}

func stem(name string) string {
	base := path.Base(filepath.ToSlash(name))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func prefetchLocal(input string, rl runlog.Logger) *Result {
	p := input
	if lp, ok := strategy.LocalPath(input); ok {
		p = lp
	}
	ext := media.Ext(p)
	title := stem(p)
	if title == "" {
		title = "local-media"
	}
	rl.Printf("Local file detected: %s", p)
	rl.Printf("Filename: %s", title)
	rl.Printf("Extension: %s", ext)
	return &Result{Title: title, Extension: ext, Streams: media.StreamsFromExtension(ext)}
}

func prefetchDirect(input string, rl runlog.Logger) *Result {
	var urlPath string
	if u, err := url.Parse(input); err == nil {
		urlPath = u.Path
	}
	ext := media.Ext(path.Ext(urlPath))
	title := stem(urlPath)
	if unescaped, err := url.PathUnescape(title); err == nil {
		title = unescaped
	}
	if title == "" {
		title = "downloaded-media"
	}
	rl.Printf("Direct URL detected: %s", input)
	rl.Printf("Filename: %s", title)
	rl.Printf("Extension: %s", ext)
	return &Result{Title: title, Extension: ext, Streams: media.StreamsFromExtension(ext), WebpageURL: input}
}

func isHTMLPage(input string) bool {
	p := input
	if u, err := url.Parse(input); err == nil && u.Scheme != "" {
		p = u.Path
	}
	switch media.Ext(path.Ext(p)) {
	case "html", "htm":
		return true
	}
	return false
}

func (p *Prefetcher) prefetchGeneric(ctx context.Context, input string, rl runlog.Logger) (*Result, error) {
	if isHTMLPage(input) {
		rl.Printf("Detected HTML page, trying HTML extraction first...")
		res, err := p.scrape(ctx, input, rl)
		if err == nil {
			return res, nil
		}
		rl.Printf("HTML extraction found nothing: %v", err)
	}

	info, err := p.extractor.Metadata(ctx, input)
	if err == nil {
		if info.IsPlaylist() {
			return nil, multipleItems(info)
		}
		if info.Title != "" || len(info.Formats) > 0 {
			return fromInfo(input, info, rl), nil
		}
		err = errors.New("extractor returned no metadata")
	}
	if ctx.Err() != nil {
		return nil, &Error{Source: input, Err: ctx.Err()}
	}

	rl.Printf("yt-dlp failed: %v, trying HTML extraction", err)
	res, herr := p.scrape(ctx, input, rl)
	if herr != nil {
		return nil, &Error{Source: input, Err: fmt.Errorf("%v; html extraction: %w", err, herr)}
	}
	return res, nil
}

func multipleItems(info *ytdlp.Info) *MultipleItemsError {
	e := &MultipleItemsError{PlaylistTitle: info.Title}
	for _, entry := range info.Entries {
		e.Entries = append(e.Entries, Entry{URL: entry.Link(), Title: entry.Title})
	}
	return e
}

func fromInfo(input string, info *ytdlp.Info, rl runlog.Logger) *Result {
	res := &Result{
		Title:       info.Title,
		Author:      info.Author(),
		Description: info.Description,
		Duration:    info.Duration,
		Streams:     info.Streams(),
		WebpageURL:  info.WebpageURL,
		Extractor:   info.Extractor,
		ExternalID:  info.ID,
		Thumbnail:   info.Thumbnail,
		Extension:   info.Ext,
	}
	if res.WebpageURL == "" {
		res.WebpageURL = input
	}
	rl.Printf("yt-dlp metadata extracted: %s", res.Title)
	rl.Printf("Extractor: %s", res.Extractor)
	rl.Printf("Has video: %t, Has audio: %t", res.Streams.HasVideo, res.Streams.HasAudio)
	return res
}

func (p *Prefetcher) scrape(ctx context.Context, input string, rl runlog.Logger) (*Result, error) {
	page, base, err := fetchPage(ctx, p.client, input)
	if err != nil {
		return nil, err
	}
	emb, err := ScrapeEmbedded(page, base)
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, errors.New("no embedded media found in HTML")
	}
	rl.Printf("Found %s source: %s", emb.Kind, emb.MediaURL)

	mediaRef, ext := emb.MediaURL, ""
	if u, err := url.Parse(emb.MediaURL); err == nil {
		ext = media.Ext(path.Ext(u.Path))
		if u.Scheme == "file" {
			mediaRef = filepath.FromSlash(u.Path)
		}
	}
	return &Result{
		Title:             emb.Title,
		WebpageURL:        emb.PageURL,
		ExtractedMediaURL: mediaRef,
		Extension:         ext,
		Streams: media.Streams{
			HasAudio: emb.Kind == media.Audio,
			HasVideo: emb.Kind == media.Video,
		},
	}, nil
}
