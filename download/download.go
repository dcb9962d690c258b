// Package download retrieves the raw payload of an item into its working
// directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"stashcast/ffmpeg"
	"stashcast/media"
	"stashcast/runlog"
	"stashcast/strategy"
	"stashcast/ytdlp"
)

var log = logrus.NewEntry(logrus.StandardLogger())

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "download",
	})
	return nil
}

// RawName is the base name of every raw payload in a working directory.
const RawName = "download"

const userAgent = "Mozilla/5.0 (compatible; stashcast)"

const chunkSize = 32 * 1024

type Result struct {
	ContentPath   string
	Size          int64
	Extension     string
	MIMEType      string
	ThumbnailPath string
	SubtitlePath  string
	Duration      float64
	Tags          map[string]string
}

// Error is returned once every way of fetching a source has failed.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download failed for %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fetcher is the download side of the extraction tool.
type Fetcher interface {
	Download(ctx context.Context, opts ytdlp.DownloadOptions) error
}

// Prober reads duration and tags from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.Probe, error)
}

// ErrStalled is returned when a transfer receives nothing for the idle timeout.
var ErrStalled = errors.New("transfer stalled")

type Config struct {
	MaxSize   int64
	SubLang   string
	ExtraArgs map[media.Kind][]string
	// IdleTimeout aborts an HTTP transfer that waits this long for headers
	// or for the next chunk of the body. Zero disables it.
	IdleTimeout time.Duration
}

// NewClient returns an HTTP client for media transfers. Connecting, the TLS
// handshake and waiting for response headers are each bounded by timeout;
// the body itself may take as long as it keeps flowing.
func NewClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
			MaxIdleConns:          10,
		},
	}
}

type Downloader struct {
	fetcher Fetcher
	prober  Prober
	client  *http.Client
	cfg     Config
}

func New(fetcher Fetcher, prober Prober, client *http.Client, cfg Config) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{fetcher: fetcher, prober: prober, client: client, cfg: cfg}
}

type Options struct {
	Dir      string
	Kind     media.Kind
	Progress func(percent float64)
	Log      runlog.Logger
}

func (d *Downloader) Download(ctx context.Context, source string, s strategy.Strategy, opts Options) (*Result, error) {
	if opts.Log == nil {
		opts.Log = runlog.Discard
	}
	if opts.Progress == nil {
		opts.Progress = func(float64) {}
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, &Error{Source: source, Err: err}
	}

	var attempts []attempt
	switch s {
	case strategy.LocalFile:
		attempts = []attempt{{"copy", func(ctx context.Context) (*Result, error) { return d.copyLocal(source, opts) }}}
	case strategy.DirectMedia:
		attempts = []attempt{{"http", func(ctx context.Context) (*Result, error) { return d.direct(ctx, source, opts) }}}
	case strategy.GenericExtraction:
		attempts = []attempt{
			{"yt-dlp", func(ctx context.Context) (*Result, error) { return d.extract(ctx, source, opts) }},
			{"apple-podcasts-page", func(ctx context.Context) (*Result, error) { return d.applePodcasts(ctx, source, opts) }},
		}
	case strategy.DRMRedirect:
		return nil, &Error{Source: source, Err: errors.New("drm-redirect sources must be resolved to an alternate first")}
	}

	res, err := firstOf(ctx, opts.Log, attempts...)
	if err != nil {
		return nil, &Error{Source: source, Err: err}
	}
	return res, nil
}

func (d *Downloader) copyLocal(source string, opts Options) (*Result, error) {
	src := source
	if p, ok := strategy.LocalPath(source); ok {
		src = p
	}
	ext := media.Ext(src)
	dst := filepath.Join(opts.Dir, rawFile(ext))
	opts.Log.Printf("Copying from: %s", src)
	opts.Log.Printf("Saving to: %s", dst)

	size, err := copyFile(src, dst)
	if err != nil {
		return nil, err
	}
	opts.Log.Printf("Copied %d bytes", size)
	opts.Progress(100)
	return &Result{ContentPath: dst, Size: size, Extension: ext, MIMEType: media.MIMEType(ext)}, nil
}

func (d *Downloader) direct(ctx context.Context, source string, opts Options) (*Result, error) {
	ext := urlExt(source)
	dst := filepath.Join(opts.Dir, rawFile(ext))
	opts.Log.Printf("Downloading from: %s", source)
	opts.Log.Printf("Saving to: %s", dst)

	size, contentType, err := d.fetch(ctx, source, dst, opts.Progress)
	if err != nil {
		return nil, err
	}
	opts.Log.Printf("Downloaded %d bytes", size)
	if contentType == "" {
		contentType = media.MIMEType(ext)
	}
	res := &Result{ContentPath: dst, Size: size, Extension: ext, MIMEType: contentType}
	d.probe(ctx, res, opts.Log)
	return res, nil
}

func (d *Downloader) extract(ctx context.Context, source string, opts Options) (*Result, error) {
	opts.Log.Printf("Downloading with yt-dlp: %s", source)
	err := d.fetcher.Download(ctx, ytdlp.DownloadOptions{
		URL:       source,
		Dir:       opts.Dir,
		SubLang:   d.cfg.SubLang,
		ExtraArgs: d.cfg.ExtraArgs[opts.Kind],
		Progress:  opts.Progress,
	})
	if err != nil {
		return nil, err
	}
	res, err := collect(opts.Dir, opts.Log)
	if err != nil {
		return nil, err
	}
	res.MIMEType = media.MIMEType(res.Extension)
	return res, nil
}

// collect picks the payload yt-dlp left behind: the largest content file,
// since fragments and partial files may sit next to it, plus the first
// thumbnail and subtitle.
func collect(dir string, rl runlog.Logger) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	rl.Printf("yt-dlp created %d files", len(names))

	res := &Result{}
	for _, name := range names {
		p := filepath.Join(dir, name)
		switch {
		case media.IsContent(name):
			fi, err := os.Stat(p)
			if err != nil {
				continue
			}
			if res.ContentPath == "" || fi.Size() > res.Size {
				res.ContentPath = p
				res.Size = fi.Size()
				res.Extension = media.Ext(name)
			}
		case media.IsThumbnail(name) && res.ThumbnailPath == "":
			res.ThumbnailPath = p
		case media.IsSubtitle(name) && res.SubtitlePath == "":
			res.SubtitlePath = p
		}
	}
	if res.ContentPath == "" {
		return nil, errors.New("no media file found after yt-dlp download")
	}
	rl.Printf("Main content file: %s (%d bytes)", filepath.Base(res.ContentPath), res.Size)
	if res.ThumbnailPath != "" {
		rl.Printf("Thumbnail found: %s", filepath.Base(res.ThumbnailPath))
	}
	if res.SubtitlePath != "" {
		rl.Printf("Subtitles found: %s", filepath.Base(res.SubtitlePath))
	}
	return res, nil
}

func (d *Downloader) probe(ctx context.Context, res *Result, rl runlog.Logger) {
	if d.prober == nil {
		return
	}
	p, err := d.prober.Probe(ctx, res.ContentPath)
	if err != nil {
		rl.Printf("Could not probe %s: %v", filepath.Base(res.ContentPath), err)
		return
	}
	res.Duration = p.Duration
	res.Tags = p.Tags
}

// fetch streams url into dst in fixed-size chunks.
func (d *Downloader) fetch(ctx context.Context, rawURL, dst string, progress func(float64)) (n int64, contentType string, err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	touch := func() {}
	if idle := d.cfg.IdleTimeout; idle > 0 {
		stall := time.AfterFunc(idle, func() { cancel(ErrStalled) })
		defer stall.Stop()
		touch = func() { stall.Reset(idle) }
	}
	defer func() {
		if err != nil && errors.Is(context.Cause(ctx), ErrStalled) {
			err = fmt.Errorf("GET %s: %w after %s", rawURL, ErrStalled, d.cfg.IdleTimeout)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, "", fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	if d.cfg.MaxSize > 0 && resp.ContentLength > d.cfg.MaxSize {
		return 0, "", fmt.Errorf("%s is %d bytes, over the %d byte limit", rawURL, resp.ContentLength, d.cfg.MaxSize)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	var body io.Reader = resp.Body
	if d.cfg.MaxSize > 0 {
		body = io.LimitReader(resp.Body, d.cfg.MaxSize+1)
	}
	body = &progressReader{r: body, total: resp.ContentLength, report: progress, touch: touch}

	n, err = io.CopyBuffer(f, body, make([]byte, chunkSize))
	if err != nil {
		return n, "", err
	}
	if d.cfg.MaxSize > 0 && n > d.cfg.MaxSize {
		return n, "", fmt.Errorf("%s exceeds the %d byte limit", rawURL, d.cfg.MaxSize)
	}
	if err := f.Close(); err != nil {
		return n, "", err
	}
	progress(100)
	return n, resp.Header.Get("Content-Type"), nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(float64)
	touch  func()
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.touch != nil {
		p.touch()
	}
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct != p.last {
			p.last = pct
			p.report(float64(pct))
		}
	}
	return n, err
}

func rawFile(ext string) string {
	if ext == "" {
		return RawName
	}
	return RawName + "." + ext
}

func urlExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return media.Ext(path.Ext(u.Path))
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.CopyBuffer(out, in, make([]byte, chunkSize))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// CopyFile copies src to dst, returning the bytes written.
func CopyFile(src, dst string) (int64, error) {
	return copyFile(src, dst)
}

func isHost(rawURL string, host string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	h := strings.ToLower(u.Hostname())
	return h == host || strings.HasSuffix(h, "."+host)
}
