package download

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/net/html"

	"stashcast/media"
	"stashcast/runlog"
)

// errSkip marks an attempt that does not apply to the source.
var errSkip = errors.New("not applicable")

type attempt struct {
	name string
	run  func(ctx context.Context) (*Result, error)
}

// firstOf runs attempts in order and returns the first success. Attempts
// that return errSkip do not count as failures.
func firstOf(ctx context.Context, rl runlog.Logger, attempts ...attempt) (*Result, error) {
	var errs []error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := a.run(ctx)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, errSkip) {
			continue
		}
		rl.Printf("%s failed: %v", a.name, err)
		log.WithField("attempt", a.name).Debugf("download attempt failed: %v", err)
		errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
	}
	if len(errs) == 0 {
		return nil, errors.New("no download method applies")
	}
	return nil, errors.Join(errs...)
}

const applePodcastsHost = "podcasts.apple.com"

var streamURLPattern = regexp.MustCompile(`"streamUrl"\s*:\s*("(?:[^"\\]|\\.)*")`)

// applePodcasts pulls the episode stream and cover art straight from an
// Apple Podcasts page when the extractor could not handle it.
func (d *Downloader) applePodcasts(ctx context.Context, source string, opts Options) (*Result, error) {
	if !isHost(source, applePodcastsHost) {
		return nil, errSkip
	}
	opts.Log.Printf("Trying Apple Podcasts page fallback")

	page, err := d.page(ctx, source)
	if err != nil {
		return nil, err
	}
	stream, cover, err := parseApplePage(page)
	if err != nil {
		return nil, err
	}
	opts.Log.Printf("Found stream URL: %s", stream)

	ext := urlExt(stream)
	if ext == "" {
		ext = "mp3"
	}
	dst := filepath.Join(opts.Dir, rawFile(ext))
	size, contentType, err := d.fetch(ctx, stream, dst, opts.Progress)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = media.MIMEType(ext)
	}
	res := &Result{ContentPath: dst, Size: size, Extension: ext, MIMEType: contentType}

	if cover != "" {
		thumbExt := urlExt(cover)
		if !media.IsThumbnail("x." + thumbExt) {
			thumbExt = "jpg"
		}
		thumb := filepath.Join(opts.Dir, rawFile(thumbExt))
		if _, _, err := d.fetch(ctx, cover, thumb, func(float64) {}); err != nil {
			opts.Log.Printf("Could not download cover art: %v", err)
			os.Remove(thumb)
		} else {
			res.ThumbnailPath = thumb
		}
	}
	d.probe(ctx, res, opts.Log)
	return res, nil
}

func (d *Downloader) page(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

func parseApplePage(page []byte) (stream, cover string, err error) {
	m := streamURLPattern.FindSubmatch(page)
	if m == nil {
		return "", "", errors.New("no stream URL on page")
	}
	if err := json.Unmarshal(m[1], &stream); err != nil {
		return "", "", fmt.Errorf("bad stream URL: %w", err)
	}
	if stream == "" {
		return "", "", errors.New("empty stream URL on page")
	}
	return stream, ogImage(page), nil
}

func ogImage(page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	var found string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var prop, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "property":
					prop = a.Val
				case "content":
					content = a.Val
				}
			}
			if prop == "og:image" && content != "" {
				found = content
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}
