package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"stashcast/media"
	"stashcast/strategy"
)

// maxPageSize bounds how much of a page is read for scraping.
const maxPageSize = 8 << 20

// Embedded is a media reference found in a page.
type Embedded struct {
	MediaURL string
	Kind     media.Kind
	Title    string
	PageURL  string
}

// fetchPage loads an http(s) page or a local/file:// document and returns its
// body together with the URL relative links resolve against.
func fetchPage(ctx context.Context, client *http.Client, ref string) ([]byte, *url.URL, error) {
	if path, ok := strategy.LocalPath(ref); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, nil, err
		}
		return data, &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
	}

	base, err := url.Parse(ref)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("GET %s: %s", ref, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, nil, err
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	return data, base, nil
}

// ScrapeEmbedded finds the first playable media in a page, preferring
// <audio src>, then <video src>, then <source> inside <audio>, then inside
// <video>.
func ScrapeEmbedded(page []byte, base *url.URL) (*Embedded, error) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil, err
	}

	var title, audioSrc, videoSrc, audioSourceSrc, videoSourceSrc string
	var walk func(n *html.Node, inAudio, inVideo bool)
	walk = func(n *html.Node, inAudio, inVideo bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "base":
				if href := attr(n, "href"); href != "" {
					if u, err := base.Parse(href); err == nil {
						base = u
					}
				}
			case "audio":
				if src := attr(n, "src"); src != "" && audioSrc == "" {
					audioSrc = src
				}
				inAudio = true
			case "video":
				if src := attr(n, "src"); src != "" && videoSrc == "" {
					videoSrc = src
				}
				inVideo = true
			case "source":
				src := attr(n, "src")
				if src != "" && inAudio && audioSourceSrc == "" {
					audioSourceSrc = src
				}
				if src != "" && inVideo && videoSourceSrc == "" {
					videoSourceSrc = src
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inAudio, inVideo)
		}
	}
	walk(doc, false, false)

	if title == "" {
		title = "content"
	}
	found := func(src string, kind media.Kind) (*Embedded, error) {
		u, err := base.Parse(strings.TrimSpace(src))
		if err != nil {
			return nil, fmt.Errorf("bad media src %q: %w", src, err)
		}
		return &Embedded{MediaURL: u.String(), Kind: kind, Title: title, PageURL: base.String()}, nil
	}
	switch {
	case audioSrc != "":
		return found(audioSrc, media.Audio)
	case videoSrc != "":
		return found(videoSrc, media.Video)
	case audioSourceSrc != "":
		return found(audioSourceSrc, media.Audio)
	case videoSourceSrc != "":
		return found(videoSourceSrc, media.Video)
	}
	return nil, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
