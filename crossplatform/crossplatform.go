// Package crossplatform finds freely downloadable equivalents of DRM-protected
// sources by searching several public catalogs.
package crossplatform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"stashcast/runlog"
)

var log = logrus.NewEntry(logrus.StandardLogger())

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "crossplatform",
	})
	return nil
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

type ContentType string

const (
	Episode ContentType = "episode"
	Show    ContentType = "show"
	Track   ContentType = "track"
	Album   ContentType = "album"
	Unknown ContentType = "unknown"
)

var typePatterns = []struct {
	kind ContentType
	re   *regexp.Regexp
}{
	{Episode, regexp.MustCompile(`https?://open\.spotify\.com/episode/([a-zA-Z0-9]+)`)},
	{Show, regexp.MustCompile(`https?://open\.spotify\.com/show/([a-zA-Z0-9]+)`)},
	{Track, regexp.MustCompile(`https?://open\.spotify\.com/track/([a-zA-Z0-9]+)`)},
	{Album, regexp.MustCompile(`https?://open\.spotify\.com/album/([a-zA-Z0-9]+)`)},
}

// Classify returns the content type and id encoded in a source URL.
func Classify(source string) (ContentType, string) {
	for _, p := range typePatterns {
		if m := p.re.FindStringSubmatch(source); m != nil {
			return p.kind, m[1]
		}
	}
	return Unknown, ""
}

type Metadata struct {
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Author       string      `json:"author,omitempty"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
	SourceURL    string      `json:"source_url"`
	Type         ContentType `json:"type"`
	ID           string      `json:"id,omitempty"`
}

type Candidate struct {
	Catalog  string  `json:"catalog"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Channel  string  `json:"channel,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type Resolution struct {
	Metadata   Metadata    `json:"metadata"`
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
	Default    *Candidate  `json:"default,omitempty"`
}

// Catalog is one searchable source of alternates.
type Catalog interface {
	Name() string
	Accepts(ContentType) bool
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

var nonQueryChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
var spaces = regexp.MustCompile(`\s+`)

// BuildQuery joins title and author, adds a "podcast" hint for episodes whose
// title lacks it, and strips punctuation.
func BuildQuery(m Metadata) string {
	var parts []string
	if m.Title != "" {
		parts = append(parts, m.Title)
	}
	if m.Author != "" {
		parts = append(parts, m.Author)
	}
	if m.Type == Episode && !strings.Contains(strings.ToLower(m.Title), "podcast") {
		parts = append(parts, "podcast")
	}
	q := nonQueryChars.ReplaceAllString(strings.Join(parts, " "), " ")
	return strings.TrimSpace(spaces.ReplaceAllString(q, " "))
}

type Resolver struct {
	client    *http.Client
	oembedURL string
	catalogs  []Catalog
	limit     int
}

func NewResolver(client *http.Client, oembedURL string, limit int, catalogs ...Catalog) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = 5
	}
	return &Resolver{client: client, oembedURL: oembedURL, catalogs: catalogs, limit: limit}
}

type oembed struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// FetchMetadata reads the oEmbed description of a source.
func (r *Resolver) FetchMetadata(ctx context.Context, source string) (*Metadata, error) {
	kind, id := Classify(source)

	endpoint, err := url.Parse(r.oembedURL)
	if err != nil {
		return nil, fmt.Errorf("bad oembed endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("url", source)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oembed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oembed request: %s", resp.Status)
	}
	var o oembed
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&o); err != nil {
		return nil, fmt.Errorf("decoding oembed: %w", err)
	}
	return &Metadata{
		Title:        o.Title,
		Description:  o.Description,
		Author:       o.AuthorName,
		ThumbnailURL: o.ThumbnailURL,
		SourceURL:    source,
		Type:         kind,
		ID:           id,
	}, nil
}

// Resolve searches every accepting catalog concurrently. Results keep catalog
// order and per-catalog order; a failing catalog is logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, source string, rl runlog.Logger) (*Resolution, error) {
	if rl == nil {
		rl = runlog.Discard
	}
	rl.Printf("Resolving DRM-protected URL: %s", source)

	meta, err := r.FetchMetadata(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	rl.Printf("Metadata: %q (%s)", meta.Title, meta.Type)

	query := BuildQuery(*meta)
	if query == "" {
		return nil, errors.New("no title to search for")
	}
	rl.Printf("Search query: %s", query)

	slots := make([][]Candidate, len(r.catalogs))
	var wg sync.WaitGroup
	for i, c := range r.catalogs {
		if !c.Accepts(meta.Type) {
			continue
		}
		wg.Add(1)
		go func(i int, c Catalog) {
			defer wg.Done()
			found, err := c.Search(ctx, query, r.limit)
			if err != nil {
				log.Warnf("search on %s failed: %v", c.Name(), err)
				rl.Printf("Search on %s failed: %v", c.Name(), err)
				return
			}
			if len(found) > r.limit {
				found = found[:r.limit]
			}
			slots[i] = found
		}(i, c)
	}
	wg.Wait()

	res := &Resolution{Metadata: *meta, Query: query}
	for i, found := range slots {
		if len(found) > 0 {
			rl.Printf("Found %d results on %s", len(found), r.catalogs[i].Name())
		}
		res.Candidates = append(res.Candidates, found...)
	}
	if len(res.Candidates) == 0 {
		return nil, fmt.Errorf("no alternates found for %q", query)
	}
	res.Default = &res.Candidates[0]
	return res, nil
}
