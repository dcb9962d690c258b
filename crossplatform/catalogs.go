package crossplatform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"stashcast/ytdlp"
)

// Searcher is the search side of the extraction tool.
type Searcher interface {
	Search(ctx context.Context, prefix string, n int, query string) ([]ytdlp.Entry, error)
}

// SearchCatalog searches through a yt-dlp search extractor.
type SearchCatalog struct {
	name     string
	prefix   string
	searcher Searcher
}

func NewSearchCatalog(name, prefix string, searcher Searcher) *SearchCatalog {
	return &SearchCatalog{name: name, prefix: prefix, searcher: searcher}
}

func (c *SearchCatalog) Name() string { return c.name }

func (c *SearchCatalog) Accepts(ContentType) bool { return true }

func (c *SearchCatalog) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	entries, err := c.searcher.Search(ctx, c.prefix, limit, query)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, e := range entries {
		link := e.Link()
		if link == "" && e.ID != "" && c.prefix == "ytsearch" {
			link = "https://www.youtube.com/watch?v=" + e.ID
		}
		if link == "" {
			continue
		}
		channel := e.Channel
		if channel == "" {
			channel = e.Uploader
		}
		out = append(out, Candidate{
			Catalog:  c.name,
			URL:      link,
			Title:    e.Title,
			Channel:  channel,
			Duration: e.Duration,
		})
	}
	return out, nil
}

// PodcastCatalog searches the iTunes podcast episode index. Only podcast
// content is looked up there.
type PodcastCatalog struct {
	endpoint string
	client   *http.Client
}

func NewPodcastCatalog(endpoint string, client *http.Client) *PodcastCatalog {
	if client == nil {
		client = http.DefaultClient
	}
	return &PodcastCatalog{endpoint: endpoint, client: client}
}

func (c *PodcastCatalog) Name() string { return "podcasts" }

func (c *PodcastCatalog) Accepts(t ContentType) bool {
	return t == Episode || t == Show
}

type itunesResponse struct {
	Results []struct {
		TrackName       string `json:"trackName"`
		CollectionName  string `json:"collectionName"`
		EpisodeURL      string `json:"episodeUrl"`
		TrackViewURL    string `json:"trackViewUrl"`
		TrackTimeMillis int64  `json:"trackTimeMillis"`
	} `json:"results"`
}

func (c *PodcastCatalog) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("term", query)
	q.Set("media", "podcast")
	q.Set("entity", "podcastEpisode")
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("podcast search: %s", resp.Status)
	}

	var body itunesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding podcast search: %w", err)
	}
	var out []Candidate
	for _, r := range body.Results {
		link := r.EpisodeURL
		if link == "" {
			link = r.TrackViewURL
		}
		if link == "" {
			continue
		}
		out = append(out, Candidate{
			Catalog:  c.Name(),
			URL:      link,
			Title:    r.TrackName,
			Channel:  r.CollectionName,
			Duration: float64(r.TrackTimeMillis) / 1000,
		})
	}
	return out, nil
}
