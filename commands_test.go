package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stashcast/crossplatform"
	"stashcast/items"
	"stashcast/media"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"ID", "Title"}, [][]string{{"1", "first"}, {"2"}}, []columnAlignment{alignRight})
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "first")
	assert.Equal(t, 6, len(strings.Split(strings.TrimSpace(out), "\n")))

	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestPrintItemsShowsErrorForFailedItems(t *testing.T) {
	var buf bytes.Buffer
	printItems(&buf, []*items.Item{
		{ID: "a", Status: items.StatusReady, Kind: media.Audio, Title: "Show", Slug: "show"},
		{ID: "b", Status: items.StatusError, Kind: media.Video, Title: "Broken", Slug: "broken", Error: "boom"},
	})
	out := buf.String()
	assert.Contains(t, out, "show")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "broken")
}

func TestPickCandidateWithoutTerminal(t *testing.T) {
	res := &crossplatform.Resolution{
		Metadata: crossplatform.Metadata{Title: "Episode", Type: crossplatform.Episode},
		Query:    "episode podcast",
		Candidates: []crossplatform.Candidate{
			{Catalog: "podcasts", URL: "https://example.com/a.mp3", Title: "A"},
			{Catalog: "youtube", URL: "https://example.com/b", Title: "B", Duration: 90},
		},
	}
	res.Default = &res.Candidates[1]

	var out bytes.Buffer
	chosen, err := pickCandidate(strings.NewReader("1\n"), &out, res)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/b", chosen.URL)
	assert.Contains(t, out.String(), "1m30s")

	res.Default = nil
	_, err = pickCandidate(strings.NewReader(""), &out, res)
	assert.Error(t, err)

	_, err = pickCandidate(strings.NewReader(""), &out, &crossplatform.Resolution{Query: "nothing"})
	assert.Error(t, err)
}
