package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const track = `WEBVTT
Kind: captions
Language: en

1
00:00:00.000 --> 00:00:02.000 align:start position:0%
Hello <c>there</c> world.

2
00:00:02.000 --> 00:00:04.000
Hello <c>there</c> world.
<00:00:03.100><c>Second</c> line &amp; more.
`

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Hello there world. Second line & more.", PlainText(track))

	srt := "1\r\n00:00:01,000 --> 00:00:02,000\r\n<i>Only</i> this.\r\n"
	assert.Equal(t, "Only this.", PlainText(srt))

	assert.Empty(t, PlainText("WEBVTT\n\n"))
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"Is it on?", "It is!", "Good."}, Sentences("Is it on? It is! Good."))
	assert.Equal(t, []string{`He said "stop."`, "Then left"}, Sentences(`He said "stop." Then left`))
	assert.Empty(t, Sentences("   "))
}

func TestSummarize(t *testing.T) {
	text := "The rover landed on Mars today. " +
		"Engineers cheered as the rover sent its first images from Mars. " +
		"The cafeteria served soup. " +
		"Scientists expect the rover to study rocks on Mars for years. " +
		"My cat likes naps."

	got := Summarize(text, 2)
	require.Len(t, got, 2)
	for _, s := range got {
		assert.Contains(t, s, "rover")
	}
	assert.Less(t, strings.Index(text, got[0]), strings.Index(text, got[1]))

	assert.Len(t, Summarize(text, 10), 5)
	assert.Nil(t, Summarize(text, 0))
	assert.Nil(t, Summarize("", 3))
}

func TestSummarizeWithoutSharedTerms(t *testing.T) {
	got := Summarize("Alpha beta gamma. Delta epsilon zeta. Theta iota kappa.", 1)
	assert.Equal(t, []string{"Alpha beta gamma."}, got)
}
