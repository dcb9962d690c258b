// Package summary builds a short extractive summary from a subtitle track.
package summary

import (
	"html"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	damping    = 0.85
	maxRounds  = 100
	tolerance  = 1e-6
	minTokenSz = 3
)

var (
	tagPattern      = regexp.MustCompile(`<[^>]+>`)
	cueIDPattern    = regexp.MustCompile(`^\d+$`)
	tokenSplit      = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	sentencePattern = regexp.MustCompile(`[.!?]+["')\]]*\s+`)
)

// PlainText drops the header, cue numbers, timings and inline tags of a
// WebVTT or SRT track and joins the remaining caption lines. Consecutive
// repeats, common in automatic captions, are kept once.
func PlainText(track string) string {
	var out []string
	prev := ""
	for _, line := range strings.Split(strings.ReplaceAll(track, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "",
			strings.HasPrefix(line, "WEBVTT"),
			strings.HasPrefix(line, "Kind:"),
			strings.HasPrefix(line, "Language:"),
			strings.HasPrefix(line, "NOTE"),
			strings.Contains(line, "-->"),
			cueIDPattern.MatchString(line):
			continue
		}
		line = strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(line, "")))
		if line == "" || line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}
	return strings.Join(out, " ")
}

// Sentences splits text after terminal punctuation.
func Sentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func tokenize(text string) []string {
	raw := tokenSplit.Split(strings.ToLower(text), -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if utf8.RuneCountInString(token) < minTokenSz {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

type vector struct {
	weights map[string]float64
	norm    float64
}

func cosine(a, b vector) float64 {
	if a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for term, w := range a.weights {
		dot += w * b.weights[term]
	}
	return dot / (a.norm * b.norm)
}

// vectors weighs each sentence's term counts by log((N+1)/(1+df)).
func vectors(sentences []string) []vector {
	counts := make([]map[string]float64, len(sentences))
	df := map[string]int{}
	for i, s := range sentences {
		counts[i] = map[string]float64{}
		for _, term := range tokenize(s) {
			counts[i][term]++
		}
		for term := range counts[i] {
			df[term]++
		}
	}

	n := float64(len(sentences))
	out := make([]vector, len(sentences))
	for i, c := range counts {
		v := vector{weights: make(map[string]float64, len(c))}
		for term, count := range c {
			w := count * math.Log((n+1)/(1+float64(df[term])))
			if w == 0 {
				continue
			}
			v.weights[term] = w
			v.norm += w * w
		}
		v.norm = math.Sqrt(v.norm)
		out[i] = v
	}
	return out
}

// centrality ranks sentences by a damped random walk over their pairwise
// cosine similarity.
func centrality(vs []vector) []float64 {
	n := len(vs)
	sim := make([][]float64, n)
	rowSum := make([]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := cosine(vs[i], vs[j])
			sim[i][j], sim[j][i] = s, s
			rowSum[i] += s
			rowSum[j] += s
		}
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1 / float64(n)
	}
	for round := 0; round < maxRounds; round++ {
		var dangling float64
		for j, sum := range rowSum {
			if sum == 0 {
				dangling += scores[j]
			}
		}
		next := make([]float64, n)
		var delta float64
		for i := 0; i < n; i++ {
			in := dangling / float64(n)
			for j := 0; j < n; j++ {
				if rowSum[j] > 0 {
					in += scores[j] * sim[j][i] / rowSum[j]
				}
			}
			next[i] = (1-damping)/float64(n) + damping*in
			delta += math.Abs(next[i] - scores[i])
		}
		scores = next
		if delta < tolerance {
			break
		}
	}
	return scores
}

// Summarize returns the n most central sentences of text in their original
// order. It returns every sentence when there are n or fewer.
func Summarize(text string, n int) []string {
	sentences := Sentences(text)
	if n <= 0 || len(sentences) == 0 {
		return nil
	}
	if len(sentences) <= n {
		return sentences
	}

	scores := centrality(vectors(sentences))
	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	picked := order[:n]
	sort.Ints(picked)

	out := make([]string, 0, n)
	for _, i := range picked {
		out = append(out, sentences[i])
	}
	return out
}
