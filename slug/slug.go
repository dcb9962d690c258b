// Package slug turns titles into short directory names and keeps them unique
// per media kind.
package slug

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"stashcast/media"
)

const Untitled = "untitled"

const suffixLen = 8

// Slugify lowercases title, folds accents, collapses everything that is not a
// letter or digit into single hyphens and caps the result at maxWords words
// and maxChars characters.
func Slugify(title string, maxWords, maxChars int) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}
	folded = strings.ToLower(folded)

	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	s := strings.Join(words, "-")
	if maxChars > 0 && len(s) > maxChars {
		s = strings.TrimRight(s[:maxChars], "-")
	}
	if s == "" {
		return Untitled
	}
	return s
}

// Owner is the record already holding a slug.
type Owner struct {
	SourceRef string
	Kind      media.Kind
	Slug      string
}

// Lookup reports whether slug is held by an item other than (sourceRef, kind).
// Slugs name directories under one media root, so they are unique across kinds.
type Lookup interface {
	SlugTaken(slug, sourceRef string, kind media.Kind) (bool, error)
}

// EnsureUnique returns a slug that is free or already belongs to
// (sourceRef, kind). A previous item for the same source and kind keeps its slug.
// Collisions with another source get a suffix derived from sourceRef, so the
// result depends only on the inputs and the store contents.
func EnsureUnique(s, sourceRef string, kind media.Kind, existing *Owner, lookup Lookup) (string, error) {
	if existing != nil && existing.SourceRef == sourceRef && existing.Kind == kind && existing.Slug != "" {
		return existing.Slug, nil
	}

	free := func(candidate string) (bool, error) {
		taken, err := lookup.SlugTaken(candidate, sourceRef, kind)
		if err != nil {
			return false, fmt.Errorf("looking up slug %q: %w", candidate, err)
		}
		return !taken, nil
	}

	ok, err := free(s)
	if err != nil || ok {
		return s, err
	}

	suffix := strings.ToLower(shortuuid.NewWithNamespace(sourceRef))
	for n := suffixLen; n <= len(suffix); n += 4 {
		candidate := s + "-" + suffix[:min(n, len(suffix))]
		ok, err := free(candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free slug for %q", s)
}

// PathSecurityError is returned when a slug would resolve outside the media root.
type PathSecurityError struct {
	Slug string
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("slug %q escapes the media root", e.Slug)
}

// Dir joins root and s, refusing anything that leaves root.
func Dir(root, s string) (string, error) {
	if s == "" || s == "." || strings.Contains(s, "..") || strings.ContainsAny(s, `/\`) {
		return "", &PathSecurityError{Slug: s}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(absRoot, s)
	rel, err := filepath.Rel(absRoot, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", &PathSecurityError{Slug: s}
	}
	return dir, nil
}
