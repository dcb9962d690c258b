package slug

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stashcast/media"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Hello, World!", "hello-world"},
		{"  --Already--hyphenated--  ", "already-hyphenated"},
		{"Café Crème Brûlée", "cafe-creme-brulee"},
		{"one two three four five six seven eight", "one-two-three-four-five-six"},
		{"", "untitled"},
		{"!!!", "untitled"},
		{"../../etc/passwd", "etc-passwd"},
		{`C:\Windows\system32`, "c-windows-system32"},
	}
	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			assert.Equal(t, c.want, Slugify(c.title, 6, 40))
		})
	}
}

func TestSlugifyCharCap(t *testing.T) {
	s := Slugify("supercalifragilistic expialidocious words", 6, 21)
	assert.Equal(t, "supercalifragilistic", s)

	long := strings.Repeat("abcdefghij ", 20)
	for n := 1; n <= 45; n++ {
		s := Slugify(long, 100, n)
		assert.LessOrEqual(t, len(s), n)
		assert.False(t, strings.HasSuffix(s, "-"))
		assert.NotContains(t, s, "..")
		assert.NotContains(t, s, "/")
		assert.NotContains(t, s, `\`)
	}
}

// fakeLookup maps slug to "kind source".
type fakeLookup map[string]string

func (f fakeLookup) SlugTaken(s, sourceRef string, kind media.Kind) (bool, error) {
	owner, ok := f[s]
	return ok && owner != string(kind)+" "+sourceRef, nil
}

type failingLookup struct{}

func (failingLookup) SlugTaken(string, string, media.Kind) (bool, error) {
	return false, errors.New("db down")
}

func TestEnsureUnique(t *testing.T) {
	store := fakeLookup{
		"news": "audio https://a.example/1",
	}

	t.Run("free slug", func(t *testing.T) {
		s, err := EnsureUnique("fresh", "https://b.example/2", media.Audio, nil, store)
		require.NoError(t, err)
		assert.Equal(t, "fresh", s)
	})

	t.Run("same source reuses", func(t *testing.T) {
		s, err := EnsureUnique("news", "https://a.example/1", media.Audio, nil, store)
		require.NoError(t, err)
		assert.Equal(t, "news", s)
	})

	t.Run("same source other kind gets a suffix", func(t *testing.T) {
		s, err := EnsureUnique("news", "https://a.example/1", media.Video, nil, store)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(s, "news-"))
	})

	t.Run("existing item keeps its slug", func(t *testing.T) {
		prev := &Owner{SourceRef: "https://b.example/2", Kind: media.Audio, Slug: "older-slug"}
		s, err := EnsureUnique("news", "https://b.example/2", media.Audio, prev, store)
		require.NoError(t, err)
		assert.Equal(t, "older-slug", s)
	})

	t.Run("collision from another source gets a stable suffix", func(t *testing.T) {
		first, err := EnsureUnique("news", "https://b.example/2", media.Audio, nil, store)
		require.NoError(t, err)
		second, err := EnsureUnique("news", "https://b.example/2", media.Audio, nil, store)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.True(t, strings.HasPrefix(first, "news-"))
		assert.Len(t, first, len("news-")+8)
	})

	t.Run("suffixed slug taken grows the suffix", func(t *testing.T) {
		first, err := EnsureUnique("news", "https://c.example/3", media.Audio, nil, store)
		require.NoError(t, err)
		taken := fakeLookup{"news": "audio https://a.example/1", first: "audio https://d.example/4"}

		s, err := EnsureUnique("news", "https://c.example/3", media.Audio, nil, taken)
		require.NoError(t, err)
		assert.NotEqual(t, first, s)
		assert.True(t, strings.HasPrefix(s, first))
	})

	t.Run("lookup failure", func(t *testing.T) {
		_, err := EnsureUnique("news", "x", media.Audio, nil, failingLookup{})
		assert.Error(t, err)
	})
}

func TestDir(t *testing.T) {
	root := t.TempDir()

	dir, err := Dir(root, "my-show")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "my-show"), dir)

	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`, "x..y"} {
		_, err := Dir(root, bad)
		var pse *PathSecurityError
		assert.ErrorAs(t, err, &pse, bad)
	}
}
