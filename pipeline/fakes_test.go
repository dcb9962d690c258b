package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"stashcast/crossplatform"
	"stashcast/database"
	"stashcast/download"
	"stashcast/items"
	"stashcast/media"
	"stashcast/playlists"
	"stashcast/prefetch"
	"stashcast/process"
	"stashcast/runlog"
	"stashcast/strategy"
)

type fakePrefetcher struct {
	mu      sync.Mutex
	results map[string]*prefetch.Result
	errs    map[string]error
	calls   []string
}

func (f *fakePrefetcher) Prefetch(ctx context.Context, input string, s strategy.Strategy, rl runlog.Logger) (*prefetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if err := f.errs[input]; err != nil {
		return nil, err
	}
	if r, ok := f.results[input]; ok {
		cp := *r
		return &cp, nil
	}
	return &prefetch.Result{Title: "Episode", Streams: media.Streams{HasAudio: true}}, nil
}

type fakeDownloader struct {
	mu         sync.Mutex
	ext        string
	err        error
	sources    []string
	strategies []strategy.Strategy
}

func (f *fakeDownloader) Download(ctx context.Context, source string, s strategy.Strategy, opts download.Options) (*download.Result, error) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.strategies = append(f.strategies, s)
	err, ext := f.err, f.ext
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ext == "" {
		ext = "mp3"
	}
	p := filepath.Join(opts.Dir, download.RawName+"."+ext)
	if err := os.WriteFile(p, []byte("media from "+source), 0o644); err != nil {
		return nil, err
	}
	if opts.Progress != nil {
		opts.Progress(50)
	}
	return &download.Result{ContentPath: p, Extension: ext, MIMEType: media.MIMEType(ext)}, nil
}

type fakeProcessor struct {
	tags      map[string]string
	subtitles string
	err       error
}

func (f *fakeProcessor) Process(ctx context.Context, in process.Input) (*process.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	ext := media.OutputExtension(in.Kind, in.Raw.Extension)
	out := filepath.Join(in.Dir, process.ContentBase+"."+ext)
	if err := os.Rename(in.Raw.ContentPath, out); err != nil {
		return nil, err
	}
	fi, err := os.Stat(out)
	if err != nil {
		return nil, err
	}
	var subtitles string
	if f.subtitles != "" {
		subtitles = filepath.Join(in.Dir, process.SubtitleFile)
		if err := os.WriteFile(subtitles, []byte(f.subtitles), 0o644); err != nil {
			return nil, err
		}
	}
	return &process.Result{
		ContentPath: out,
		Size:        fi.Size(),
		Extension:   ext,
		MIMEType:    media.MIMEType(ext),
		Duration:    12,
		Tags:        f.tags,

		SubtitlePath: subtitles,
	}, nil
}

type fakeAlternates struct {
	res *crossplatform.Resolution
	err error
}

func (f *fakeAlternates) Resolve(ctx context.Context, source string, rl runlog.Logger) (*crossplatform.Resolution, error) {
	return f.res, f.err
}

// recorder keeps the distinct consecutive statuses reported per item.
type recorder struct {
	mu     sync.Mutex
	events map[string][]string
}

func (r *recorder) Report(id, status string, pct float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string][]string{}
	}
	seen := r.events[id]
	if len(seen) == 0 || seen[len(seen)-1] != status {
		r.events[id] = append(seen, status)
	}
}

func (r *recorder) statuses(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events[id]...)
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeDispatcher) Submit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

type testEnv struct {
	store    *items.Store
	mediaDir string
	pre      *fakePrefetcher
	dl       *fakeDownloader
	proc     *fakeProcessor
	alt      *fakeAlternates
	rec      *recorder
	orch     *Orchestrator
}

func newTestStore(t *testing.T) *items.Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "stashcast.db"), &items.Item{}, &playlists.Playlist{})
	require.NoError(t, err)
	return items.NewStore(db)
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	e := &testEnv{
		store:    newTestStore(t),
		mediaDir: t.TempDir(),
		pre:      &fakePrefetcher{results: map[string]*prefetch.Result{}, errs: map[string]error{}},
		dl:       &fakeDownloader{},
		proc:     &fakeProcessor{},
		alt:      &fakeAlternates{},
		rec:      &recorder{},
	}
	opts.MediaDir = e.mediaDir
	e.orch = NewOrchestrator(e.store, Deps{
		Strategies: strategy.NewResolver([]string{"drm.example"}),
		Prefetcher: e.pre,
		Downloader: e.dl,
		Processor:  e.proc,
		Alternates: e.alt,
		Progress:   e.rec,
		Locks:      NewLocks(filepath.Join(t.TempDir(), "locks")),
	}, opts)
	return e
}

func (e *testEnv) create(t *testing.T, source string, requested media.Requested) *items.Item {
	t.Helper()
	item := &items.Item{SourceRef: source, Requested: requested}
	require.NoError(t, e.store.Create(item))
	return item
}

func (e *testEnv) get(t *testing.T, id string) *items.Item {
	t.Helper()
	item, err := e.store.Get(id)
	require.NoError(t, err)
	return item
}
