package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stashcast/items"
	"stashcast/media"
)

type fakeRunner struct {
	mu     sync.Mutex
	ids    []string
	active int32
	peak   int32
	delay  time.Duration
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, id string) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.err
}

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.ids...)
	sort.Strings(out)
	return out
}

func newTestManager(t *testing.T, r Runner, concurrency int) (*Manager, *items.Store, string) {
	t.Helper()
	store := newTestStore(t)
	mediaDir := t.TempDir()
	m := NewManager(r, store, NewLocks(filepath.Join(t.TempDir(), "locks")), ManagerOptions{
		Concurrency: concurrency,
		MediaDir:    mediaDir,
		StaleAge:    time.Hour,
	})
	t.Cleanup(m.Close)
	return m, store, mediaDir
}

func TestManagerBoundsConcurrency(t *testing.T) {
	r := &fakeRunner{delay: 20 * time.Millisecond}
	m, _, _ := newTestManager(t, r, 2)

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		m.Submit(id)
	}
	m.Wait()

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, r.seen())
	assert.LessOrEqual(t, atomic.LoadInt32(&r.peak), int32(2))
}

func TestManagerOnDone(t *testing.T) {
	r := &fakeRunner{err: errors.New("boom")}
	m, _, _ := newTestManager(t, r, 1)

	var mu sync.Mutex
	done := map[string]error{}
	m.OnDone = func(ctx context.Context, id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		done[id] = err
	}
	m.Submit("x")
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, done, "x")
	assert.EqualError(t, done["x"], "boom")
}

func TestManagerSubmitTouches(t *testing.T) {
	r := &fakeRunner{}
	m, store, _ := newTestManager(t, r, 1)

	item := &items.Item{SourceRef: "src"}
	require.NoError(t, store.Create(item))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.DB().Model(&items.Item{}).Where("id = ?", item.ID).UpdateColumn("updated_at", past).Error)

	m.Submit(item.ID)
	m.Wait()

	got, err := store.Get(item.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(past.Add(time.Minute)))
}

func TestManagerRecover(t *testing.T) {
	r := &fakeRunner{}
	m, store, _ := newTestManager(t, r, 2)

	pending := &items.Item{SourceRef: "a"}
	downloading := &items.Item{SourceRef: "b"}
	failed := &items.Item{SourceRef: "c", Requested: media.RequestedAudio}
	for _, it := range []*items.Item{pending, downloading, failed} {
		require.NoError(t, store.Create(it))
	}
	require.NoError(t, store.Transition(downloading.ID, items.StatusPrefetching, items.StatusDownloading, nil))
	require.NoError(t, store.Transition(failed.ID, items.StatusPrefetching, items.StatusError, nil))

	n, err := m.Recover()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	m.Wait()

	want := []string{pending.ID, downloading.ID}
	sort.Strings(want)
	assert.Equal(t, want, r.seen())
}

func TestManagerCleanup(t *testing.T) {
	r := &fakeRunner{}
	m, _, mediaDir := newTestManager(t, r, 1)

	old := time.Now().Add(-2 * time.Hour)
	mk := func(name string, mtime time.Time) string {
		dir := filepath.Join(mediaDir, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.Chtimes(dir, mtime, mtime))
		return dir
	}
	stale := mk("tmp-stale", old)
	fresh := mk("tmp-fresh", time.Now())
	running := mk("tmp-running", old)
	ready := mk("my-show", old)

	unlock, err := m.locks.TryLock("running")
	require.NoError(t, err)
	defer unlock()

	orphan := filepath.Join(m.locks.dir, "gone.lock")
	require.NoError(t, os.WriteFile(orphan, nil, 0o644))

	n, err := m.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, running)
	assert.DirExists(t, ready)
	assert.NoFileExists(t, orphan)
}

func TestManagerCloseStopsQueuedWork(t *testing.T) {
	r := &fakeRunner{delay: 50 * time.Millisecond}
	m, _, _ := newTestManager(t, r, 1)

	m.Submit("first")
	time.Sleep(10 * time.Millisecond)
	m.Submit("second")
	m.Close()

	assert.Equal(t, []string{"first"}, r.seen())
}
