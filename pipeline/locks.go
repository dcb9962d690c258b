package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Locks gives one run at a time per item, within this process and across
// processes sharing the lock directory.
type Locks struct {
	dir  string
	mu   sync.Mutex
	held map[string]*flock.Flock
}

func NewLocks(dir string) *Locks {
	return &Locks{dir: dir, held: map[string]*flock.Flock{}}
}

func (l *Locks) path(id string) string {
	return filepath.Join(l.dir, id+".lock")
}

// TryLock takes the lock for id or returns ErrAlreadyRunning.
func (l *Locks) TryLock(id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, ErrAlreadyRunning
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	fl := flock.New(l.path(id))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", id, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	l.held[id] = fl
	return func() { l.unlock(id) }, nil
}

func (l *Locks) unlock(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fl, ok := l.held[id]
	if !ok {
		return
	}
	if err := fl.Unlock(); err != nil {
		log.Warnf("unlocking %s: %v", id, err)
	}
	delete(l.held, id)
}

// Held reports whether this process is running id.
func (l *Locks) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

// Prune removes lock files for ids that keep reports as gone.
func (l *Locks) Prune(keep func(id string) bool) int {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".lock" {
			continue
		}
		id := name[:len(name)-len(".lock")]
		if keep(id) {
			continue
		}
		unlock, err := l.TryLock(id)
		if err != nil {
			continue
		}
		os.Remove(l.path(id))
		unlock()
		n++
	}
	return n
}
