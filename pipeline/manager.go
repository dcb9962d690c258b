package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stashcast/items"
)

// Runner executes one item.
type Runner interface {
	Run(ctx context.Context, id string) error
}

// Manager runs submitted items in the background with bounded concurrency.
type Manager struct {
	runner Runner
	store  *items.Store
	locks  *Locks

	mediaDir string
	staleAge time.Duration

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// OnDone is called after every background run.
	OnDone func(ctx context.Context, id string, err error)
}

type ManagerOptions struct {
	Concurrency int
	MediaDir    string
	StaleAge    time.Duration
}

func NewManager(runner Runner, store *items.Store, locks *Locks, opts ManagerOptions) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:   runner,
		store:    store,
		locks:    locks,
		mediaDir: opts.MediaDir,
		staleAge: opts.StaleAge,
		sem:      make(chan struct{}, opts.Concurrency),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit queues id. The item's updated_at is bumped once a worker slot is
// free, so time spent waiting for a slot does not count against the worker
// timeout.
func (m *Manager) Submit(id string) {
	m.submit(id, true)
}

func (m *Manager) submit(id string, touch bool) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case m.sem <- struct{}{}:
		case <-m.ctx.Done():
			return
		}
		defer func() { <-m.sem }()

		if touch {
			if err := m.store.Touch(id); err != nil {
				log.Errorf("touching %s: %v", id, err)
			}
		}
		err := m.runner.Run(m.ctx, id)
		if err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.WithField("item", id).Warnf("run ended with error: %v", err)
		}
		if m.OnDone != nil {
			m.OnDone(m.ctx, id, err)
		}
	}()
}

// Recover resubmits every item left in a non-terminal state. They are not
// touched, so ones that waited past the worker timeout fail fast.
func (m *Manager) Recover() (int, error) {
	pending, err := m.store.ListByStatus(items.StatusPrefetching, items.StatusDownloading, items.StatusProcessing)
	if err != nil {
		return 0, err
	}
	for _, item := range pending {
		log.Infof("recovering %s (%s)", item.ID, item.Status)
		m.submit(item.ID, false)
	}
	return len(pending), nil
}

// Cleanup removes working directories older than the stale age that no run
// holds, prunes lock files of deleted items, and vacuums the database.
func (m *Manager) Cleanup() (int, error) {
	removed := 0
	entries, err := os.ReadDir(m.mediaDir)
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := items.IsWorkDir(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) < m.staleAge {
			continue
		}
		unlock, err := m.locks.TryLock(id)
		if err != nil {
			continue
		}
		dir := filepath.Join(m.mediaDir, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			log.Errorf("removing stale %s: %v", dir, err)
		} else {
			log.Infof("removed stale working directory %s", dir)
			removed++
		}
		unlock()
	}

	m.locks.Prune(func(id string) bool {
		_, err := m.store.Get(id)
		return !errors.Is(err, items.ErrNotFound)
	})

	if err := m.store.DB().Exec("VACUUM").Error; err != nil {
		log.Errorln(err)
	}
	return removed, nil
}

// PeriodicCleanup runs Cleanup now and then every interval until Close.
func (m *Manager) PeriodicCleanup(interval time.Duration) {
	m.cleanup()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) cleanup() {
	log.Debugln("cleanup...")
	n, err := m.Cleanup()
	if err != nil {
		log.Errorf("cleanup: %v", err)
		return
	}
	if n > 0 {
		log.Infof("cleaned up %d stale working directories", n)
	}
}

// Wait blocks until every submitted run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels running work and waits for it.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
