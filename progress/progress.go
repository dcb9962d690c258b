// Package progress keeps a best-effort, in-memory view of running items for
// polling and event streams. The item store stays authoritative.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Percent   float64   `json:"percent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reporter is what pipeline code needs to publish progress.
type Reporter interface {
	Report(id, status string, percent float64)
}

type Queue struct {
	id uuid.UUID
	Ch chan Status
}

type Tracker struct {
	capacity  int
	mutex     sync.RWMutex
	entries   map[string]*Status
	order     []string
	listeners map[uuid.UUID]*Queue
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tracker{
		capacity:  capacity,
		entries:   make(map[string]*Status),
		listeners: make(map[uuid.UUID]*Queue),
	}
}

// Report records the latest status of id and fans it out to subscribers.
// Slow subscribers miss events rather than block the reporter.
func (t *Tracker) Report(id, status string, percent float64) {
	t.mutex.Lock()
	entry, exists := t.entries[id]
	if !exists {
		entry = &Status{ID: id}
		t.entries[id] = entry
		t.order = append(t.order, id)
		t.evict()
	}
	entry.Status = status
	entry.Percent = percent
	entry.UpdatedAt = time.Now()
	snapshot := *entry

	queues := make([]*Queue, 0, len(t.listeners))
	for _, q := range t.listeners {
		queues = append(queues, q)
	}
	t.mutex.Unlock()

	for _, q := range queues {
		select {
		case q.Ch <- snapshot:
		default:
		}
	}
}

// caller holds the lock
func (t *Tracker) evict() {
	for len(t.order) > t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.entries, oldest)
	}
}

func (t *Tracker) Read(id string) (Status, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	entry, ok := t.entries[id]
	if !ok {
		return Status{}, false
	}
	return *entry, true
}

func (t *Tracker) Forget(id string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, ok := t.entries[id]; !ok {
		return
	}
	delete(t.entries, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Tracker) Subscribe() *Queue {
	q := &Queue{
		id: uuid.Must(uuid.NewV7()),
		Ch: make(chan Status, 16),
	}
	t.mutex.Lock()
	t.listeners[q.id] = q
	t.mutex.Unlock()
	return q
}

func (t *Tracker) Unsubscribe(q *Queue) {
	t.mutex.Lock()
	delete(t.listeners, q.id)
	t.mutex.Unlock()
}
