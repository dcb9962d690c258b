package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a run for the same item holds its lock.
	ErrAlreadyRunning = errors.New("item is already being processed")
	ErrNotFound       = errors.New("item not found")
	ErrWorkerTimeout  = errors.New("worker timeout")
	ErrEmptySource    = errors.New("no source given")
	ErrNoAlternate    = errors.New("no alternate selected")
)

// LimitReachedError rejects a stash while the ready episode count is at the
// configured limit.
type LimitReachedError struct {
	Count int64
	Limit int
}

func (e *LimitReachedError) Error() string {
	return limitMessage(e.Count, e.Limit)
}

func limitMessage(count int64, limit int) string {
	return fmt.Sprintf("Episode limit reached (%d/%d)", count, limit)
}
