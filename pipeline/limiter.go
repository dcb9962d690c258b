package pipeline

import "stashcast/items"

// ReadyCounter counts items in a status.
type ReadyCounter interface {
	CountByStatus(status items.Status) (int64, error)
}

// Limiter gates new stashes on the number of READY items. A limit of zero
// means unlimited.
type Limiter struct {
	counter ReadyCounter
	limit   int
}

func NewLimiter(counter ReadyCounter, limit int) *Limiter {
	return &Limiter{counter: counter, limit: limit}
}

// Check returns an "at capacity" message, or "" when there is room.
func (l *Limiter) Check() (string, error) {
	err := l.Gate()
	if lr, ok := err.(*LimitReachedError); ok {
		return lr.Error(), nil
	}
	return "", err
}

// Gate is Check as a *LimitReachedError.
func (l *Limiter) Gate() error {
	if l.limit <= 0 {
		return nil
	}
	n, err := l.counter.CountByStatus(items.StatusReady)
	if err != nil {
		return err
	}
	if n >= int64(l.limit) {
		return &LimitReachedError{Count: n, Limit: l.limit}
	}
	return nil
}
