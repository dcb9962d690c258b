package items

type Status string

const (
	StatusPrefetching Status = "PREFETCHING"
	StatusDownloading Status = "DOWNLOADING"
	StatusProcessing  Status = "PROCESSING"
	StatusReady       Status = "READY"
	StatusError       Status = "ERROR"
)

var next = map[Status]Status{
	StatusPrefetching: StatusDownloading,
	StatusDownloading: StatusProcessing,
	StatusProcessing:  StatusReady,
}

func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// CanTransition allows one step forward, or ERROR from any running phase.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	return next[s] == to
}

func (s Status) Valid() bool {
	switch s {
	case StatusPrefetching, StatusDownloading, StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}
