// Package runlog writes the per-item download.log.
package runlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const TimestampFormat = "2006-01-02 15:04:05"

// Logger is the sink pipeline stages narrate into.
type Logger interface {
	Printf(format string, args ...interface{})
}

type discard struct{}

func (discard) Printf(string, ...interface{}) {}

// Discard drops everything.
var Discard Logger = discard{}

// Log appends "[<timestamp>] <message>" lines to a file and mirrors them to
// the process logger at debug level.
type Log struct {
	mu    sync.Mutex
	w     io.WriteCloser
	path  string
	entry *logrus.Entry
	now   func() time.Time
}

func Open(path string, entry *logrus.Entry) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Log{w: f, path: path, entry: entry, now: time.Now}, nil
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.entry.Debugln(msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	if _, err := fmt.Fprintf(l.w, "[%s] %s\n", l.now().Format(TimestampFormat), msg); err != nil {
		l.entry.Warnln("writing run log:", err)
	}
}

// Close is safe to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
