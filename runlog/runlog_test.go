package runlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormatAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download.log")
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	l, err := Open(path, nil)
	require.NoError(t, err)
	l.now = func() time.Time { return fixed }
	l.Printf("Starting %s", "download")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	l.Printf("after close is dropped")

	l, err = Open(path, nil)
	require.NoError(t, err)
	l.now = func() time.Time { return fixed }
	l.Printf("second run")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[2024-03-09 14:05:07] Starting download\n[2024-03-09 14:05:07] second run\n", string(data))
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Printf("x %d", 1) })
}
