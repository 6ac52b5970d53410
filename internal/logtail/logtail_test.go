package logtail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailMissingFile(t *testing.T) {
	_, err := NewReader().Tail(filepath.Join(t.TempDir(), "missing.log"))
	require.ErrorIs(t, err, ErrLogNotFound)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestTailDropsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	require.NoError(t, os.WriteFile(path, []byte("first line\nsecond\nthird\n"), 0o644))

	r := &Reader{TailBytes: 10}
	got, err := r.Tail(path)
	require.NoError(t, err)
	assert.Equal(t, "third\n", got)

	r.TailBytes = 1 << 20
	got, err = r.Tail(path)
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond\nthird\n", got)
}

func TestContainsSince(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mongo.log")
	r := NewReader()

	ok, err := r.ContainsSince(path, 0, "Waiting for connections")
	require.NoError(t, err)
	assert.False(t, ok, "missing log means not ready")

	require.NoError(t, os.WriteFile(path, []byte("old run: Waiting for connections\n"), 0o644))
	offset := r.Offset(path)
	assert.Positive(t, offset)

	ok, err = r.ContainsSince(path, offset, "Waiting for connections")
	require.NoError(t, err)
	assert.False(t, ok, "marker from a previous run must not count")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("new run: Waiting for connections\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ok, err = r.ContainsSince(path, offset, "Waiting for connections")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContainsSinceTruncatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	require.NoError(t, os.WriteFile(path, []byte("ready\n"), 0o644))

	ok, err := NewReader().ContainsSince(path, 1<<20, "ready")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContainsSinceAcrossChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	content := strings.Repeat("x", chunkSize-3) + "MARKER" + strings.Repeat("y", 10)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ok, err := NewReader().ContainsSince(path, 0, "MARKER")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewReader().ContainsSince(path, 0, "ABSENT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")

	var (
		mu      sync.Mutex
		updates []string
		errs    []error
	)
	stop, err := NewReader().Follow(context.Background(), path, func(content string, err error) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, content)
		errs = append(errs, err)
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, stop()) }()

	mu.Lock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrLogNotFound)
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) > 1 && updates[len(updates)-1] == "hello\n"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFollowMissingDirectory(t *testing.T) {
	_, err := NewReader().Follow(context.Background(), filepath.Join(t.TempDir(), "nope", "svc.log"), func(string, error) {})
	require.Error(t, err)
}
