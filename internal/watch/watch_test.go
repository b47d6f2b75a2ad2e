package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ben-ranford/wpfatal/internal/testutil"
)

const testDebounce = 50 * time.Millisecond

type session struct {
	batches chan []string
	cancel  context.CancelFunc
	done    chan error
}

func startWatcher(t *testing.T, root string, opts Options) *session {
	t.Helper()
	if opts.Debounce == 0 {
		opts.Debounce = testDebounce
	}
	w, err := New(root, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{batches: make(chan []string, 16), cancel: cancel, done: make(chan error, 1)}
	go func() {
		s.done <- w.Run(ctx, func(_ context.Context, paths []string) {
			s.batches <- paths
		})
	}()
	t.Cleanup(func() {
		s.stop(t)
		_ = w.Close()
	})
	return s
}

func (s *session) stop(t *testing.T) {
	t.Helper()
	s.cancel()
	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}

// waitFor collects batches until every want path has been seen.
func (s *session) waitFor(t *testing.T, want ...string) [][]string {
	t.Helper()
	missing := make(map[string]struct{}, len(want))
	for _, path := range want {
		missing[path] = struct{}{}
	}
	var batches [][]string
	timeout := time.After(3 * time.Second)
	for len(missing) > 0 {
		select {
		case batch := <-s.batches:
			batches = append(batches, batch)
			for _, path := range batch {
				delete(missing, path)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v, got %v", want, batches)
		}
	}
	return batches
}

func (s *session) expectQuiet(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case batch := <-s.batches:
		t.Fatalf("unexpected change batch %v", batch)
	case <-time.After(wait):
	}
}

func TestWatcherReportsPHPChanges(t *testing.T) {
	root := t.TempDir()
	s := startWatcher(t, root, Options{})

	path := filepath.Join(root, "plugin.php")
	testutil.MustWriteFile(t, path, "<?php\n")
	s.waitFor(t, path)

	testutil.MustWriteFile(t, filepath.Join(root, "notes.txt"), "ignored\n")
	s.expectQuiet(t, 4*testDebounce)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	s := startWatcher(t, root, Options{Debounce: 300 * time.Millisecond})

	paths := []string{
		filepath.Join(root, "a.php"),
		filepath.Join(root, "b.php"),
		filepath.Join(root, "c.php"),
	}
	for _, path := range paths {
		testutil.MustWriteFile(t, path, "<?php\n")
	}
	batches := s.waitFor(t, paths...)
	require.Len(t, batches, 1)
	assert.Equal(t, paths, batches[0])
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	s := startWatcher(t, root, Options{})

	dir := filepath.Join(root, "includes")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, "nested.php")
	testutil.MustWriteFile(t, path, "<?php\n")
	s.waitFor(t, path)
}

func TestWatcherSkipsExcludedPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o750))
	s := startWatcher(t, root, Options{Exclude: []string{"legacy/**"}})

	testutil.MustWriteFile(t, filepath.Join(root, "vendor", "lib.php"), "<?php\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "legacy"), 0o750))
	testutil.MustWriteFile(t, filepath.Join(root, "legacy", "old.php"), "<?php\n")
	s.expectQuiet(t, 4*testDebounce)

	path := filepath.Join(root, "main.php")
	testutil.MustWriteFile(t, path, "<?php\n")
	batches := s.waitFor(t, path)
	for _, batch := range batches {
		assert.NotContains(t, batch, filepath.Join(root, "legacy", "old.php"))
	}
}

func TestNewRejectsBadGlob(t *testing.T) {
	_, err := New(t.TempDir(), Options{Include: []string{"[unterminated"}})
	require.Error(t, err)
}

func TestWatcherStopsWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	w, err := New(root, Options{Debounce: testDebounce})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	calls := make(chan []string, 4)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) { calls <- paths })
	}()

	path := filepath.Join(root, "plugin.php")
	testutil.MustWriteFile(t, path, "<?php\n")
	select {
	case batch := <-calls:
		assert.Contains(t, batch, path)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for change")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
	require.NoError(t, w.Close())
}
