package logtail

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// FollowDebounce coalesces bursts of writes into one update.
const FollowDebounce = 50 * time.Millisecond

// StopFunc ends a Follow and waits for its goroutine.
type StopFunc func() error

// Follow calls onChange with the current tail of path, then again every time
// the file is written, created, truncated or removed. The parent directory
// must exist; the file itself need not. onChange runs on a timer goroutine
// and is never invoked concurrently with itself.
func (r *Reader) Follow(ctx context.Context, path string, onChange func(content string, err error)) (StopFunc, error) {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
	})

	var (
		mu        sync.Mutex
		debouncer *time.Timer
		deliver   sync.Mutex
	)

	readAndSend := func() {
		if sctx.IsStopping() {
			return
		}
		deliver.Lock()
		defer deliver.Unlock()
		content, err := r.Tail(path)
		onChange(content, err)
	}

	readAndSend()

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(FollowDebounce, readAndSend)
				mu.Unlock()

			case _, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
		return nil
	})

	return func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}, nil
}
