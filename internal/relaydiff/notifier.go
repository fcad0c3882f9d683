package relaydiff

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ChangeNotifier wakes pollers when another process may have written to the
// store. Signals are coalesced; a receiver must re-scan, not count events.
type ChangeNotifier interface {
	Changes() <-chan struct{}
	Close() error
}

type StoreWatcher struct {
	watcher *fsnotify.Watcher
	base    string
	changes chan struct{}
	cancel  context.CancelFunc
	logger  Logger

	closeOnce sync.Once
	done      chan struct{}
}

// WatchStore returns a notifier for stores backed by a local file, or nil when
// the store offers nothing to watch. The parent directory is watched because
// writers replace the file by rename.
func WatchStore(store EntryStore, logger Logger) (*StoreWatcher, error) {
	provider, ok := store.(watchPathProvider)
	if !ok {
		return nil, nil
	}
	target := provider.WatchPath()
	if strings.TrimSpace(target) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = nopLogger{}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Printf("relaydiff: failed to close watcher after add error: %v", closeErr)
		}
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &StoreWatcher{
		watcher: watcher,
		base:    filepath.Base(target),
		changes: make(chan struct{}, 1),
		cancel:  cancel,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *StoreWatcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *StoreWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *StoreWatcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// sessions.db also covers sessions.db-wal; entries.json covers entries.json.tmp.
			if !strings.HasPrefix(filepath.Base(event.Name), w.base) {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("relaydiff: store watcher error: %v", err)
		}
	}
}
