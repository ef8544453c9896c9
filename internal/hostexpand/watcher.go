package hostexpand

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/crisidev/mash/internal/logging"
)

var hostsLog = logging.ForComponent(logging.CompHosts)

// Watcher watches a hosts file and reports hosts appended to it while the
// program runs. Already-known hosts are never reported twice.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu    sync.Mutex
	known map[string]bool

	added chan string
	done  chan struct{}
	once  sync.Once
}

// NewWatcher starts watching path. The hosts already in the file are seeded
// as known, so only later additions surface on Added().
func NewWatcher(path string) (*Watcher, error) {
	initial, err := ReadHostsFile(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// plain file watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	w := &Watcher{
		path:  path,
		fsw:   fsw,
		known: make(map[string]bool, len(initial)),
		added: make(chan string, 16),
		done:  make(chan struct{}),
	}
	for _, h := range initial {
		w.known[h] = true
	}

	go w.loop()
	return w, nil
}

// Added returns the channel on which newly appended hosts are delivered.
func (w *Watcher) Added() <-chan string {
	return w.added
}

// Close stops the watcher.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.added)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.rescan()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			hostsLog.Warn("watch_error", slog.String("path", w.path), slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) rescan() {
	hosts, err := ReadHostsFile(w.path)
	if err != nil {
		hostsLog.Warn("rescan_failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	var fresh []string
	for _, h := range hosts {
		if !w.known[h] {
			w.known[h] = true
			fresh = append(fresh, h)
		}
	}
	w.mu.Unlock()

	for _, h := range fresh {
		select {
		case w.added <- h:
		case <-w.done:
			return
		}
	}
}
