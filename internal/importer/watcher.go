package importer

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay batches editor save bursts (write + truncate + rename) into
// one re-import per note.
const debounceDelay = 500 * time.Millisecond

// Watcher keeps a vault and the graph in sync: when a Markdown file is
// created or modified, the note is re-imported through the merge path, which
// schedules fresh embeddings only when content actually changed.
type Watcher struct {
	graph   GraphWriter
	root    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher constructs a Watcher for the vault at root. Subdirectories are
// watched recursively; directories created later are picked up as they
// appear.
func NewWatcher(graph GraphWriter, root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		graph:   graph,
		root:    root,
		watcher: fsw,
		pending: make(map[string]*time.Timer),
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
			return fs.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	log.Printf("[watcher] watching %s", w.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[watcher] error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// New directories join the watch set so notes created inside them are
	// seen too.
	if event.Op&fsnotify.Create != 0 && !strings.HasPrefix(filepath.Base(event.Name), ".") {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			_ = w.watcher.Add(event.Name)
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return
	}
	w.scheduleImport(ctx, event.Name)
}

// scheduleImport (re)arms the per-file debounce timer.
func (w *Watcher) scheduleImport(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := ImportFile(ctx, w.graph, w.root, path); err != nil {
			log.Printf("[watcher] import %s: %v", path, err)
			return
		}
		log.Printf("[watcher] imported %s", path)
	})
}
