package stream

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher surfaces filesystem change notifications for transcript files
// under a set of source roots. It watches directories recursively and adds
// new subdirectories as they appear, so freshly created sessions are picked
// up without a rescan.
type Watcher struct {
	fsw     *fsnotify.Watcher
	changes chan string
	done    chan struct{}
}

// NewWatcher starts watching the given root directories. Roots that do not
// exist yet are skipped; callers typically pair the watcher with a slow
// periodic rescan to cover them.
func NewWatcher(roots []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		changes: make(chan string, 256),
		done:    make(chan struct{}),
	}
	for _, root := range roots {
		w.addTree(root)
	}
	go w.loop()
	return w, nil
}

// Changes delivers paths of transcript files that were written or created.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Close stops the watcher and closes the changes channel.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	defer close(w.changes)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watch errors are transient; the periodic rescan covers gaps.
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addTree(ev.Name)
			return
		}
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !isTranscript(ev.Name) {
		return
	}
	select {
	case w.changes <- ev.Name:
	default:
		// Consumer is behind; the poll loop will catch the change.
	}
}

// addTree registers a directory and everything under it.
func (w *Watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = w.fsw.Add(path)
		}
		return nil
	})
}

func isTranscript(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json":
		return true
	}
	return false
}
