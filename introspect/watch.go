package introspect

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports model-document changes under one directory. It is a
// development aid: the compiled graph stays immutable for the process
// lifetime, the watcher only tells the caller that a recompile-and-restart
// is due.
type Watcher struct {
	fw     *fsnotify.Watcher
	events chan string
	done   chan struct{}
}

// Watch starts watching dir for changes to .yaml and .yml files.
func Watch(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("morph: start model watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("morph: watch model directory: %w", err)
	}
	w := &Watcher{
		fw:     fw,
		events: make(chan string, 16),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !modelFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.events <- ev.Name:
			case <-w.done:
				return
			}
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
		}
	}
}

func modelFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// Events returns the channel of changed model file paths. The channel
// closes when the watcher stops.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
