package netlist

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the netlist when the board file changes on disk,
// with debouncing so editors that write in bursts trigger one reload.
type Watcher struct {
	debounce time.Duration
	onReload func()

	watcher *fsnotify.Watcher
	done    chan struct{}
	timer   *time.Timer
	mu      sync.Mutex
	closed  bool
}

// Watch starts watching the board file backing n. onReload runs after
// each successful reload (nil is allowed).
func Watch(n *Netlist, debounce time.Duration, onReload func()) (*Watcher, error) {
	if n.path == "" {
		return nil, fmt.Errorf("netlist has no backing file")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(n.path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", n.path, err)
	}

	w := &Watcher{
		debounce: debounce,
		onReload: onReload,
		watcher:  fsw,
		done:     make(chan struct{}),
	}

	go w.loop(n)
	return w, nil
}

func (w *Watcher) loop(n *Netlist) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.scheduleReload(n)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("netlist watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload(n *Netlist) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := n.Reload(); err != nil {
			log.Printf("netlist reload failed: %v", err)
			return
		}
		if w.onReload != nil {
			w.onReload()
		}
	})
}

// Close stops watching.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	w.watcher.Close()
}
