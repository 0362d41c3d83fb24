package storage

import (
	"strings"
	"sync"
)

// Hub fans change notifications out to subscribers. Deliveries to one
// subscriber are ordered and never run on the writer's goroutine.
type Hub struct {
	mu       sync.Mutex
	next     int
	watchers map[int]*watcher
}

type watcher struct {
	hub  *Hub
	id   int
	path string
	fn   func(Snapshot)

	mu        sync.Mutex
	pending   []Snapshot
	draining  bool
	cancelled bool
}

func NewHub() *Hub {
	return &Hub{watchers: map[int]*watcher{}}
}

func (h *Hub) add(path string, fn func(Snapshot)) *watcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	w := &watcher{hub: h, id: h.next, path: strings.Trim(path, "/"), fn: fn}
	h.watchers[w.id] = w
	return w
}

// affected returns the subscribers whose path is at, above or below changed.
func (h *Hub) affected(changed string) []*watcher {
	changed = strings.Trim(changed, "/")
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*watcher
	for _, w := range h.watchers {
		if related(w.path, changed) {
			out = append(out, w)
		}
	}
	return out
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func (w *watcher) Cancel() {
	w.hub.mu.Lock()
	delete(w.hub.watchers, w.id)
	w.hub.mu.Unlock()

	w.mu.Lock()
	w.cancelled = true
	w.pending = nil
	w.mu.Unlock()
}

func (w *watcher) deliver(s Snapshot) {
	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, s)
	if w.draining {
		w.mu.Unlock()
		return
	}
	w.draining = true
	w.mu.Unlock()

	go w.drain()
}

func (w *watcher) drain() {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 || w.cancelled {
			w.draining = false
			w.mu.Unlock()
			return
		}
		s := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		w.fn(s)
	}
}
