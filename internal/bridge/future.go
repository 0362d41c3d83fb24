package bridge

import (
	"context"
	"sync"
)

// Future is a single-assignment slot filled from another goroutine. The
// first Complete wins; later ones are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) Complete(v T) bool {
	completed := false
	f.once.Do(func() {
		f.value = v
		close(f.done)
		completed = true
	})
	return completed
}

// Wait returns the value, or false if ctx ends first.
func (f *Future[T]) Wait(ctx context.Context) (T, bool) {
	select {
	case <-f.done:
		return f.value, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Latch releases waiters once CountDown has been called n times.
type Latch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func NewLatch(n int) *Latch {
	l := &Latch{count: n, done: make(chan struct{})}
	if n <= 0 {
		close(l.done)
	}
	return l
}

func (l *Latch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count <= 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

func (l *Latch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Latch) Wait(ctx context.Context) bool {
	select {
	case <-l.done:
		return true
	case <-ctx.Done():
		return false
	}
}
