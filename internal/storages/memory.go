package storage

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MemoryClient keeps the whole tree in process memory. Operations are
// applied and completed on their own goroutines, optionally after an
// injected latency, so callers observe the same asynchrony as with a
// remote store. Faults can be injected per path prefix.
type MemoryClient struct {
	logger *logrus.Logger
	hub    *Hub

	mu   sync.RWMutex
	root map[string]interface{}

	cfgMu   sync.RWMutex
	latency time.Duration
	delays  map[string]time.Duration
	faults  map[string]error

	inflight sync.WaitGroup
}

func NewMemoryClient(logger *logrus.Logger) *MemoryClient {
	return &MemoryClient{
		logger: logger,
		hub:    NewHub(),
		root:   map[string]interface{}{},
		delays: map[string]time.Duration{},
		faults: map[string]error{},
	}
}

// SetLatency delays every operation by d before it is applied.
func (c *MemoryClient) SetLatency(d time.Duration) {
	c.cfgMu.Lock()
	c.latency = d
	c.cfgMu.Unlock()
}

// DelayPath delays operations touching prefix by d; zero clears it.
func (c *MemoryClient) DelayPath(prefix string, d time.Duration) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	prefix = strings.Trim(prefix, "/")
	if d == 0 {
		delete(c.delays, prefix)
		return
	}
	c.delays[prefix] = d
}

// FailPath makes every operation touching prefix fail with err; a nil err
// clears the fault.
func (c *MemoryClient) FailPath(prefix string, err error) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	prefix = strings.Trim(prefix, "/")
	if err == nil {
		delete(c.faults, prefix)
		return
	}
	c.faults[prefix] = err
}

// Seed synchronously stores a value, bypassing latency and faults.
func (c *MemoryClient) Seed(path string, value interface{}) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	setAt(c.root, segments, normalized)
	c.mu.Unlock()
	c.notify(path)
	return nil
}

// Peek synchronously returns a copy of the value at path.
func (c *MemoryClient) Peek(path string) (interface{}, bool) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := getAt(c.root, segments)
	return deepCopy(v), ok
}

// Wait blocks until every operation issued so far has completed.
func (c *MemoryClient) Wait() {
	c.inflight.Wait()
}

func (c *MemoryClient) fault(paths ...string) error {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	for _, p := range paths {
		p = strings.Trim(p, "/")
		for prefix, err := range c.faults {
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return err
			}
		}
	}
	return nil
}

func (c *MemoryClient) delay(paths ...string) time.Duration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	d := c.latency
	for _, p := range paths {
		p = strings.Trim(p, "/")
		for prefix, extra := range c.delays {
			if (p == prefix || strings.HasPrefix(p, prefix+"/")) && extra > d {
				d = extra
			}
		}
	}
	return d
}

func (c *MemoryClient) dispatch(paths []string, fn func()) {
	d := c.delay(paths...)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if d > 0 {
			time.Sleep(d)
		}
		fn()
	}()
}

func (c *MemoryClient) snapshot(path string) Snapshot {
	segments, err := SplitPath(path)
	if err != nil {
		return Snapshot{Key: lastSegment(path), Err: err}
	}
	c.mu.RLock()
	v, ok := getAt(c.root, segments)
	v = deepCopy(v)
	c.mu.RUnlock()
	return Snapshot{Key: segments[len(segments)-1], Value: v, Exists: ok}
}

func (c *MemoryClient) notify(paths ...string) {
	seen := map[*watcher]bool{}
	for _, p := range paths {
		for _, w := range c.hub.affected(p) {
			if seen[w] {
				continue
			}
			seen[w] = true
			w.deliver(c.snapshot(w.path))
		}
	}
}

func (c *MemoryClient) ReadOnce(path string, cb func(Snapshot)) {
	c.dispatch([]string{path}, func() {
		if err := c.fault(path); err != nil {
			cb(Snapshot{Key: lastSegment(path), Err: err})
			return
		}
		cb(c.snapshot(path))
	})
}

func (c *MemoryClient) Subscribe(path string, onChange func(Snapshot)) Subscription {
	w := c.hub.add(path, onChange)
	c.dispatch([]string{path}, func() {
		w.deliver(c.snapshot(path))
	})
	return w
}

func (c *MemoryClient) Write(path string, value interface{}, done func(error)) {
	c.dispatch([]string{path}, func() {
		complete(done, c.write(path, value))
	})
}

func (c *MemoryClient) write(path string, value interface{}) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	if err := c.fault(path); err != nil {
		return err
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	setAt(c.root, segments, normalized)
	c.mu.Unlock()

	c.logger.WithField("path", path).Trace("memory store write applied")
	c.notify(path)
	return nil
}

func (c *MemoryClient) UpdateFields(path string, fields map[string]interface{}, done func(error)) {
	paths := make([]string, 0, len(fields))
	for k := range fields {
		paths = append(paths, JoinPath(strings.Trim(path, "/"), k))
	}
	c.dispatch(append(paths, path), func() {
		complete(done, c.update(path, fields))
	})
}

func (c *MemoryClient) update(path string, fields map[string]interface{}) error {
	type change struct {
		path     string
		segments []string
		value    interface{}
	}
	if _, err := SplitPath(path); err != nil {
		return err
	}
	changes := make([]change, 0, len(fields))
	for k, v := range fields {
		full := JoinPath(strings.Trim(path, "/"), k)
		segments, err := SplitPath(full)
		if err != nil {
			return err
		}
		if err := c.fault(full); err != nil {
			return err
		}
		normalized, err := Normalize(v)
		if err != nil {
			return err
		}
		changes = append(changes, change{path: full, segments: segments, value: normalized})
	}

	c.mu.Lock()
	for _, ch := range changes {
		setAt(c.root, ch.segments, ch.value)
	}
	c.mu.Unlock()

	changed := make([]string, len(changes))
	for i, ch := range changes {
		changed[i] = ch.path
	}
	c.notify(changed...)
	return nil
}

func (c *MemoryClient) QueryByChildEquals(path, field string, value interface{}, cb func([]Snapshot, error)) {
	c.dispatch([]string{path}, func() {
		snaps, err := c.query(path, field, value)
		cb(snaps, err)
	})
}

func (c *MemoryClient) query(path, field string, value interface{}) ([]Snapshot, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if err := c.fault(path); err != nil {
		return nil, err
	}
	want, err := Normalize(value)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	node, _ := getAt(c.root, segments)
	children, _ := node.(map[string]interface{})

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sortStrings(keys)

	out := make([]Snapshot, 0)
	for _, k := range keys {
		child, ok := children[k].(map[string]interface{})
		if !ok {
			continue
		}
		if valuesEqual(child[field], want) {
			out = append(out, Snapshot{Key: k, Value: deepCopy(child), Exists: true})
		}
	}
	return out, nil
}

func (c *MemoryClient) PushNewKey(path string) string {
	if _, err := SplitPath(path); err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("push key requested for invalid path")
	}
	return NewPushKey()
}

func (c *MemoryClient) Delete(path string, done func(error)) {
	c.Write(path, nil, done)
}

func complete(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
