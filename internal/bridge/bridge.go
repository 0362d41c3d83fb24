package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	storage "github.com/practice-sem-2/group-chat-service/internal/storages"
	"github.com/sirupsen/logrus"
)

var (
	ErrTimeout  = errors.New("store did not answer in time")
	ErrNotFound = errors.New("nothing is stored at path")
)

type Timeouts struct {
	Exists     time.Duration
	Single     time.Duration
	FanOut     time.Duration
	LongFanOut time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Exists:     5 * time.Second,
		Single:     10 * time.Second,
		FanOut:     15 * time.Second,
		LongFanOut: 30 * time.Second,
	}
}

// Bridge turns the store's callback API into blocking calls with bounded
// waits. A timed-out wait is abandoned; the store operation is not
// retracted and may still apply later.
type Bridge struct {
	store    storage.Client
	timeouts Timeouts
	logger   *logrus.Logger
}

func New(store storage.Client, timeouts Timeouts, logger *logrus.Logger) *Bridge {
	def := DefaultTimeouts()
	if timeouts.Exists <= 0 {
		timeouts.Exists = def.Exists
	}
	if timeouts.Single <= 0 {
		timeouts.Single = def.Single
	}
	if timeouts.FanOut <= 0 {
		timeouts.FanOut = def.FanOut
	}
	if timeouts.LongFanOut <= 0 {
		timeouts.LongFanOut = def.LongFanOut
	}
	return &Bridge{
		store:    store,
		timeouts: timeouts,
		logger:   logger,
	}
}

func (b *Bridge) Timeouts() Timeouts {
	return b.timeouts
}

func (b *Bridge) Store() storage.Client {
	return b.store
}

func (b *Bridge) read(ctx context.Context, path string, timeout time.Duration) (storage.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f := NewFuture[storage.Snapshot]()
	b.store.ReadOnce(path, func(s storage.Snapshot) {
		f.Complete(s)
	})

	snap, ok := f.Wait(ctx)
	if !ok {
		b.logger.WithField("path", path).WithField("timeout", timeout).Warn("read timed out")
		return storage.Snapshot{}, ErrTimeout
	}
	return snap, snap.Err
}

// Exists checks a path with the short existence timeout.
func (b *Bridge) Exists(ctx context.Context, path string) (bool, error) {
	snap, err := b.read(ctx, path, b.timeouts.Exists)
	if err != nil {
		return false, err
	}
	return snap.Exists, nil
}

// Read returns whatever is at path; a missing value is not an error.
func (b *Bridge) Read(ctx context.Context, path string) (storage.Snapshot, error) {
	return b.read(ctx, path, b.timeouts.Single)
}

// ReadRecord returns the map stored at path, or ErrNotFound.
func (b *Bridge) ReadRecord(ctx context.Context, path string) (map[string]interface{}, error) {
	snap, err := b.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	r := snap.Record()
	if !snap.Exists || r == nil {
		return nil, ErrNotFound
	}
	return r, nil
}

// ReadMany reads every path concurrently, waiting at most timeout for all
// of them. Reads still pending at the deadline come back with ErrTimeout.
func (b *Bridge) ReadMany(ctx context.Context, timeout time.Duration, paths ...string) []storage.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	results := make([]storage.Snapshot, len(paths))
	finished := make([]bool, len(paths))
	latch := NewLatch(len(paths))

	for i, p := range paths {
		i := i
		b.store.ReadOnce(p, func(s storage.Snapshot) {
			mu.Lock()
			if !finished[i] {
				results[i] = s
				finished[i] = true
			}
			mu.Unlock()
			latch.CountDown()
		})
	}

	if !latch.Wait(ctx) {
		b.logger.WithField("pending", latch.Count()).WithField("timeout", timeout).Warn("fan-out read timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]storage.Snapshot, len(paths))
	for i := range paths {
		if finished[i] {
			out[i] = results[i]
		} else {
			out[i] = storage.Snapshot{Key: paths[i], Err: ErrTimeout}
		}
		// Late completions must not touch what the caller now owns.
		finished[i] = true
	}
	return out
}

func (b *Bridge) Query(ctx context.Context, path, field string, value interface{}) ([]storage.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeouts.Single)
	defer cancel()

	type result struct {
		snaps []storage.Snapshot
		err   error
	}
	f := NewFuture[result]()
	b.store.QueryByChildEquals(path, field, value, func(snaps []storage.Snapshot, err error) {
		f.Complete(result{snaps: snaps, err: err})
	})

	res, ok := f.Wait(ctx)
	if !ok {
		b.logger.WithField("path", path).WithField("field", field).Warn("query timed out")
		return nil, ErrTimeout
	}
	return res.snaps, res.err
}

// Op is one asynchronous store operation reporting through done.
type Op func(done func(error))

func (b *Bridge) WriteOp(path string, value interface{}) Op {
	return func(done func(error)) { b.store.Write(path, value, done) }
}

func (b *Bridge) UpdateOp(path string, fields map[string]interface{}) Op {
	return func(done func(error)) { b.store.UpdateFields(path, fields, done) }
}

func (b *Bridge) DeleteOp(path string) Op {
	return func(done func(error)) { b.store.Delete(path, done) }
}

func (b *Bridge) await(ctx context.Context, timeout time.Duration, op Op) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f := NewFuture[error]()
	op(func(err error) { f.Complete(err) })

	err, ok := f.Wait(ctx)
	if !ok {
		return ErrTimeout
	}
	return err
}

func (b *Bridge) Write(ctx context.Context, path string, value interface{}) error {
	return b.await(ctx, b.timeouts.Single, b.WriteOp(path, value))
}

func (b *Bridge) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	return b.await(ctx, b.timeouts.Single, b.UpdateOp(path, fields))
}

func (b *Bridge) Delete(ctx context.Context, path string) error {
	return b.await(ctx, b.timeouts.Single, b.DeleteOp(path))
}

// FanOut starts every op at once and waits for all of them through a shared
// countdown. The result holds one error per op, ErrTimeout for those still
// pending when the wait ended.
func (b *Bridge) FanOut(ctx context.Context, timeout time.Duration, ops ...Op) []error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	errs := make([]error, len(ops))
	finished := make([]bool, len(ops))
	latch := NewLatch(len(ops))

	for i, op := range ops {
		i := i
		op(func(err error) {
			mu.Lock()
			if !finished[i] {
				errs[i] = err
				finished[i] = true
			}
			mu.Unlock()
			latch.CountDown()
		})
	}

	if !latch.Wait(ctx) {
		b.logger.WithField("pending", latch.Count()).WithField("timeout", timeout).Warn("fan-out wait timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]error, len(ops))
	for i := range ops {
		if finished[i] {
			out[i] = errs[i]
		} else {
			out[i] = ErrTimeout
		}
		finished[i] = true
	}
	return out
}
