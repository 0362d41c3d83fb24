package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

var ErrConcurrentWrite = errors.New("path was written concurrently, retry the operation")

const TreeNodesPrimaryKey = "tree_nodes_pkey"

type PostgresConfig struct {
	Workers   int
	OpTimeout time.Duration
}

// PostgresClient implements Client over a tree_nodes table holding one row
// per leaf. Maps are flattened into their leaves; lists and scalars are
// stored whole as jsonb. Each operation is a single transaction executed
// on a bounded pool of worker goroutines.
type PostgresClient struct {
	db     *sqlx.DB
	cfg    PostgresConfig
	logger *logrus.Logger
	hub    *Hub

	mu     sync.RWMutex
	closed bool
	jobs   chan func()
	wg     sync.WaitGroup
}

func NewPostgresClient(db *sqlx.DB, cfg PostgresConfig, logger *logrus.Logger) *PostgresClient {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 30 * time.Second
	}
	c := &PostgresClient{
		db:     db,
		cfg:    cfg,
		logger: logger,
		hub:    NewHub(),
		jobs:   make(chan func(), cfg.Workers*16),
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.work()
	}
	return c
}

func (c *PostgresClient) work() {
	defer c.wg.Done()
	for job := range c.jobs {
		job()
	}
}

// Close stops accepting operations and waits for queued ones to finish.
func (c *PostgresClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.jobs)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *PostgresClient) dispatch(job func(ctx context.Context), onClosed func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		go onClosed()
		return
	}
	c.jobs <- func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
		defer cancel()
		job(ctx)
	}
}

type leaf struct {
	Path   string
	Parent string
	Name   string
	Depth  int
	Value  []byte
}

func flatten(segments []string, value interface{}, out []leaf) ([]leaf, error) {
	if m, ok := value.(map[string]interface{}); ok {
		for k, child := range m {
			if k == "" || strings.ContainsAny(k, forbidden+"/") {
				return nil, fmt.Errorf("%w: key %q", ErrInvalidPath, k)
			}
			var err error
			out, err = flatten(append(append([]string{}, segments...), k), child, out)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return append(out, leaf{
		Path:   strings.Join(segments, "/"),
		Parent: strings.Join(segments[:len(segments)-1], "/"),
		Name:   segments[len(segments)-1],
		Depth:  len(segments),
		Value:  b,
	}), nil
}

type nodeRow struct {
	Path  string `db:"path"`
	Value []byte `db:"value"`
}

func subtree(path string) sq.Sqlizer {
	return sq.Or{
		sq.Eq{"path": path},
		sq.Expr("starts_with(path, ?)", path+"/"),
	}
}

func (c *PostgresClient) read(ctx context.Context, scope Scope, path string) (interface{}, bool, error) {
	query, args, err := sq.Select("path", "value").
		From("tree_nodes").
		Where(subtree(path)).
		OrderBy("path").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, false, err
	}

	rows := make([]nodeRow, 0)
	if err := scope.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	root := map[string]interface{}{}
	for _, row := range rows {
		var v interface{}
		if err := json.Unmarshal(row.Value, &v); err != nil {
			return nil, false, err
		}
		if row.Path == path {
			return v, true, nil
		}
		rel := strings.Split(strings.TrimPrefix(row.Path, path+"/"), "/")
		setAt(root, rel, v)
	}
	return root, true, nil
}

func (c *PostgresClient) remove(ctx context.Context, scope Scope, segments []string) error {
	path := strings.Join(segments, "/")
	ancestors := make([]string, 0, len(segments))
	for i := 1; i < len(segments); i++ {
		ancestors = append(ancestors, strings.Join(segments[:i], "/"))
	}
	where := sq.Or{subtree(path)}
	if len(ancestors) > 0 {
		where = append(where, sq.Eq{"path": ancestors})
	}
	query, args, err := sq.Delete("tree_nodes").
		Where(where).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	_, err = scope.ExecContext(ctx, query, args...)
	return err
}

func (c *PostgresClient) set(ctx context.Context, scope Scope, path string, value interface{}) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	if err := c.remove(ctx, scope, segments); err != nil {
		return err
	}
	if normalized == nil {
		return nil
	}

	leaves, err := flatten(segments, normalized, nil)
	if err != nil {
		return err
	}
	builder := sq.Insert("tree_nodes").
		Columns("path", "parent", "name", "depth", "value").
		PlaceholderFormat(sq.Dollar)
	for _, l := range leaves {
		builder = builder.Values(l.Path, l.Parent, l.Name, l.Depth, sq.Expr("?::jsonb", string(l.Value)))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	_, err = scope.ExecContext(ctx, query, args...)
	if GetPgxConstraintName(err) == TreeNodesPrimaryKey {
		return ErrConcurrentWrite
	}
	return err
}

func (c *PostgresClient) notify(paths ...string) {
	seen := map[*watcher]bool{}
	for _, p := range paths {
		for _, w := range c.hub.affected(p) {
			if seen[w] {
				continue
			}
			seen[w] = true
			// Reads for notifications bypass the pool: a worker blocked on
			// a full queue would otherwise wait on itself.
			go func(w *watcher) {
				ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
				defer cancel()
				w.deliver(c.snapshot(ctx, w.path))
			}(w)
		}
	}
}

func (c *PostgresClient) snapshot(ctx context.Context, path string) Snapshot {
	if _, err := SplitPath(path); err != nil {
		return Snapshot{Key: lastSegment(path), Err: err}
	}
	path = strings.Trim(path, "/")
	v, ok, err := c.read(ctx, c.db, path)
	return Snapshot{Key: lastSegment(path), Value: v, Exists: ok, Err: err}
}

func (c *PostgresClient) ReadOnce(path string, cb func(Snapshot)) {
	c.dispatch(func(ctx context.Context) {
		cb(c.snapshot(ctx, path))
	}, func() {
		cb(Snapshot{Key: lastSegment(path), Err: ErrClosed})
	})
}

func (c *PostgresClient) Subscribe(path string, onChange func(Snapshot)) Subscription {
	w := c.hub.add(path, onChange)
	c.dispatch(func(ctx context.Context) {
		w.deliver(c.snapshot(ctx, path))
	}, func() {
		w.deliver(Snapshot{Key: lastSegment(path), Err: ErrClosed})
	})
	return w
}

func (c *PostgresClient) Write(path string, value interface{}, done func(error)) {
	c.dispatch(func(ctx context.Context) {
		err := Atomic(ctx, c.db, func(scope Scope) error {
			return c.set(ctx, scope, strings.Trim(path, "/"), value)
		})
		if err == nil {
			c.notify(path)
		} else {
			c.logger.WithError(err).WithField("path", path).Debug("postgres store write failed")
		}
		complete(done, err)
	}, func() {
		complete(done, ErrClosed)
	})
}

func (c *PostgresClient) UpdateFields(path string, fields map[string]interface{}, done func(error)) {
	c.dispatch(func(ctx context.Context) {
		base := strings.Trim(path, "/")
		if _, err := SplitPath(base); err != nil {
			complete(done, err)
			return
		}
		changed := make([]string, 0, len(fields))
		err := Atomic(ctx, c.db, func(scope Scope) error {
			for k, v := range fields {
				full := JoinPath(base, strings.Trim(k, "/"))
				if err := c.set(ctx, scope, full, v); err != nil {
					return err
				}
				changed = append(changed, full)
			}
			return nil
		})
		if err == nil {
			c.notify(changed...)
		} else {
			c.logger.WithError(err).WithField("path", path).Debug("postgres store update failed")
		}
		complete(done, err)
	}, func() {
		complete(done, ErrClosed)
	})
}

func (c *PostgresClient) QueryByChildEquals(path, field string, value interface{}, cb func([]Snapshot, error)) {
	c.dispatch(func(ctx context.Context) {
		snaps, err := c.query(ctx, path, field, value)
		cb(snaps, err)
	}, func() {
		cb(nil, ErrClosed)
	})
}

func (c *PostgresClient) query(ctx context.Context, path, field string, value interface{}) ([]Snapshot, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	base := strings.Join(segments, "/")
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	query, args, err := sq.Select("parent").
		From("tree_nodes").
		Where(sq.Eq{"name": field, "depth": len(segments) + 2}).
		Where(sq.Expr("starts_with(parent, ?)", base+"/")).
		Where(sq.Expr("value = ?::jsonb", string(want))).
		OrderBy("parent").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	parents := make([]string, 0)
	if err := c.db.SelectContext(ctx, &parents, query, args...); err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(parents))
	for _, p := range parents {
		v, ok, err := c.read(ctx, c.db, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Snapshot{Key: lastSegment(p), Value: v, Exists: true})
		}
	}
	return out, nil
}

func (c *PostgresClient) PushNewKey(path string) string {
	if _, err := SplitPath(path); err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("push key requested for invalid path")
	}
	return NewPushKey()
}

func (c *PostgresClient) Delete(path string, done func(error)) {
	c.Write(path, nil, done)
}
