package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath  = errors.New("path is empty or contains forbidden characters")
	ErrInvalidValue = errors.New("value can't be represented in the store")
	ErrClosed       = errors.New("store client is closed")
)

// Snapshot is the value found at a path at the moment it was read.
type Snapshot struct {
	Key    string
	Value  interface{}
	Exists bool
	Err    error
}

// Record returns the value as a plain-field map, or nil.
func (s Snapshot) Record() map[string]interface{} {
	if m, ok := s.Value.(map[string]interface{}); ok {
		return m
	}
	return nil
}

// Keys returns the child keys of a map value in ascending order.
func (s Snapshot) Keys() []string {
	m := s.Record()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

type Subscription interface {
	Cancel()
}

// Client is an asynchronous hierarchical key-value store. Every completion
// is delivered on a goroutine owned by the client, never on the caller's.
type Client interface {
	ReadOnce(path string, cb func(Snapshot))
	Subscribe(path string, onChange func(Snapshot)) Subscription
	Write(path string, value interface{}, done func(error))
	UpdateFields(path string, fields map[string]interface{}, done func(error))
	QueryByChildEquals(path, field string, value interface{}, cb func([]Snapshot, error))
	PushNewKey(path string) string
	Delete(path string, done func(error))
}

var forbidden = ".#$[]"

// SplitPath validates a slash separated path and returns its segments.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	segments := strings.Split(trimmed, "/")
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, forbidden) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segments, nil
}

func JoinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

func lastSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// Normalize converts a value into the JSON-decoded shape both backends
// hand back to readers.
func Normalize(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return prune(out), nil
}

// prune drops empty maps, which the store treats as absent nodes.
func prune(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	for k, child := range m {
		child = prune(child)
		if child == nil {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
