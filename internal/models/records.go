package models

import (
	"sort"
	"time"
)

// Record is the plain-field map shape every aggregate is persisted as.
type Record = map[string]interface{}

func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func getString(r Record, key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

func getBool(r Record, key string) bool {
	b, _ := r[key].(bool)
	return b
}

func getBoolOr(r Record, key string, def bool) bool {
	if b, ok := r[key].(bool); ok {
		return b
	}
	return def
}

func getInt64(r Record, key string) int64 {
	return toInt64(r[key])
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}

func getTime(r Record, key string) time.Time {
	return FromMillis(getInt64(r, key))
}

func getRecord(r Record, key string) Record {
	if m, ok := r[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// getStringList accepts both list and index-keyed map encodings.
func getStringList(r Record, key string) []string {
	switch v := r[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(v))
		for _, k := range keys {
			if s, ok := v[k].(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func stringList(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func getInt64Map(r Record, key string) map[string]int64 {
	out := map[string]int64{}
	for k, v := range getRecord(r, key) {
		out[k] = toInt64(v)
	}
	return out
}

func getBoolMap(r Record, key string) map[string]bool {
	out := map[string]bool{}
	for k, v := range getRecord(r, key) {
		if b, ok := v.(bool); ok {
			out[k] = b
		}
	}
	return out
}

func int64Map(m map[string]int64) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func boolMap(m map[string]bool) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contains(list []string, id string) bool {
	return indexOf(list, id) >= 0
}

func indexOf(list []string, id string) int {
	for i, item := range list {
		if item == id {
			return i
		}
	}
	return -1
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != id {
			out = append(out, item)
		}
	}
	return out
}
