// Package jsonl implements the collector's on-disk row representation and
// its two writer disciplines: an atomic batch writer (write-temp + rename)
// and a line-buffered follow-mode appender (single writer per stage).
package jsonl

import (
	"encoding/json"
	"fmt"
)

// Row is a single JSONL record. The collector's events are heterogeneous
// across stages, so every stage before the merger works directly with
// this open map rather than a closed struct union; the merger is the one
// place that folds arbitrary keys into a details sub-object.
type Row map[string]interface{}

// Clone returns a shallow copy, used when a row must be mutated (e.g.
// attaching session_id) without aliasing a caller's map.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Row) GetString(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt reads a numeric field. JSON numbers decode to float64 through
// encoding/json, so this accepts both that and a native int/int64 (the
// latter occurs when a row was built in-process rather than round-tripped
// through JSON).
func (r Row) GetInt(key string) (int, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func (r Row) GetBool(key string) (bool, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetStringSlice accepts either a JSON array of strings or a single bare
// string (used by dns_names, which the rule engine's dns_suffix/dns_regex
// predicates accept in either shape).
func (r Row) GetStringSlice(key string) ([]string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	switch x := v.(type) {
	case []string:
		return x, true
	case string:
		return []string{x}, true
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// GetMap reads a nested object field (net/dns/unix sub-objects).
func (r Row) GetMap(key string) (map[string]interface{}, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// Encode renders the row as compact single-line JSON terminated by \n.
func Encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonl: encode: %w", err)
	}
	b = append(b, '\n')
	return b, nil
}

// Decode parses one line into a Row. Malformed lines are the caller's to
// skip and continue past.
func Decode(line []byte) (Row, error) {
	var r Row
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, err
	}
	return r, nil
}
