// Package config holds the dynamic property tree a worker runs with.
//
// A Tree is a flat set of dotted keys ("debug.strand_block_size") mapped to
// string values. Trees come from three places: built-in defaults, the
// settings a coordinator sends during registration, and key=value arguments
// given on the worker command line. [Merge] layers them so that later trees
// win, which gives the override policy local CLI > coordinator > default.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// ErrInvalidKey is returned when a key is empty or malformed.
var ErrInvalidKey = errors.New("config: invalid key")

// Tree is a concurrency-safe property tree with dotted keys.
type Tree struct {
	mu    sync.RWMutex
	props map[string]string
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{props: make(map[string]string)}
}

// FromMap builds a tree from a flat map. Keys are normalized.
func FromMap(m map[string]string) *Tree {
	t := New()
	for k, v := range m {
		if nk := normalizeKey(k); nk != "" {
			t.props[nk] = v
		}
	}
	return t
}

// normalizeKey lower-cases a key and accepts "/" as a path separator, so
// "Debug/strandBlockSize" and "debug.strandblocksize" name the same entry.
func normalizeKey(k string) string {
	k = strings.TrimSpace(k)
	k = strings.ReplaceAll(k, "/", ".")
	k = strings.Trim(k, ".")
	return strings.ToLower(k)
}

// Has reports whether key is set.
func (t *Tree) Has(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.props[normalizeKey(key)]
	return ok
}

// Get returns the value of key and whether it was set.
func (t *Tree) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.props[normalizeKey(key)]
	return v, ok
}

// String returns the value of key, or def when unset.
func (t *Tree) String(key, def string) string {
	if v, ok := t.Get(key); ok {
		return v
	}
	return def
}

// Int returns the value of key as an int, or def when unset or unparsable.
func (t *Tree) Int(key string, def int) int {
	v, ok := t.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Bool returns the value of key as a bool, or def when unset or unparsable.
func (t *Tree) Bool(key string, def bool) bool {
	v, ok := t.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Set assigns value to key.
func (t *Tree) Set(key, value string) error {
	nk := normalizeKey(key)
	if nk == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	t.mu.Lock()
	t.props[nk] = value
	t.mu.Unlock()
	return nil
}

// SetInt assigns an integer value to key.
func (t *Tree) SetInt(key string, value int) error {
	return t.Set(key, strconv.Itoa(value))
}

// SetDefault assigns value to key only when key is unset. It reports
// whether the value was written.
func (t *Tree) SetDefault(key, value string) bool {
	nk := normalizeKey(key)
	if nk == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.props[nk]; ok {
		return false
	}
	t.props[nk] = value
	return true
}

// Delete removes key.
func (t *Tree) Delete(key string) {
	t.mu.Lock()
	delete(t.props, normalizeKey(key))
	t.mu.Unlock()
}

// Keys returns all keys in sorted order.
func (t *Tree) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.props))
}

// Len returns the number of keys.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.props)
}

// Map returns a copy of the tree as a flat map.
func (t *Tree) Map() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.props)
}

// Clone returns an independent copy.
func (t *Tree) Clone() *Tree {
	return &Tree{props: t.Map()}
}

// Sub returns the subtree under prefix with the prefix stripped.
func (t *Tree) Sub(prefix string) *Tree {
	p := normalizeKey(prefix) + "."
	out := New()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, v := range t.props {
		if rest, ok := strings.CutPrefix(k, p); ok {
			out.props[rest] = v
		}
	}
	return out
}

// Apply copies every entry of src into t, overwriting existing keys.
func (t *Tree) Apply(src *Tree) {
	if src == nil || src == t {
		return
	}
	entries := src.Map()
	t.mu.Lock()
	maps.Copy(t.props, entries)
	t.mu.Unlock()
}

// Merge layers trees in order of increasing precedence and returns the
// result. Nil trees are skipped.
func Merge(layers ...*Tree) *Tree {
	out := New()
	for _, l := range layers {
		out.Apply(l)
	}
	return out
}
