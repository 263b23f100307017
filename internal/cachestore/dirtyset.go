package cachestore

import "sync"

// DirtyOp represents the type of pending mirror operation for a key.
type DirtyOp int

const (
	// OpUpsert marks a key for upsert; the value is read from the
	// in-memory map at flush time.
	OpUpsert DirtyOp = iota
	// OpDelete marks a key for deletion from the mirror.
	OpDelete
)

// DirtySet tracks keys whose mirror copy is behind the in-memory map.
// Only keys are stored; values are read from memory at flush time, so a
// key rewritten ten times between flushes costs one mirror write.
// Thread-safe via mutex; Drain uses map-swap for a stable snapshot.
type DirtySet struct {
	mu sync.Mutex
	m  map[string]DirtyOp
}

// NewDirtySet creates an empty DirtySet.
func NewDirtySet() *DirtySet {
	return &DirtySet{m: make(map[string]DirtyOp)}
}

// MarkUpsert marks a key for upsert.
func (d *DirtySet) MarkUpsert(key string) {
	d.mu.Lock()
	d.m[key] = OpUpsert
	d.mu.Unlock()
}

// MarkDelete marks a key for deletion.
func (d *DirtySet) MarkDelete(key string) {
	d.mu.Lock()
	d.m[key] = OpDelete
	d.mu.Unlock()
}

// Drain atomically swaps the internal map with a fresh one and returns
// the old map as a stable snapshot.
func (d *DirtySet) Drain() map[string]DirtyOp {
	d.mu.Lock()
	old := d.m
	d.m = make(map[string]DirtyOp, len(old)/2)
	d.mu.Unlock()
	return old
}

// Merge restores a previously drained snapshot after a failed flush.
// Keys re-dirtied since the drain keep their newer mark.
func (d *DirtySet) Merge(old map[string]DirtyOp) {
	d.mu.Lock()
	for k, v := range old {
		if _, exists := d.m[k]; !exists {
			d.m[k] = v
		}
	}
	d.mu.Unlock()
}

// Reset discards all pending marks. Used by Clear, where the mirror is
// wiped synchronously and pending marks would resurrect deleted rows.
func (d *DirtySet) Reset() {
	d.mu.Lock()
	d.m = make(map[string]DirtyOp)
	d.mu.Unlock()
}

// Len returns the current number of dirty entries.
func (d *DirtySet) Len() int {
	d.mu.Lock()
	n := len(d.m)
	d.mu.Unlock()
	return n
}
