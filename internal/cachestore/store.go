package cachestore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/trackdeck/trackdeck/internal/clock"
)

// StoreConfig configures the Store. DefaultTTL and Enabled are closures
// for hot-reload from RuntimeConfig.
type StoreConfig struct {
	Clock      clock.Clock
	DefaultTTL func() time.Duration
	Enabled    func() bool

	// Mirror is used only for the synchronous wipe in Clear. Optional;
	// nil in tests without persistence. Batch writes go through the
	// flush worker instead.
	Mirror *MirrorRepo
}

// Store is the in-memory cache map plus dirty-set bookkeeping for the
// durable mirror. The in-memory copy is authoritative for the current
// process lifetime; mirror writes are asynchronous and their failures
// never surface to readers.
type Store struct {
	entries *xsync.Map[string, Entry]
	dirty   *DirtySet
	clk     clock.Clock
	mirror  *MirrorRepo

	defaultTTL func() time.Duration
	enabled    func() bool
}

// Stats is a point-in-time snapshot for the status API.
type Stats struct {
	Entries      int  `json:"entries"`
	DirtyEntries int  `json:"dirty_entries"`
	Enabled      bool `json:"enabled"`
}

// NewStore creates an empty Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Clock == nil {
		panic("cachestore: NewStore requires non-nil Clock")
	}
	if cfg.DefaultTTL == nil {
		panic("cachestore: NewStore requires non-nil DefaultTTL")
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	return &Store{
		entries:    xsync.NewMap[string, Entry](),
		dirty:      NewDirtySet(),
		clk:        cfg.Clock,
		mirror:     cfg.Mirror,
		defaultTTL: cfg.DefaultTTL,
		enabled:    cfg.Enabled,
	}
}

// Get returns the cached value for key. With allowStale false, an entry
// past its TTL is treated as absent and evicted from both tiers; with
// allowStale true the value is returned regardless of age and the caller
// is responsible for flagging staleness.
func (s *Store) Get(key string, allowStale bool) (json.RawMessage, bool) {
	if !s.enabled() {
		return nil, false
	}
	entry, ok := s.entries.Load(key)
	if !ok {
		return nil, false
	}
	if !allowStale && entry.Expired(s.clk.Now()) {
		s.entries.Delete(key)
		s.dirty.MarkDelete(key)
		return nil, false
	}
	return entry.Data, true
}

// GetEntry returns the full entry, age included, for callers that need
// to report how stale served data is.
func (s *Store) GetEntry(key string, allowStale bool) (Entry, bool) {
	if !s.enabled() {
		return Entry{}, false
	}
	entry, ok := s.entries.Load(key)
	if !ok {
		return Entry{}, false
	}
	if !allowStale && entry.Expired(s.clk.Now()) {
		s.entries.Delete(key)
		s.dirty.MarkDelete(key)
		return Entry{}, false
	}
	return entry, true
}

// Set overwrites any existing entry for key. The in-memory write is
// synchronous; the mirror copy follows on the next background flush.
// ttl <= 0 selects the configured default.
func (s *Store) Set(key string, data json.RawMessage, ttl time.Duration) {
	if !s.enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL()
	}
	s.entries.Store(key, Entry{
		Key:       key,
		Data:      data,
		WrittenAt: s.clk.Now(),
		TTL:       ttl,
	})
	s.dirty.MarkUpsert(key)
}

// Delete removes the entry for key from both tiers.
func (s *Store) Delete(key string) {
	if _, ok := s.entries.LoadAndDelete(key); ok {
		s.dirty.MarkDelete(key)
	}
}

// DeleteMatching removes every entry whose key contains substr. Used when
// a mutation invalidates a family of cached reads (e.g. everything under
// "time_entries"). Returns the number of removed entries.
func (s *Store) DeleteMatching(substr string) int {
	var keys []string
	s.entries.Range(func(key string, _ Entry) bool {
		if strings.Contains(key, substr) {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		s.Delete(key)
	}
	return len(keys)
}

// Clear removes everything from both tiers. Unlike normal writes, the
// mirror wipe is synchronous: Clear runs on logout and the previous
// session's data must not survive into the next one.
func (s *Store) Clear() error {
	s.entries.Clear()
	s.dirty.Reset()
	if s.mirror != nil {
		return s.mirror.DeleteAll()
	}
	return nil
}

// Bootstrap loads mirrored entries into the in-memory map at startup.
// Entries are loaded as-is; expiry stays lazy so stale-allowed readers
// keep their fallback data.
func (s *Store) Bootstrap(entries []Entry) {
	for _, e := range entries {
		s.entries.Store(e.Key, e)
	}
}

// Len returns the number of in-memory entries.
func (s *Store) Len() int {
	return s.entries.Size()
}

// DirtyCount returns the number of keys awaiting a mirror flush.
func (s *Store) DirtyCount() int {
	return s.dirty.Len()
}

// Snapshot returns store stats for the status API.
func (s *Store) Snapshot() Stats {
	return Stats{
		Entries:      s.entries.Size(),
		DirtyEntries: s.dirty.Len(),
		Enabled:      s.enabled(),
	}
}

// FlushDirty drains the dirty set and batch-writes it to the mirror in a
// single transaction. A key marked upsert whose entry has since vanished
// from memory is flushed as a delete. On failure the drained marks are
// merged back so no write is lost.
func (s *Store) FlushDirty(repo *MirrorRepo) error {
	drained := s.dirty.Drain()
	if len(drained) == 0 {
		return nil
	}

	var ops FlushOps
	for key, op := range drained {
		if op == OpDelete {
			ops.Deletes = append(ops.Deletes, key)
			continue
		}
		entry, ok := s.entries.Load(key)
		if !ok {
			ops.Deletes = append(ops.Deletes, key)
			continue
		}
		ops.Upserts = append(ops.Upserts, entry)
	}

	if err := repo.FlushTx(ops); err != nil {
		s.dirty.Merge(drained)
		return err
	}
	return nil
}
