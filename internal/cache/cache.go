// Package cache implements the chunk data cache manager (§4.F): a bounded
// pool of recently touched chunk payloads that absorbs read-modify-write
// traffic on partially written chunks and lets the garbage collector pin
// chunks it is copying forward.
package cache

import (
	"fmt"
	"log/slog"

	"github.com/nandfs/yaffs2go/internal/logging"
)

// Entry is one cached chunk's payload plus the bookkeeping needed to pick
// an eviction victim and to flush dirty data before reuse.
type Entry struct {
	ObjID   uint32
	ChunkID uint32
	Dirty   bool
	NBytes  int
	LastUse uint64
	Locked  bool
	Data    []byte
}

// key identifies a cached chunk by the (object, logical chunk) pair it
// holds, per §4.F.
type key struct {
	objID   uint32
	chunkID uint32
}

// Flusher writes a dirty entry back through the normal allocator/log path.
// Supplied by internal/fs, since the cache package itself has no notion of
// the allocator or tag codec.
type Flusher func(e *Entry) error

// Manager is the bounded chunk cache. It is not safe for concurrent use
// without the caller's gross lock, matching the rest of the engine's
// single-writer model.
type Manager struct {
	log      *slog.Logger
	capacity int
	clock    uint64
	bypassAligned bool
	entries  map[key]*Entry
	flush    Flusher
}

// NewManager creates a cache manager holding up to capacity entries.
// bypassAligned mirrors the `cache-bypass-aligned` mount option: writes
// that exactly fill a chunk skip the cache and go straight to flash.
func NewManager(capacity int, bypassAligned bool, flush Flusher, logger *slog.Logger) *Manager {
	return &Manager{
		log:           logging.Scoped(logger, "cache"),
		capacity:      capacity,
		bypassAligned: bypassAligned,
		entries:       make(map[key]*Entry),
		flush:         flush,
	}
}

// BypassAligned reports whether an nBytes-sized write at the given offset
// within a chunk of size chunkSize should skip the cache entirely.
func (m *Manager) BypassAligned(offset int, nBytes, chunkSize int) bool {
	return m.bypassAligned && offset == 0 && nBytes == chunkSize
}

func (m *Manager) touch(e *Entry) {
	m.clock++
	e.LastUse = m.clock
}

// Get returns the cached entry for (objID, chunkID), if present.
func (m *Manager) Get(objID, chunkID uint32) (*Entry, bool) {
	e, ok := m.entries[key{objID, chunkID}]
	if ok {
		m.touch(e)
	}
	return e, ok
}

// Put inserts or replaces the cache entry for (objID, chunkID), evicting an
// unlocked victim if the manager is at capacity.
func (m *Manager) Put(objID, chunkID uint32, data []byte, dirty bool) (*Entry, error) {
	k := key{objID, chunkID}
	if e, ok := m.entries[k]; ok {
		e.Data = data
		e.NBytes = len(data)
		e.Dirty = e.Dirty || dirty
		m.touch(e)
		return e, nil
	}
	if len(m.entries) >= m.capacity {
		if err := m.evictOne(); err != nil {
			return nil, err
		}
	}
	e := &Entry{ObjID: objID, ChunkID: chunkID, Data: data, NBytes: len(data), Dirty: dirty}
	m.entries[k] = e
	m.touch(e)
	return e, nil
}

// Lock pins an entry so it cannot be evicted, used while the garbage
// collector holds a chunk's data mid copy-forward.
func (m *Manager) Lock(objID, chunkID uint32) {
	if e, ok := m.entries[key{objID, chunkID}]; ok {
		e.Locked = true
	}
}

// Unlock releases a pin taken by Lock.
func (m *Manager) Unlock(objID, chunkID uint32) {
	if e, ok := m.entries[key{objID, chunkID}]; ok {
		e.Locked = false
	}
}

// Invalidate drops a cached entry without flushing it, used when the
// backing chunk has been superseded or deleted.
func (m *Manager) Invalidate(objID, chunkID uint32) {
	delete(m.entries, key{objID, chunkID})
}

// InvalidateObject drops every cached entry belonging to objID, used when
// an object is deleted outright.
func (m *Manager) InvalidateObject(objID uint32) {
	for k := range m.entries {
		if k.objID == objID {
			delete(m.entries, k)
		}
	}
}

// evictOne flushes and removes the least-recently-used unlocked entry.
func (m *Manager) evictOne() error {
	var victim *Entry
	var victimKey key
	for k, e := range m.entries {
		if e.Locked {
			continue
		}
		if victim == nil || e.LastUse < victim.LastUse {
			victim = e
			victimKey = k
		}
	}
	if victim == nil {
		return fmt.Errorf("cache: all %d entries are locked, cannot evict", len(m.entries))
	}
	if victim.Dirty && m.flush != nil {
		if err := m.flush(victim); err != nil {
			return fmt.Errorf("cache: flush on evict: %w", err)
		}
	}
	delete(m.entries, victimKey)
	m.log.Debug("evicted cache entry", "obj_id", victimKey.objID, "chunk_id", victimKey.chunkID)
	return nil
}

// Flush writes back every dirty entry without evicting it.
func (m *Manager) Flush() error {
	for _, e := range m.entries {
		if !e.Dirty {
			continue
		}
		if m.flush == nil {
			continue
		}
		if err := m.flush(e); err != nil {
			return fmt.Errorf("cache: flush: %w", err)
		}
		e.Dirty = false
	}
	return nil
}

// Len reports the number of entries currently cached.
func (m *Manager) Len() int { return len(m.entries) }
