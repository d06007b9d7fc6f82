// Package sharedmap implements the shared TTL key-value store every
// plugin pool in a chain can reach through the host ABI (spec §4.1
// map_set/map_get/map_remove, component C6). It is sharded and
// lock-striped the way original_source/rubydns/src/plugins/host_helper/mod.rs
// uses a DashMap<Bytes, StoreValue>: many independent shards, each
// guarded by its own mutex, selected by hashing the key.
package sharedmap

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

type entry struct {
	data      []byte
	expiresAt time.Time // zero value means no expiry
}

type shard struct {
	mu   sync.Mutex
	data map[string]entry
}

// Map is a sharded key-value store keyed on opaque byte strings, with
// lazy expiry applied on Get.
type Map struct {
	shards [shardCount]*shard
}

// New returns an empty Map ready for use.
func New() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i] = &shard{data: make(map[string]entry)}
	}
	return m
}

func (m *Map) shardFor(key []byte) *shard {
	h := xxhash.Sum64(key)
	return m.shards[h%uint64(shardCount)]
}

// Set stores data under key. A zero ttl means the entry never expires.
func (m *Map) Set(key, data []byte, ttl time.Duration) {
	s := m.shardFor(key)
	e := entry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.data[string(key)] = e
	s.mu.Unlock()
}

// Get returns the value stored under key, or ok=false if absent or
// expired. An expired entry is evicted as a side effect.
func (m *Map) Get(key []byte) (data []byte, ok bool) {
	s := m.shardFor(key)
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.data[k]
	if !found {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.data, k)
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Remove deletes key, returning whether it was present.
func (m *Map) Remove(key []byte) bool {
	s := m.shardFor(key)
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.data[k]; !found {
		return false
	}
	delete(s.data, k)
	return true
}

// Len reports the number of live entries, including ones that have
// expired but not yet been touched by Get. It is meant for metrics,
// not precise accounting.
func (m *Map) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.data)
		s.mu.Unlock()
	}
	return total
}
