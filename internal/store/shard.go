package store

import "sync"

const shardCount = 64

type shard[V any] struct {
	mu sync.RWMutex
	m  map[int64]V
}

// shardedMap spreads int64 keys over independently locked shards so that
// writers on one key never serialize readers of keys in other shards.
type shardedMap[V any] struct {
	shards [shardCount]*shard[V]
}

func newShardedMap[V any]() *shardedMap[V] {
	sm := &shardedMap[V]{}
	for i := range sm.shards {
		sm.shards[i] = &shard[V]{m: make(map[int64]V)}
	}
	return sm
}

func (sm *shardedMap[V]) shardFor(key int64) *shard[V] {
	return sm.shards[uint64(key)%shardCount]
}

// keys snapshots the keys of one shard under its read lock.
func (s *shard[V]) keys() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]int64, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (sm *shardedMap[V]) len() int {
	n := 0
	for _, s := range sm.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
