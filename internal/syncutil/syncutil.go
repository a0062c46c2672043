// Package syncutil provides per-key locks over a fixed pool of shards.
//
// Keys are entity ids. Two entities may hash to the same shard and then
// serialize against each other; memory stays bounded however many entities
// are seen.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// Shards is the number of lock shards.
const Shards = 256

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % Shards
}

// ShardedMutex serializes work per key.
type ShardedMutex struct {
	shards [Shards]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

// ContextShardedMutex is a ShardedMutex whose waiters give up when their
// context ends.
type ContextShardedMutex struct {
	shards [Shards]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// LockContext acquires the lock for key. On success the caller must call the
// returned unlock function. On cancellation it returns nil and ctx.Err().
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[shardIndex(key)]

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
