// Package syncutil holds locking primitives shared by the escrow, deed and
// ledger services.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewContextShardedMutex.
const DefaultShards = 256

// ContextShardedMutex is a bounded pool of channel-backed mutexes keyed by
// string. Two keys may share a shard, which only costs occasional false
// contention. Waiters give up when their context ends.
type ContextShardedMutex struct {
	shards []chan struct{}
}

// NewContextShardedMutex returns a mutex pool with DefaultShards shards.
func NewContextShardedMutex() *ContextShardedMutex {
	return NewContextShardedMutexN(DefaultShards)
}

// NewContextShardedMutexN returns a mutex pool with n shards (minimum 1).
func NewContextShardedMutexN(n int) *ContextShardedMutex {
	if n < 1 {
		n = 1
	}
	m := &ContextShardedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// LockContext blocks until the shard owning key is free or ctx is done.
// On success the returned func releases the lock and must be called exactly
// once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shards[m.shardIdx(key)]

	// Fail fast on an already-cancelled context even if the shard is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the shard for key without waiting.
func (m *ContextShardedMutex) TryLock(key string) (func(), bool) {
	ch := m.shards[m.shardIdx(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, true
	default:
		return nil, false
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(m.shards))
}
