// Package memory is the "fastmemory" bucket tier: an in-process,
// LRU-bounded metadata store that never persists past a restart.
// storage.New keeps buckets of this tier in their own list and builds
// its selector over the normal buckets only, so Select never returns a
// memory bucket.
package memory

import (
	"context"
	"sync"

	"github.com/omalloc/waypoint/api/defined/v1/storage"
	"github.com/omalloc/waypoint/api/defined/v1/storage/object"
	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/pkg/algorithm/lru"
)

var _ storage.Bucket = (*memoryBucket)(nil)

type memoryBucket struct {
	mu    sync.RWMutex
	path  string
	bytes map[object.IDHash][]byte
	cache *lru.Cache[object.IDHash, *object.Metadata]
}

// New builds an in-memory bucket bounded by config.MaxObjectLimit.
// sharedkv is accepted for bucketMap's common factory signature but is
// unused: this tier keeps no durable counters or inverted indexes.
func New(config *conf.Bucket, _ storage.SharedKV) (storage.Bucket, error) {
	return &memoryBucket{
		path:  config.Path,
		bytes: make(map[object.IDHash][]byte),
		cache: lru.New[object.IDHash, *object.Metadata](config.MaxObjectLimit),
	}, nil
}

func (m *memoryBucket) Lookup(_ context.Context, id *object.ID) (*object.Metadata, error) {
	md, ok := m.cache.Get(id.Hash())
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return md, nil
}

func (m *memoryBucket) Store(_ context.Context, meta *object.Metadata) error {
	m.cache.Set(meta.ID.Hash(), meta)
	return nil
}

func (m *memoryBucket) Exist(_ context.Context, id []byte) bool {
	var h object.IDHash
	copy(h[:], id)
	return m.cache.Has(h)
}

func (m *memoryBucket) Remove(ctx context.Context, id *object.ID) error {
	return m.Discard(ctx, id)
}

func (m *memoryBucket) Discard(_ context.Context, id *object.ID) error {
	m.cache.Remove(id.Hash())

	m.mu.Lock()
	delete(m.bytes, id.Hash())
	m.mu.Unlock()
	return nil
}

func (m *memoryBucket) DiscardWithHash(_ context.Context, hash object.IDHash) error {
	m.cache.Remove(hash)

	m.mu.Lock()
	delete(m.bytes, hash)
	m.mu.Unlock()
	return nil
}

func (m *memoryBucket) DiscardWithMessage(ctx context.Context, id *object.ID, _ string) error {
	return m.Discard(ctx, id)
}

func (m *memoryBucket) DiscardWithMetadata(ctx context.Context, meta *object.Metadata) error {
	return m.Discard(ctx, meta.ID)
}

func (m *memoryBucket) Iterate(_ context.Context, fn func(*object.Metadata) error) error {
	// the LRU doesn't expose a snapshot walk cheaply, so nothing is
	// visited; storage's directory purge walks only normal and hot
	// buckets and never reaches this tier.
	return nil
}

func (m *memoryBucket) Expired(_ context.Context, _ *object.ID, _ *object.Metadata) bool {
	return false
}

func (m *memoryBucket) ID() string { return "memory:" + m.path }

func (m *memoryBucket) Weight() int { return 10 }

func (m *memoryBucket) Allow() int { return 100 }

func (m *memoryBucket) UseAllow() bool { return false }

func (m *memoryBucket) HasBad() bool { return false }

func (m *memoryBucket) Type() string { return "memory" }

func (m *memoryBucket) StoreType() string { return "fastmemory" }

func (m *memoryBucket) Path() string { return m.path }

func (m *memoryBucket) Close() error { return nil }
