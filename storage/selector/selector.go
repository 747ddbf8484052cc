// Package selector maps a cache object to one of a storage instance's
// live buckets. It deliberately uses a consistent-hash ring rather than
// modulo selection so that adding or removing a bucket only reshuffles
// the objects that hashed near the changed bucket's ring positions.
package selector

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/omalloc/waypoint/api/defined/v1/storage"
	"github.com/omalloc/waypoint/api/defined/v1/storage/object"
)

const defaultReplicas = 20

// ring is a weighted consistent-hash selector over a fixed bucket set.
// Every selection policy the config names currently resolves to this
// same ring; the SelectionPolicy string is kept for config
// compatibility and future policies (e.g. least-loaded).
type ring struct {
	mu       sync.RWMutex
	replicas int
	keys     []uint32
	points   map[uint32]storage.Bucket
	buckets  []storage.Bucket
}

// New builds a Selector over buckets. typ is accepted for forward
// compatibility with additional selection policies but is currently
// ignored; every policy resolves to the weighted hash ring.
func New(buckets []storage.Bucket, typ string) storage.Selector {
	r := &ring{replicas: defaultReplicas}
	r.rebuild(buckets)
	return r
}

func (r *ring) rebuild(buckets []storage.Bucket) {
	points := make(map[uint32]storage.Bucket)
	keys := make([]uint32, 0, len(buckets)*r.replicas)

	for _, b := range buckets {
		weight := b.Weight()
		if weight <= 0 {
			weight = 1
		}
		vnodes := r.replicas * weight / 100
		if vnodes < 1 {
			vnodes = 1
		}
		for i := 0; i < vnodes; i++ {
			h := hashVNode(b.ID(), i)
			points[h] = b
			keys = append(keys, h)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	r.mu.Lock()
	r.keys = keys
	r.points = points
	r.buckets = buckets
	r.mu.Unlock()
}

// Select implements storage.Selector. It walks the ring clockwise from
// the object's hash, skipping buckets flagged HasBad, and falls back to
// the first configured bucket if every ring entry is bad.
func (r *ring) Select(_ context.Context, id *object.ID) storage.Bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.keys) == 0 {
		return nil
	}

	h := hashObject(id)
	idx := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= h })

	for i := 0; i < len(r.keys); i++ {
		b := r.points[r.keys[(idx+i)%len(r.keys)]]
		if !b.HasBad() {
			return b
		}
	}

	// every ring entry reports bad health; degrade to the first
	// configured bucket rather than returning nil.
	if len(r.buckets) > 0 {
		return r.buckets[0]
	}
	return nil
}

// Rebuild implements storage.Selector, recomputing the ring's virtual
// nodes from the live bucket set. Callers must not call this
// frequently: it walks every bucket's weight and re-sorts the ring.
func (r *ring) Rebuild(_ context.Context, buckets []storage.Bucket) error {
	r.rebuild(buckets)
	return nil
}

func hashVNode(bucketID string, vnode int) uint32 {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s#%d", bucketID, vnode)))
	return binary.BigEndian.Uint32(sum[:4])
}

func hashObject(id *object.ID) uint32 {
	h := id.Hash()
	return binary.BigEndian.Uint32(h[:4])
}
