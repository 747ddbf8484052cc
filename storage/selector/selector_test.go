package selector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	storagev1 "github.com/omalloc/waypoint/api/defined/v1/storage"
	"github.com/omalloc/waypoint/api/defined/v1/storage/object"
	"github.com/omalloc/waypoint/storage/selector"
)

// fakeBucket is a minimal storage.Bucket stub so selector tests don't
// need a real disk/memory backend; every Operation method beyond the
// ones the selector touches (ID, Weight, HasBad) panics if called.
type fakeBucket struct {
	storagev1.Bucket
	id     string
	weight int
	bad    bool
}

func (b *fakeBucket) ID() string     { return b.id }
func (b *fakeBucket) Weight() int    { return b.weight }
func (b *fakeBucket) HasBad() bool   { return b.bad }
func (b *fakeBucket) StoreType() string { return "normal" }

func TestSelectIsStableAcrossCalls(t *testing.T) {
	buckets := []storagev1.Bucket{
		&fakeBucket{id: "a", weight: 100},
		&fakeBucket{id: "b", weight: 100},
		&fakeBucket{id: "c", weight: 100},
	}
	sel := selector.New(buckets, "hashring")

	id := object.NewID("http://example.com/path/to/object.bin")

	first := sel.Select(context.Background(), id)
	second := sel.Select(context.Background(), id)

	assert.Equal(t, first.ID(), second.ID())
}

func TestSelectSkipsBadBuckets(t *testing.T) {
	buckets := []storagev1.Bucket{
		&fakeBucket{id: "good", weight: 100},
		&fakeBucket{id: "bad", weight: 100, bad: true},
	}
	sel := selector.New(buckets, "hashring")

	id := object.NewID("http://example.com/path/to/another.bin")

	for i := 0; i < 50; i++ {
		b := sel.Select(context.Background(), id)
		assert.Equal(t, "good", b.ID())
	}
}

func TestSelectDistributesAcrossBuckets(t *testing.T) {
	buckets := []storagev1.Bucket{
		&fakeBucket{id: "a", weight: 100},
		&fakeBucket{id: "b", weight: 100},
	}
	sel := selector.New(buckets, "hashring")

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := object.NewID("http://example.com/path/" + string(rune('a'+i%26)) + "/obj.bin")
		b := sel.Select(context.Background(), id)
		seen[b.ID()] = true
	}

	assert.True(t, len(seen) > 1, "expected objects to land on more than one bucket")
}
