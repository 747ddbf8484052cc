package memory_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	storagev1 "github.com/omalloc/waypoint/api/defined/v1/storage"
	"github.com/omalloc/waypoint/api/defined/v1/storage/object"
	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/storage/bucket/memory"
	"github.com/omalloc/waypoint/storage/sharedkv"
)

func newTestBucket(t *testing.T) storagev1.Bucket {
	bucket, err := memory.New(&conf.Bucket{Path: "mem://test", MaxObjectLimit: 16}, sharedkv.NewEmpty())
	assert.NoError(t, err)
	return bucket
}

func TestMemoryBucketMissKey(t *testing.T) {
	bucket := newTestBucket(t)

	id := object.NewID("http://www.example.com/path/to/1M.bin")

	md, err := bucket.Lookup(context.Background(), id)
	assert.ErrorIs(t, err, storagev1.ErrKeyNotFound)
	assert.Nil(t, md)
}

func TestMemoryBucketStoreAndLookup(t *testing.T) {
	bucket := newTestBucket(t)

	id := object.NewID("http://www.example.com/path/to/1M.bin")

	err := bucket.Store(context.Background(), &object.Metadata{
		Flags:       object.FlagCache,
		ID:          id,
		Code:        http.StatusOK,
		Size:        1,
		RespUnix:    time.Now().Unix(),
		LastRefUnix: time.Now().Unix(),
		Refs:        1,
		ExpiresAt:   time.Now().Add(time.Second * 30).Unix(),
		Headers:     make(http.Header),
	})
	assert.NoError(t, err)

	assert.True(t, bucket.Exist(context.Background(), id.Bytes()))

	md, err := bucket.Lookup(context.Background(), id)
	assert.NoError(t, err)
	assert.NotNil(t, md)
	assert.Equal(t, object.FlagCache, md.Flags)

	assert.Equal(t, "fastmemory", bucket.StoreType())
}

func TestMemoryBucketDiscard(t *testing.T) {
	bucket := newTestBucket(t)

	id := object.NewID("http://www.example.com/path/to/1M.bin")

	assert.NoError(t, bucket.Store(context.Background(), &object.Metadata{ID: id}))
	assert.True(t, bucket.Exist(context.Background(), id.Bytes()))

	assert.NoError(t, bucket.Discard(context.Background(), id))
	assert.False(t, bucket.Exist(context.Background(), id.Bytes()))
}
