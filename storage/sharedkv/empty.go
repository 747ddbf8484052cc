package sharedkv

import (
	"context"

	"github.com/omalloc/waypoint/api/defined/v1/storage"
)

var _ storage.SharedKV = (*emptySharedKV)(nil)

// emptySharedKV is a no-op SharedKV for buckets that never need
// counters or reverse-index lookups (e.g. the storage.Storage's
// built-in nop bucket, and bucket tests that don't exercise SharedKV).
type emptySharedKV struct{}

func (emptySharedKV) Close() error { return nil }

func (emptySharedKV) Get(context.Context, []byte) ([]byte, error) {
	return nil, storage.ErrSharedKVKeyNotFound
}

func (emptySharedKV) Set(context.Context, []byte, []byte) error { return nil }

func (emptySharedKV) Incr(context.Context, []byte, uint32) (uint32, error) { return 0, nil }

func (emptySharedKV) Decr(context.Context, []byte, uint32) (uint32, error) { return 0, nil }

func (emptySharedKV) GetCounter(context.Context, []byte) (uint32, error) { return 0, nil }

func (emptySharedKV) Delete(context.Context, []byte) error { return nil }

func (emptySharedKV) DropPrefix(context.Context, []byte) error { return nil }

func (emptySharedKV) Iterate(context.Context, func(key, val []byte) error) error { return nil }

func (emptySharedKV) IteratePrefix(context.Context, []byte, func(key, val []byte) error) error {
	return nil
}

// NewEmpty returns a SharedKV that stores nothing.
func NewEmpty() storage.SharedKV { return emptySharedKV{} }
