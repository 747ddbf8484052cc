package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	apistorage "github.com/omalloc/waypoint/api/defined/v1/storage"
	"github.com/omalloc/waypoint/api/defined/v1/storage/object"
	"github.com/omalloc/waypoint/core/cachehandle"
	"github.com/omalloc/waypoint/core/httpwire"
)

// Distributor adapts the bucket metadata store (Selector, Operation)
// this package already carries to the narrow streaming contract
// core/cachehandle drives against: the inherited Bucket interface only
// ever tracked metadata, LRU state and file lifecycle, never the byte
// stream itself (the teacher's reverse proxy wrote response bodies
// straight to a file on the side). Distributor keeps that split: a
// Bucket resolves and records metadata, a plain file at the object's
// WPath holds the bytes.
type Distributor struct {
	storage apistorage.Storage
}

var _ cachehandle.Distributor = (*Distributor)(nil)

// NewDistributor wraps an already-initialized storage.Storage.
func NewDistributor(s apistorage.Storage) *Distributor {
	return &Distributor{storage: s}
}

func (d *Distributor) resolve(key httpwire.CacheKey) (apistorage.Bucket, *object.ID) {
	id := object.NewID(key.URL)
	bucket := d.storage.Select(context.Background(), id)
	return bucket, id
}

// OpenRead implements cachehandle.Distributor.
func (d *Distributor) OpenRead(ctx context.Context, key httpwire.CacheKey, skipBytes int64) (cachehandle.Handle, error) {
	bucket, id := d.resolve(key)
	if bucket == nil {
		return nil, cachehandle.ErrObjectNotPresent
	}
	if _, err := bucket.Lookup(ctx, id); err != nil {
		return nil, cachehandle.ErrObjectNotPresent
	}

	f, err := os.Open(id.WPath(bucket.Path()))
	if err != nil {
		return nil, cachehandle.ErrObjectNotPresent
	}
	if skipBytes > 0 {
		if _, err := f.Seek(skipBytes, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return &fileHandle{f: f}, nil
}

// OpenWrite implements cachehandle.Distributor.
func (d *Distributor) OpenWrite(ctx context.Context, key httpwire.CacheKey, truncate bool) (cachehandle.Handle, error) {
	bucket, id := d.resolve(key)
	if bucket == nil {
		return nil, cachehandle.ErrObjectInUse
	}

	path := id.WPath(bucket.Path())
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !truncate {
		// a fresh object only: refuse one the bucket already records; a
		// writer that has not closed its handle yet is not detected.
		if bucket.Exist(ctx, id.Bytes()) {
			return nil, cachehandle.ErrObjectInUse
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	return &fileHandle{
		f: f,
		onClose: func() error {
			return bucket.Store(ctx, &object.Metadata{
				ID:          id,
				Size:        uint64(key.ObjFullLen),
				RespUnix:    key.LastModified,
				LastRefUnix: time.Now().Unix(),
			})
		},
	}, nil
}

// RWOpAllowed implements cachehandle.Distributor. It is answered
// synchronously from the selected bucket's bad-state flag alone (Allow
// and UseAllow weighting are not consulted), so a key on a bad bucket
// never initiates a needless open.
func (d *Distributor) RWOpAllowed(key httpwire.CacheKey, skipBytes int64) bool {
	bucket, _ := d.resolve(key)
	if bucket == nil {
		return false
	}
	return !bucket.HasBad()
}

type fileHandle struct {
	f         *os.File
	onClose   func() error
	closeOnce sync.Once
}

func (h *fileHandle) Read(_ context.Context, buf []byte) (int, error) {
	return h.f.Read(buf)
}

func (h *fileHandle) Write(_ context.Context, buf []byte) (int, error) {
	return h.f.Write(buf)
}

func (h *fileHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.f.Close()
		if h.onClose != nil {
			if cerr := h.onClose(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
