// Package cachehandle defines the narrow asynchronous open/read/write/
// close contract the cache-arbitration FSM (core/cachefsm) drives
// against the cache storage engine (storage/). The engine itself is a
// peer system; this package only states the interface it is reached
// through (spec §4.9/§6.2).
package cachehandle

import (
	"context"
	"errors"

	"github.com/omalloc/waypoint/core/httpwire"
)

var (
	// ErrObjectNotPresent is returned by OpenRead when no object exists
	// for the requested key.
	ErrObjectNotPresent = errors.New("cachehandle: object not present")
	// ErrObjectInUse is returned by OpenWrite when another actor already
	// holds a write handle for the same key.
	ErrObjectInUse = errors.New("cachehandle: object in use")
	// ErrAlreadyOpen is returned when Open is called twice on the same
	// Handle.
	ErrAlreadyOpen = errors.New("cachehandle: already open")
	// ErrAborted is returned to any pending callback when the handle is
	// closed while an operation is still in flight.
	ErrAborted = errors.New("cachehandle: operation aborted")
)

// Handle is opaque, single-use, and permits at most one in-flight
// operation at a time. It is obtained from a Distributor.
type Handle interface {
	// Read reads into buf, returning n and io.EOF at the end of the
	// object. At most one Read or Write may be outstanding at a time.
	Read(ctx context.Context, buf []byte) (n int, err error)
	// Write writes buf in full or returns an error; returning n <
	// len(buf) without an error (a "null write") is treated as a hard
	// cache error by the FSM.
	Write(ctx context.Context, buf []byte) (n int, err error)
	// Close releases the handle. Safe to call once; further operations
	// after Close return ErrAborted.
	Close() error
}

// Distributor is the external collaborator that resolves cache keys to
// handles. Its implementation (storage engine, indexing, placement,
// eviction) is out of scope for the core; core/cachefsm only ever calls
// through this interface.
type Distributor interface {
	// OpenRead opens a read handle for key, skipping skipBytes bytes
	// into the object (used to resume a read after a partial compare).
	// Returns ErrObjectNotPresent if no object is stored for key.
	OpenRead(ctx context.Context, key httpwire.CacheKey, skipBytes int64) (Handle, error)
	// OpenWrite opens a write handle for key. When truncate is true any
	// existing object for the key is discarded first (the checksum-
	// mismatch recovery path); otherwise a fresh object is created only
	// if one is not already present.
	OpenWrite(ctx context.Context, key httpwire.CacheKey, truncate bool) (Handle, error)
	// RWOpAllowed is a synchronous predicate the FSM consults before
	// even attempting an open, so a hot key that is policy-excluded (or
	// already open for write elsewhere) never initiates a needless
	// round trip.
	RWOpAllowed(key httpwire.CacheKey, skipBytes int64) bool
}
