// Package cachefsm implements the cache-arbitration state machine (spec
// §4.5): per transaction it decides whether to attempt a checksum
// compare against a stored object, open a fresh write, or leave caching
// alone, and it sequences every call against the cache-handle
// collaborator (core/cachehandle).
package cachefsm

import (
	"bytes"
	"context"

	"github.com/omalloc/waypoint/core/cachehandle"
	"github.com/omalloc/waypoint/core/httpwire"
	"github.com/omalloc/waypoint/metrics"
)

// State is one of the eight cache-arbitration states from §4.5.
type State int

const (
	StateWaitBodyData State = iota
	StateCacheOpenRd
	StateCacheCompare
	StateCacheOpenWr
	StateCacheRead
	StateCacheWrite
	StateCacheIdleWr
	StateCacheClosed
)

func (s State) String() string {
	switch s {
	case StateWaitBodyData:
		return "wait_body_data"
	case StateCacheOpenRd:
		return "cache_open_rd"
	case StateCacheCompare:
		return "cache_compare"
	case StateCacheOpenWr:
		return "cache_open_wr"
	case StateCacheRead:
		return "cache_read"
	case StateCacheWrite:
		return "cache_write"
	case StateCacheIdleWr:
		return "cache_idle_wr"
	case StateCacheClosed:
		return "cache_closed"
	default:
		return "unknown"
	}
}

// CompareThresholdDefault is half of a typical 8 KiB origin block, per
// the open question in spec §9: wait for at least this many buffered
// body bytes before attempting a compare, rather than the literal
// one-byte minimum the original source encodes.
const CompareThresholdDefault = 4096

// Callbacks is the set of side effects the FSM requests from its owning
// handler (C7). All are synchronous from the FSM's point of view; async
// cache operations are represented by the FSM itself holding a handle
// and waiting for Step(EventCacheOpDone, ...) etc.
type Callbacks struct {
	// PauseOriginRecv / ResumeOriginRecv bracket any state during which
	// the origin socket must not be read further.
	PauseOriginRecv  func()
	ResumeOriginRecv func()

	// SwitchToCache replaces the connection's origin stream with a
	// cache-handle-backed reader (C2.Switch), after a successful compare.
	SwitchToCache func(h cachehandle.Handle)

	// StartBlindTunnel tears down HTTP-level processing and begins
	// forwarding raw bytes both ways.
	StartBlindTunnel func()

	// ConsumeCompareBytes advances the origin-to-cache reader by n bytes
	// without copying them anywhere further (used on abandonment paths
	// so the main pipeline doesn't stall on unread bytes).
	ConsumeCompareBytes func(n int)

	// Dispatch runs fn on the cache-operation worker pool, off the
	// connection's owning goroutine (spec §5: cache operations suspend
	// until the cache layer invokes the callback, "possibly on a
	// different thread").
	Dispatch func(fn func())

	// Repost schedules fn back onto the connection's owning worker. Every
	// onXxxResult method below is only safe to run there; Dispatch'd
	// work must call back into the FSM exclusively through Repost.
	Repost func(fn func())
}

// FSM drives one transaction's cache arbitration. A new FSM (or a Reset
// one) is used per transaction; the connection owns exactly one at a
// time, matching the "at most one cache operation in flight per
// connection" invariant.
type FSM struct {
	state State
	cb    Callbacks
	dist  cachehandle.Distributor
	tx    *httpwire.Transaction

	key       httpwire.CacheKey
	handle    cachehandle.Handle
	threshold int

	pendBlindTunnel bool

	// compareBuf holds the bytes read back from the cache handle during
	// StateCacheCompare, accumulated until it matches the length of the
	// origin bytes already buffered.
	compareBuf []byte
	wantCompareLen int
}

// New builds an FSM in its initial wait_body_data state. tx is the
// transaction the FSM records its cache outcome onto (CacheHit,
// CacheMiss, CacheCsumMiss, CacheSkip); it may be nil in tests that
// don't care about the completion log line.
func New(dist cachehandle.Distributor, cb Callbacks, tx *httpwire.Transaction) *FSM {
	return &FSM{state: StateWaitBodyData, cb: cb, dist: dist, tx: tx, threshold: CompareThresholdDefault}
}

// SetCompareThreshold overrides CompareThresholdDefault.
func (f *FSM) SetCompareThreshold(n int) { f.threshold = n }

// State reports the current state, mainly for logging/tests.
func (f *FSM) State() State { return f.state }

// Reset prepares the FSM for the next transaction on the same
// connection. The caller must ensure any handle has already been
// closed (StateCacheClosed or StateCacheIdleWr having seen
// TransCompleted). tx is the new transaction the FSM should record its
// outcome onto.
func (f *FSM) Reset(tx *httpwire.Transaction) {
	f.state = StateWaitBodyData
	f.tx = tx
	f.handle = nil
	f.pendBlindTunnel = false
	f.compareBuf = nil
	f.wantCompareLen = 0
}

// OnOriginData is the ev_org_data event: new origin bytes have been
// received and bufferedLen bytes of body are now available (cumulative,
// not incremental) since the transaction's headers completed. key is
// consulted lazily: callers should pass the transaction's current
// GetCacheKey() result each time, since it is only valid once response
// headers are complete.
func (f *FSM) OnOriginData(ctx context.Context, bufferedBodyLen int, key httpwire.CacheKey, keyOK bool) {
	switch f.state {
	case StateWaitBodyData:
		if !keyOK {
			return
		}
		if bufferedBodyLen < f.threshold {
			return
		}
		if f.dist == nil || !f.dist.RWOpAllowed(key, 0) {
			return
		}
		f.key = key
		f.wantCompareLen = bufferedBodyLen
		f.cb.PauseOriginRecv()
		f.state = StateCacheOpenRd
		f.cb.Dispatch(func() { f.doOpenRead(ctx) })
	case StateCacheWrite, StateCacheIdleWr:
		// Bytes simply accumulate; the write loop (driven by
		// OnCacheOpDone from the prior write) will pick them up.
	default:
		// cache_open_rd, cache_compare, cache_open_wr, cache_read,
		// cache_closed: origin data is irrelevant to the arbitration
		// decision while an operation is outstanding or already decided.
	}
}

func (f *FSM) doOpenRead(ctx context.Context) {
	h, err := f.dist.OpenRead(ctx, f.key, 0)
	f.cb.Repost(func() { f.onOpenReadResult(ctx, h, err) })
}

// onOpenReadResult and the other onXxxResult methods are always
// reached through cb.Repost from the Dispatch'd operation, so they run
// on the connection's owning worker rather than on whatever goroutine
// the cache distributor completed on (spec §5: "re-posts the
// continuation to its owning worker"). The FSM assumes it is only ever
// entered from that single worker, so no locking appears here.
func (f *FSM) onOpenReadResult(ctx context.Context, h cachehandle.Handle, err error) {
	if f.pendBlindTunnel {
		f.abandon(h)
		return
	}
	if err != nil {
		if err == cachehandle.ErrObjectNotPresent {
			if f.dist.RWOpAllowed(f.key, 0) {
				f.state = StateCacheOpenWr
				f.cb.Dispatch(func() { f.doOpenWrite(ctx, false) })
				return
			}
		}
		f.cb.ConsumeCompareBytes(f.wantCompareLen)
		f.cb.ResumeOriginRecv()
		f.state = StateCacheClosed
		return
	}
	f.handle = h
	f.state = StateCacheCompare
	f.compareBuf = make([]byte, 0, f.wantCompareLen)
	f.cb.Dispatch(func() { f.doCompareRead(ctx) })
}

func (f *FSM) doCompareRead(ctx context.Context) {
	buf := make([]byte, f.wantCompareLen-len(f.compareBuf))
	n, err := f.handle.Read(ctx, buf)
	f.cb.Repost(func() {
		if n > 0 {
			f.compareBuf = append(f.compareBuf, buf[:n]...)
		}
		if err != nil {
			f.onCompareReadErr(ctx, err)
			return
		}
		if len(f.compareBuf) < f.wantCompareLen {
			f.cb.Dispatch(func() { f.doCompareRead(ctx) })
			return
		}
		f.onCompareReady(ctx)
	})
}

func (f *FSM) onCompareReadErr(ctx context.Context, err error) {
	_ = f.handle.Close()
	f.handle = nil
	if f.pendBlindTunnel {
		f.startTunnel()
		return
	}
	f.cb.ConsumeCompareBytes(f.wantCompareLen)
	f.cb.ResumeOriginRecv()
	f.state = StateCacheClosed
}

// OnCompareOriginBytes supplies the origin side of the compare while
// the FSM is in cache_compare; originBytes must be the same-length
// prefix already sitting in the origin-to-cache reader. It is ignored
// in every other state.
func (f *FSM) OnCompareOriginBytes(ctx context.Context, originBytes []byte) {
	if f.state != StateCacheCompare {
		return
	}
	f.onCompareReady2(ctx, originBytes)
}

func (f *FSM) onCompareReady(ctx context.Context) {
	// The handler supplies the matching origin-side bytes via
	// OnCompareOriginBytes once it observes this state; onCompareReady
	// only marks the cache-side read complete.
}

func (f *FSM) onCompareReady2(ctx context.Context, originBytes []byte) {
	if f.pendBlindTunnel {
		f.startTunnelFromCompare()
		return
	}
	if bytes.Equal(f.compareBuf, originBytes) {
		if f.tx != nil {
			f.tx.SetCacheHit()
		}
		f.cb.ConsumeCompareBytes(f.wantCompareLen)
		f.cb.SwitchToCache(f.handle)
		f.cb.ResumeOriginRecv()
		f.state = StateCacheRead
		return
	}
	metrics.ChecksumMismatches.Inc()
	if f.tx != nil {
		f.tx.SetCacheCsumMiss()
	}
	_ = f.handle.Close()
	f.handle = nil
	f.state = StateCacheOpenWr
	f.cb.Dispatch(func() { f.doOpenWrite(ctx, true) })
}

func (f *FSM) startTunnelFromCompare() {
	if f.handle != nil {
		_ = f.handle.Close()
		f.handle = nil
	}
	f.startTunnel()
}

func (f *FSM) doOpenWrite(ctx context.Context, truncate bool) {
	h, err := f.dist.OpenWrite(ctx, f.key, truncate)
	f.cb.Repost(func() { f.onOpenWriteResult(h, err) })
}

func (f *FSM) onOpenWriteResult(h cachehandle.Handle, err error) {
	if f.pendBlindTunnel {
		f.abandon(h)
		return
	}
	if err != nil {
		f.cb.ConsumeCompareBytes(f.wantCompareLen)
		f.cb.ResumeOriginRecv()
		f.state = StateCacheClosed
		return
	}
	// success: the bytes already buffered on the origin-to-cache reader
	// (the prefix that would have been the compare, had the object been
	// present) are left untouched here — they are the first bytes of
	// the object and must flow through the normal write path
	// (OnWritableBytes) rather than being discarded.
	if f.tx != nil && f.tx.Flags()&httpwire.CacheCsumMiss == 0 {
		f.tx.SetCacheMiss()
	}
	f.handle = h
	f.cb.ResumeOriginRecv()
	f.state = StateCacheIdleWr
}

// OnWritableBytes is called whenever the handler observes unread bytes
// in the origin-to-cache reader while in cache_open_wr/cache_idle_wr.
func (f *FSM) OnWritableBytes(ctx context.Context, data []byte, advance func(int)) {
	if f.state != StateCacheIdleWr && f.state != StateCacheOpenWr {
		return
	}
	if len(data) == 0 {
		return
	}
	f.state = StateCacheWrite
	f.cb.Dispatch(func() { f.doWrite(ctx, data, advance) })
}

func (f *FSM) doWrite(ctx context.Context, data []byte, advance func(int)) {
	n, err := f.handle.Write(ctx, data)
	f.cb.Repost(func() { f.onWriteResult(n, err, advance) })
}

func (f *FSM) onWriteResult(n int, err error, advance func(int)) {
	if f.pendBlindTunnel {
		f.abandon(f.handle)
		return
	}
	if err != nil || n < 0 {
		_ = f.handle.Close()
		f.handle = nil
		f.state = StateCacheClosed
		return
	}
	advance(n)
	f.state = StateCacheIdleWr
}

// TryBlindTunnel is the try_blind_tunnel event: it may arrive in any
// state. In cache_read, wait_body_data, cache_closed and cache_idle_wr
// no cache operation is outstanding, so the tunnel starts immediately;
// in every other state it sets pendBlindTunnel for the in-flight
// operation's completion handler to act on.
func (f *FSM) TryBlindTunnel() {
	switch f.state {
	case StateCacheRead, StateWaitBodyData, StateCacheClosed, StateCacheIdleWr:
		// No cache operation is outstanding in any of these states
		// (cache_read has already handed the stream off), so the tunnel
		// starts immediately rather than waiting on a completion that
		// will never arrive.
		f.startTunnel()
	default:
		f.pendBlindTunnel = true
	}
}

func (f *FSM) startTunnel() {
	if f.handle != nil {
		_ = f.handle.Close()
		f.handle = nil
	}
	f.cb.StartBlindTunnel()
	f.state = StateCacheClosed
}

// abandon closes whatever handle a just-completed async op produced
// (possibly nil) and starts the tunnel, for the case where
// TryBlindTunnel arrived while that op was still outstanding.
func (f *FSM) abandon(h cachehandle.Handle) {
	if h != nil {
		_ = h.Close()
	}
	if f.handle != nil {
		_ = f.handle.Close()
		f.handle = nil
	}
	f.cb.StartBlindTunnel()
	f.state = StateCacheClosed
}

// TransCompleted is the trans_completed event. In cache_idle_wr it
// closes the handle and lets the caller move on to the next
// transaction; in cache_closed and wait_body_data it is a no-op besides
// the caller's own transaction bookkeeping.
func (f *FSM) TransCompleted() {
	switch f.state {
	case StateCacheIdleWr:
		if f.handle != nil {
			_ = f.handle.Close()
			f.handle = nil
		}
		f.state = StateCacheClosed
	case StateCacheRead:
		if f.handle != nil {
			_ = f.handle.Close()
			f.handle = nil
		}
		f.state = StateCacheClosed
	}
}

// SkipTrans is the skip_trans event: no caching for this transaction
// (e.g. a non-GET, or a key the policy excludes from the start).
func (f *FSM) SkipTrans() {
	if f.tx != nil {
		f.tx.SetCacheSkip()
	}
	f.state = StateCacheClosed
}
