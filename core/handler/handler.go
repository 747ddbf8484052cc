// Package handler implements the per-connection HTTP handler (spec §4.7,
// component C7): it glues the tokenizer/transaction pair (C3/C4), the
// cache-arbitration FSM (C5) and the connection FSM (C6) together, owns
// the three reader cursors over the two IO-buffers, and issues
// back-pressure control commands at the right points in the
// transaction lifecycle.
package handler

import (
	"context"
	"errors"

	"github.com/omalloc/waypoint/core/backpressure"
	"github.com/omalloc/waypoint/core/cachefsm"
	"github.com/omalloc/waypoint/core/cachehandle"
	"github.com/omalloc/waypoint/core/connfsm"
	"github.com/omalloc/waypoint/core/httpwire"
	"github.com/omalloc/waypoint/metrics"
	"github.com/omalloc/waypoint/pkg/iobuf"
	"github.com/omalloc/waypoint/pkg/switchstream"
)

// Buffer sizing thresholds (spec §4.7): the client buffer starts at 4
// KiB and grows to 8 KiB once the request's declared Content-Length
// exceeds 64 KiB, to 16 KiB above 512 KiB; the origin buffer starts at
// 8 KiB and grows to 16 KiB above a 512 KiB response Content-Length.
const (
	clientBlockSize   = 4 * 1024
	clientGrowAtMid   = 64 * 1024
	clientGrowAtLarge = 512 * 1024

	originBlockSize   = 8 * 1024
	originGrowAtLarge = 512 * 1024

	clientInitialBlocks = 1 // 4 KiB default
	originInitialBlocks = 1 // 8 KiB default
)

// EndpointInfo identifies one leg's socket-level addressing, needed for
// back-pressure commands and for URL assembly when the request carries
// no Host header (spec §4.4's origin-IP placeholder).
type EndpointInfo struct {
	ClientIP   uint32
	RemoteIP   uint32
	ClientPort uint16
	OriginIP   string
}

// Transport is the minimal send surface the handler needs to push bytes
// out a leg; the acceptor/worker pool supplies the concrete
// implementation bound to a net.Conn.
type Transport interface {
	Send(leg connfsm.LegKind, spans []iobuf.Span) (int, error)
	Shutdown(leg connfsm.LegKind, side string) error
	Close(leg connfsm.LegKind) error
}

// Connection is one proxy session: client socket in, origin stream out,
// HTTP-aware in the common case, degrading to a raw byte pipe under
// blind-tunnel mode (spec §4.6).
type Connection struct {
	clientBuf *iobuf.Ring
	originBuf *iobuf.Ring

	clientReader  iobuf.Reader
	originReader  iobuf.Reader
	compareReader iobuf.Reader // origin-to-cache comparison reader, registered lazily
	compareReady  bool

	origin *switchstream.Stream
	conn   connfsm.Connection
	cache  *cachefsm.FSM

	reqStore  *httpwire.HeaderStore
	respStore *httpwire.HeaderStore
	tx        *httpwire.Transaction
	reqWire   *httpwire.Wrapper
	respWire  *httpwire.Wrapper

	transport Transport
	bp        *backpressure.Client
	endpoint  EndpointInfo

	sentContentLength bool
	dist              cachehandle.Distributor

	// clientBlocks / originBlocks track each Ring's current block count,
	// since Ring's block size is fixed at construction and growth
	// instead means "more blocks of the same size" (spec §4.7).
	clientBlocks int
	originBlocks int
}

// New builds a Connection ready to accept client bytes. dist may be nil
// if no cache subsystem is wired: the cache FSM then stays in
// wait_body_data and responses are relayed from the origin uncached.
func New(dist cachehandle.Distributor, bp *backpressure.Client, endpoint EndpointInfo, transport Transport, dispatch, repost func(func())) (*Connection, error) {
	c := &Connection{
		clientBuf:    iobuf.NewRing(clientBlockSize, clientInitialBlocks),
		originBuf:    iobuf.NewRing(originBlockSize, originInitialBlocks),
		origin:       switchstream.New(nil),
		transport:    transport,
		bp:           bp,
		endpoint:     endpoint,
		dist:         dist,
		clientBlocks: clientInitialBlocks,
		originBlocks: originInitialBlocks,
	}

	cr, err := c.clientBuf.Register()
	if err != nil {
		return nil, err
	}
	c.clientReader = cr

	or, err := c.originBuf.Register()
	if err != nil {
		return nil, err
	}
	c.originReader = or

	c.conn = *connfsm.New(connfsm.Guards{
		OrgRecvAllowed: func() bool { return c.originBuf.WritableBytes() > 0 },
		ClnRecvAllowed: func() bool { return c.clientBuf.WritableBytes() > 0 },
		OrgSendAllowed: func() bool { n, _ := c.clientBuf.Unread(c.clientReader); return n > 0 },
		ClnSendAllowed: func() bool { n, _ := c.originBuf.Unread(c.originReader); return n > 0 },
	})

	c.reqStore = httpwire.NewHeaderStore()
	c.respStore = httpwire.NewHeaderStore()
	c.tx = httpwire.NewTransaction(c.reqStore, c.respStore)
	c.reqWire = httpwire.NewWrapper(httpwire.DirRequest, c.tx.AsRequest())
	c.respWire = httpwire.NewWrapper(httpwire.DirResponse, c.tx.AsResponse())
	// pause exactly at headers-end so the still-unconsumed body bytes
	// stay in originBuf for the cache-compare reader to see before the
	// response parser's own cursor advances past them (spec §4.5).
	c.respWire.SetPauseAt(httpwire.PauseAtHeaders)
	c.tx.SetOriginIP(endpoint.OriginIP)

	c.cache = cachefsm.New(dist, cachefsm.Callbacks{
		PauseOriginRecv: c.conn.PauseOriginRecv,
		ResumeOriginRecv: func() {
			c.conn.ResumeOriginRecv()
			c.respWire.Resume()
		},
		SwitchToCache: c.switchToCache,
		StartBlindTunnel: c.enterBlindTunnel,
		ConsumeCompareBytes: func(n int) {
			_ = c.originBuf.Advance(c.compareReader, n)
		},
		Dispatch: dispatch,
		Repost:   repost,
	}, c.tx)

	return c, nil
}

// Transaction exposes the current HTTP transaction, mainly for the
// admin/stats surfaces and for tests.
func (c *Connection) Transaction() *httpwire.Transaction { return c.tx }

// ReqHdrBytes, ReqBytes, RespHdrBytes and RespBytes expose the wrapper's
// running byte counts (spec §4.3 hdr_bytes/msg_bytes) for the
// completion log line.
func (c *Connection) ReqHdrBytes() int64  { return c.reqWire.HdrBytes() }
func (c *Connection) ReqBytes() int64     { return c.reqWire.MsgBytes() }
func (c *Connection) RespHdrBytes() int64 { return c.respWire.HdrBytes() }
func (c *Connection) RespBytes() int64    { return c.respWire.MsgBytes() }

// CacheState exposes the cache FSM's current state for tests and stats.
func (c *Connection) CacheState() cachefsm.State { return c.cache.State() }

// SetCompareThreshold overrides the cache FSM's minimum buffered-body
// length before it attempts a checksum compare (spec §4.5/§9, default
// cachefsm.CompareThresholdDefault).
func (c *Connection) SetCompareThreshold(n int) { c.cache.SetCompareThreshold(n) }

// IsBlindTunnel reports whether this connection has degraded to a raw
// byte pipe.
func (c *Connection) IsBlindTunnel() bool { return c.conn.IsBlindTunnel() }

// ConnFSM exposes the leg state machine (C6) so the worker pool's I/O
// loop can drive BeginRecv/RecvCompleted/RecvFailed and
// BeginSend/SendCompleted around its actual socket reads and writes;
// the handler only ever consults it through the guard closures wired
// in New.
func (c *Connection) ConnFSM() *connfsm.Connection { return &c.conn }

// ClientRing and OriginRing expose the two IO-buffers so the worker
// loop can read socket bytes directly into writable spans and commit
// them, without the handler copying the data a second time.
func (c *Connection) ClientRing() *iobuf.Ring { return c.clientBuf }
func (c *Connection) OriginRing() *iobuf.Ring { return c.originBuf }

// Origin returns the polymorphic origin byte source so the worker loop
// can read from (or shut down) whichever source is currently active.
func (c *Connection) Origin() *switchstream.Stream { return c.origin }

// WriteClientBytes commits raw bytes into the client Ring, as if just
// read off the client socket; the worker loop's real read path does the
// same thing against the live net.Conn.
func (c *Connection) WriteClientBytes(p []byte) error {
	return writeRing(c.clientBuf, p)
}

// WriteOriginBytes is WriteClientBytes' origin-side counterpart.
func (c *Connection) WriteOriginBytes(p []byte) error {
	return writeRing(c.originBuf, p)
}

func writeRing(r *iobuf.Ring, p []byte) error {
	for len(p) > 0 {
		spans := r.WriteSpans()
		if len(spans) == 0 {
			return errors.New("handler: ring has no writable space")
		}
		n := copy(spans[0].Bytes(), p)
		if err := r.Commit(n); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// AttachOrigin installs the dialed origin socket once the acceptor's
// connect completes, matching connfsm's connecting→idle transition.
func (c *Connection) AttachOrigin(origin *switchstream.Stream) {
	c.origin = origin
	c.origin.OnSwitchedEOF(func() {
		// the cache served the last byte of the object: treat exactly
		// like an origin EOF so the existing close path runs unchanged.
		c.conn.RecvFailed(connfsm.LegOrigin, true)
	})
	c.conn.OriginConnected()
}

// OnClientData is invoked by the worker loop whenever the client socket
// produced new bytes committed into clientBuf. It advances the active
// transaction through the request parser in a loop over the buffered
// spans, growing the client buffer when the declared request length
// crosses the thresholds in spec §4.7.
func (c *Connection) OnClientData() error {
	spans, err := c.clientBuf.ReadSpans(c.clientReader)
	if err != nil {
		return err
	}

	var consumed int
	for _, span := range spans {
		n, perr := c.reqWire.Execute(span.Bytes())
		consumed += n
		if perr != nil {
			return c.failRequest(perr)
		}
		if n < span.Len {
			// parser paused or errored mid-span; stop feeding more data
			// until the caller re-invokes us after inspecting state.
			break
		}
	}

	if consumed > 0 {
		if err := c.clientBuf.Advance(c.clientReader, consumed); err != nil {
			return err
		}
	}

	if c.reqWire.Errored() {
		c.tryBlindTunnel()
		return nil
	}

	c.growClientBuffer()

	return nil
}

// OnOriginData is invoked whenever fresh bytes from the origin (or the
// switched cache reader) land in originBuf. It feeds the response
// parser, grows the origin buffer per spec §4.7, records bytes for the
// checksum compare, and drives the cache FSM.
func (c *Connection) OnOriginData(ctx context.Context) error {
	// The origin spoke before any request bytes went out: there is no
	// transaction to parse a response into, so drop straight into a
	// blind tunnel instead of feeding the response parser (spec §4.6
	// scenario "server talks first").
	if c.tx.Flags()&httpwire.ReqHdrsComplete == 0 {
		metrics.ServerTalksFirst.Inc()
		c.tx.SetCacheSkip()
		c.tryBlindTunnel()
		return nil
	}

	spans, err := c.originBuf.ReadSpans(c.originReader)
	if err != nil {
		return err
	}

	var consumed int
	for _, span := range spans {
		n, perr := c.respWire.Execute(span.Bytes())
		consumed += n
		c.tx.RecordOriginBytes(int64(n))
		if perr != nil {
			return c.failResponse(perr)
		}
		if n < span.Len {
			break
		}
	}

	if consumed > 0 {
		if err := c.originBuf.Advance(c.originReader, consumed); err != nil {
			return err
		}
	}

	if c.respWire.Errored() {
		c.tryBlindTunnel()
		return nil
	}

	if c.respWire.Paused() == httpwire.PauseAtHeaders {
		if key, ok := c.tx.GetCacheKey(); ok {
			if !c.compareReady {
				// register now, before any further Advance on
				// originReader, so this cursor starts exactly at the
				// first body byte the writer has committed so far.
				if rd, err := c.originBuf.Register(); err == nil {
					c.compareReader = rd
					c.compareReady = true
				}
			}
			buffered, _ := c.originBuf.Unread(c.compareReader)
			c.cache.OnOriginData(ctx, buffered, key, true)
			c.feedCompareBytes(ctx)
		}
		// cache arbitration (if any) runs async via Dispatch/Repost; the
		// response parser stays paused until the FSM either switches the
		// stream or settles into a write/tunnel path, at which point the
		// caller (worker loop, driven by the FSM's callbacks) calls Resume.
	}

	c.feedWritableBytes(ctx)
	c.growOriginBuffer()

	if !c.sentContentLength && c.bp != nil {
		if cl, ok := c.declaredResponseLength(); ok {
			if err := c.bp.SetContentLength(c.endpoint.ClientIP, c.endpoint.RemoteIP, c.endpoint.ClientPort, uint64(cl)); err == nil {
				c.sentContentLength = true
			}
		}
	}

	return nil
}

// feedCompareBytes supplies the FSM with the origin-side bytes once it
// reaches cache_compare: exactly the prefix buffered at the moment the
// compare began, read from compareReader without advancing it (the
// FSM's ConsumeCompareBytes callback does that once the outcome is
// decided, whichever way it goes).
func (c *Connection) feedCompareBytes(ctx context.Context) {
	if c.cache.State() != cachefsm.StateCacheCompare {
		return
	}
	n, _ := c.originBuf.Unread(c.compareReader)
	spans, err := c.originBuf.ReadSpans(c.compareReader)
	if err != nil {
		return
	}
	buf := make([]byte, 0, n)
	for _, span := range spans {
		buf = append(buf, span.Bytes()...)
	}
	c.cache.OnCompareOriginBytes(ctx, buf)
}

// feedWritableBytes pushes whatever has newly landed on the
// origin-to-cache reader into the FSM's write path once a miss has
// opened the object for write (cache_open_wr/cache_idle_wr). It is a
// no-op in every other state, including while a write is already
// outstanding (OnWritableBytes itself guards re-entrancy).
func (c *Connection) feedWritableBytes(ctx context.Context) {
	if !c.compareReady {
		return
	}
	switch c.cache.State() {
	case cachefsm.StateCacheIdleWr, cachefsm.StateCacheOpenWr:
	default:
		return
	}
	n, _ := c.originBuf.Unread(c.compareReader)
	if n == 0 {
		return
	}
	spans, err := c.originBuf.ReadSpans(c.compareReader)
	if err != nil {
		return
	}
	buf := make([]byte, 0, n)
	for _, span := range spans {
		buf = append(buf, span.Bytes()...)
	}
	c.cache.OnWritableBytes(ctx, buf, func(advanced int) {
		_ = c.originBuf.Advance(c.compareReader, advanced)
	})
}

func (c *Connection) declaredResponseLength() (int64, bool) {
	key, ok := c.tx.GetCacheKey()
	if !ok || key.ObjFullLen <= 0 {
		return 0, false
	}
	return key.ObjFullLen, true
}

// growClientBuffer raises the client Ring's block count to the tier the
// declared request Content-Length calls for (spec §4.7): tier 1 (8 KiB)
// above 64 KiB, tier 2 (16 KiB) above 512 KiB. Growth only ever adds
// blocks; it never shrinks.
func (c *Connection) growClientBuffer() {
	cl, ok := c.tx.ReqContentLength()
	if !ok {
		return
	}
	target := clientInitialBlocks
	switch {
	case cl > clientGrowAtLarge:
		target = 4
	case cl > clientGrowAtMid:
		target = 2
	}
	if target > c.clientBlocks {
		c.clientBuf.Expand(target - c.clientBlocks)
		c.clientBlocks = target
	}
}

// growOriginBuffer is growClientBuffer's mirror for the origin Ring,
// keyed off the response's declared object length (spec §4.7): 16 KiB
// above 512 KiB.
func (c *Connection) growOriginBuffer() {
	cl, ok := c.declaredResponseLength()
	if !ok {
		return
	}
	target := originInitialBlocks
	if cl > originGrowAtLarge {
		target = 2
	}
	if target > c.originBlocks {
		c.originBuf.Expand(target - c.originBlocks)
		c.originBlocks = target
	}
}

func (c *Connection) failRequest(err error) error {
	if errors.Is(err, httpwire.ErrParse) {
		c.tryBlindTunnel()
		return nil
	}
	return err
}

func (c *Connection) failResponse(err error) error {
	if errors.Is(err, httpwire.ErrParse) {
		c.tryBlindTunnel()
		return nil
	}
	return err
}

// switchToCache installs the cache handle as the origin stream's
// source once the checksum compare succeeds, and resumes origin recv
// so the client read loop continues unmodified (spec §4.5 compare_ok).
func (c *Connection) switchToCache(h cachehandle.Handle) {
	_ = c.origin.Switch(&handleReader{ctx: context.Background(), h: h})
}

// enterBlindTunnel degrades the connection to a raw byte pipe, per spec
// §4.6: HTTP-level processing stops and any already-buffered bytes in
// either direction become pending outbound to the opposite leg.
func (c *Connection) enterBlindTunnel() {
	// The cache FSM calls back into here through StartBlindTunnel; once
	// the connection is already a tunnel there is nothing left to do.
	if c.conn.IsBlindTunnel() {
		return
	}
	c.conn.EnterBlindTunnel()
	c.cache.TryBlindTunnel()
}

// tryBlindTunnel is the shared escape hatch invoked whenever the HTTP
// state machine reaches an unsupported or error state (spec §4.6: "on
// unsupported or error, issue try_blind_tunnel").
func (c *Connection) tryBlindTunnel() {
	if c.conn.IsBlindTunnel() {
		return
	}
	c.enterBlindTunnel()
}

// handleReader adapts a cachehandle.Handle (context-taking Read) to the
// plain io.Reader switchstream.CacheReader expects, binding a fixed
// context for the lifetime of the switched read (the connection's own
// context, cancelled at teardown).
type handleReader struct {
	ctx context.Context
	h   cachehandle.Handle
}

func (r *handleReader) Read(p []byte) (int, error) { return r.h.Read(r.ctx, p) }
func (r *handleReader) Close() error                { return r.h.Close() }
