// Package server runs the transparent proxy's accept loop: a TPROXY
// listener handed to us by tableflip for zero-downtime restarts, and a
// bounded worker pool that drives one core/handler.Connection per
// accepted socket. Unlike the teacher's reverse proxy, the data path
// here never touches net/http - bytes move straight between the
// client and origin sockets through the handler's IO-buffers.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/tableflip"

	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/contrib/log"
	"github.com/omalloc/waypoint/contrib/transport"
	"github.com/omalloc/waypoint/core/backpressure"
	"github.com/omalloc/waypoint/core/cachefsm"
	"github.com/omalloc/waypoint/core/cachehandle"
	"github.com/omalloc/waypoint/core/connfsm"
	"github.com/omalloc/waypoint/core/handler"
	"github.com/omalloc/waypoint/metrics"
	"github.com/omalloc/waypoint/pkg/iobuf"
	"github.com/omalloc/waypoint/pkg/switchstream"
	xruntime "github.com/omalloc/waypoint/pkg/x/runtime"
	"github.com/omalloc/waypoint/server/admin"
	"github.com/omalloc/waypoint/server/mod"
)

// kindProxy tags log/context plumbing shared with server/admin so a
// handler several calls deep can tell which transport it's serving.
const kindProxy transport.Kind = "proxy"

var _ transport.Server = (*Server)(nil)

// Server is the TPROXY accept loop plus its bounded connection pool.
type Server struct {
	config *conf.Bootstrap
	flip   *tableflip.Upgrader
	dist   cachehandle.Distributor
	bp     *backpressure.Client

	accessLog *mod.AccessLogger

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup

	stopOnce sync.Once
	closeCh  chan struct{}

	active       atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	blindTunnels atomic.Int64
}

// Stats implements admin.StatsSource, reducing the counters every
// connection goroutine updates into the §6.4 snapshot shape.
func (s *Server) Stats() admin.Snapshot {
	return admin.Snapshot{
		ActiveConnections: s.active.Load(),
		CacheHits:         s.cacheHits.Load(),
		CacheMisses:       s.cacheMisses.Load(),
		BlindTunnels:      s.blindTunnels.Load(),
	}
}

// NewServer builds a Server ready to Start. bp stays nil if no
// back-pressure socket is configured; the handler checks for a nil
// client and then sends no spec §6.3 command.
func NewServer(flip *tableflip.Upgrader, bc *conf.Bootstrap, dist cachehandle.Distributor) (*Server, error) {
	var bp *backpressure.Client
	if bc.Backpressure != nil && bc.Backpressure.Address != "" {
		client, err := backpressure.Dial(bc.Backpressure.Network, bc.Backpressure.Address)
		if err != nil {
			return nil, err
		}
		bp = client
	}

	workers := int(bc.Worker.ScaleFactor * float64(runtime.NumCPU()))
	if workers <= 0 {
		workers = runtime.NumCPU() * 4
	}

	return &Server{
		config:    bc,
		flip:      flip,
		dist:      dist,
		bp:        bp,
		accessLog: mod.NewAccessLogger(bc.Admin.AccessLog),
		sem:       make(chan struct{}, workers),
		closeCh:   make(chan struct{}),
	}, nil
}

// Start opens the TPROXY listener through tableflip (so a SIGHUP
// upgrade hands the live fd to the new process instead of dropping
// connections) and blocks accepting until Stop closes the listener.
func (s *Server) Start(ctx context.Context) error {
	ctx = transport.WithKind(ctx, kindProxy)

	ln, err := s.flip.Listen("tcp", s.config.Listener.Addr)
	if err != nil {
		return err
	}
	if err := setTransparent(ln); err != nil {
		log.Warnf("listener: IP_TRANSPARENT not applied: %v", err)
	}
	s.listener = ln

	log.Infof("%s listening on %s", transport.FromContext(ctx).Kind(), s.config.Listener.Addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warnf("accept: %v", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.closeCh:
			_ = conn.Close()
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("connection panic: %v\n%s", r, xruntime.PrintStackTrace(2))
				}
			}()
			s.serveConn(ctx, conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections to
// drain, matching the teacher's graceful-shutdown ordering.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.closeCh) })
	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.bp != nil {
		return s.bp.Close()
	}
	return nil
}

// stallSweepInterval resolves the worker-config sweep period, falling
// back to spec §4.6's 60s default when unset.
func stallSweepInterval(w *conf.Worker) time.Duration {
	if w == nil || w.StallSweepInterval <= 0 {
		return 60 * time.Second
	}
	return w.StallSweepInterval
}

// serveConn drives one accepted client socket end to end: builds a
// handler.Connection, dials the origin with the client's own source
// address spoofed onto the dial socket (TPROXY's defining trick), then
// pumps bytes between the two sockets and the handler's FSMs until
// either side closes.
func (s *Server) serveConn(ctx context.Context, client net.Conn) {
	defer client.Close()

	metrics.ActiveConnections.Inc()
	s.active.Add(1)
	defer func() {
		metrics.ActiveConnections.Dec()
		s.active.Add(-1)
	}()

	endpoint, ok := endpointFrom(client)
	if !ok {
		log.Warnf("connection: could not resolve TPROXY endpoint, dropping")
		return
	}

	dispatch := func(fn func()) { go fn() }
	repost := dispatch

	transport := &connTransport{client: client}

	conn, err := handler.New(s.dist, s.bp, endpoint, transport, dispatch, repost)
	if err != nil {
		log.Errorf("connection: build handler: %v", err)
		return
	}
	transport.conn = conn

	ctx, metric := metrics.WithRequestMetric(ctx, client.RemoteAddr().String())
	ctx = log.WithContext(ctx, "request_id", metric.RequestID)

	origin, err := dialOrigin(endpoint)
	if err != nil {
		log.Warnf("origin: dial %s: %v", endpoint.OriginIP, err)
		return
	}
	conn.AttachOrigin(switchstream.New(origin))

	fsm := conn.ConnFSM()
	fsm.StartOriginConnect()
	fsm.OriginConnected()

	sweep := time.NewTicker(stallSweepInterval(s.config.Worker))
	defer sweep.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pumpClient(ctx, conn, client) }()
	go func() { defer wg.Done(); pumpOrigin(ctx, conn) }()

	go func() {
		for range sweep.C {
			if fsm.StallSweepTick() {
				_ = client.Close()
				return
			}
		}
	}()

	wg.Wait()

	state := conn.CacheState()
	metrics.CacheResult.WithLabelValues(state.String()).Inc()
	switch state {
	case cachefsm.StateCacheRead:
		s.cacheHits.Add(1)
	case cachefsm.StateCacheWrite, cachefsm.StateCacheOpenWr:
		s.cacheMisses.Add(1)
	}
	if conn.IsBlindTunnel() {
		metrics.BlindTunnels.Inc()
		s.blindTunnels.Add(1)
	}

	if s.accessLog != nil {
		metric.ReqHdrLen = conn.ReqHdrBytes()
		metric.RecvReq = uint64(conn.ReqBytes())
		metric.RespHdrLen = conn.RespHdrBytes()
		metric.SentResp = uint64(conn.RespBytes())
		s.accessLog.LogTransaction(conn.Transaction(), metric)
	}
}

// pumpClient reads bytes off the client socket into the handler's
// client Ring and feeds the request parser, stopping on EOF or an
// unrecoverable parse failure.
func pumpClient(_ context.Context, conn *handler.Connection, client net.Conn) {
	ring := conn.ClientRing()
	fsm := conn.ConnFSM()
	for {
		spans := ring.WriteSpans()
		if len(spans) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		fsm.BeginRecv(connfsm.LegClient)
		n, err := client.Read(spans[0].Bytes())
		if n > 0 {
			_ = ring.Commit(n)
			fsm.RecvCompleted(connfsm.LegClient, n)
			if perr := conn.OnClientData(); perr != nil {
				fsm.RecvFailed(connfsm.LegClient, true)
				return
			}
		}
		if err != nil {
			fsm.RecvFailed(connfsm.LegClient, errors.Is(err, io.EOF))
			return
		}
	}
}

// pumpOrigin reads from the polymorphic origin source (raw socket or,
// once switched, the cache file) into the origin Ring and feeds the
// response parser / cache-compare path.
func pumpOrigin(ctx context.Context, conn *handler.Connection) {
	ring := conn.OriginRing()
	fsm := conn.ConnFSM()
	for {
		origin := conn.Origin()
		if !origin.IsOpen() {
			return
		}
		spans := ring.WriteSpans()
		if len(spans) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		fsm.BeginRecv(connfsm.LegOrigin)
		n, err := origin.ReadSome(spans[0].Bytes())
		if n > 0 {
			_ = ring.Commit(n)
			fsm.RecvCompleted(connfsm.LegOrigin, n)
			if perr := conn.OnOriginData(ctx); perr != nil {
				fsm.RecvFailed(connfsm.LegOrigin, true)
				return
			}
		}
		if err != nil {
			fsm.RecvFailed(connfsm.LegOrigin, errors.Is(err, io.EOF))
			return
		}
	}
}

// connTransport is the handler.Transport implementation bound to the
// live client socket; origin-side sends go out through the switched
// stream directly rather than through this Transport, since the origin
// leg's source can change mid-connection (cache vs. socket).
type connTransport struct {
	client net.Conn
	conn   *handler.Connection
}

func (t *connTransport) Send(leg connfsm.LegKind, spans []iobuf.Span) (int, error) {
	var total int
	var dst net.Conn
	switch leg {
	case connfsm.LegClient:
		dst = t.client
	case connfsm.LegOrigin:
		dst = t.conn.Origin().Conn()
	}
	if dst == nil {
		return 0, errors.New("transport: no destination for leg")
	}
	for _, span := range spans {
		n, err := dst.Write(span.Bytes())
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (t *connTransport) Shutdown(leg connfsm.LegKind, side string) error {
	if leg == connfsm.LegOrigin {
		return t.conn.Origin().Shutdown(side)
	}
	if tc, ok := t.client.(*net.TCPConn); ok {
		if side == "write" {
			return tc.CloseWrite()
		}
		return tc.CloseRead()
	}
	return nil
}

func (t *connTransport) Close(leg connfsm.LegKind) error {
	if leg == connfsm.LegOrigin {
		return t.conn.Origin().Close()
	}
	return t.client.Close()
}
