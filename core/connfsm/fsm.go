// Package connfsm implements the proxy-connection state machine (spec
// §4.6): per-leg receive/send/shutdown/close coordination between the
// client and origin sockets, plus the half-closed stall sweep.
package connfsm

import "time"

// RecvState is a leg's receive-axis state.
type RecvState int

const (
	RecvStart RecvState = iota
	RecvConnecting        // origin leg only
	RecvIdle
	RecvReading
	RecvEOF
	RecvErr
	RecvPaused // origin leg only, via PauseOriginRecv/ResumeOriginRecv
)

// SendState is a leg's send-axis state.
type SendState int

const (
	SendStart SendState = iota
	SendConnecting // origin leg only
	SendIdle
	SendSending
	SendErr
)

// ShutdownState tracks the per-leg shutdown-coordination super-state.
type ShutdownState int

const (
	ShutdownWaitEnd ShutdownState = iota
	ShutdownRequested
	ShutdownDone
)

// Leg is one side (client or origin) of a connection's dual axes.
type Leg struct {
	Recv     RecvState
	Send     SendState
	Shutdown ShutdownState

	// pendingShutdown records a shutdown-send or close request deferred
	// because the opposite leg's reader still has unconsumed bytes
	// (spec §4.6: dropping them would lose data received from the
	// origin but not yet sent to the client, or vice versa).
	pendingShutdown bool
	pendingClose    bool
}

// LegKind distinguishes the client leg from the origin leg, which alone
// uses the connecting/paused sub-states.
type LegKind uint8

const (
	LegClient LegKind = iota
	LegOrigin
)

// Guards bundles the four predicates §4.6 names, each recomputed by the
// caller (the handler owns the actual buffers and readers these guards
// inspect).
type Guards struct {
	OrgRecvAllowed func() bool
	ClnRecvAllowed func() bool
	OrgSendAllowed func() bool
	ClnSendAllowed func() bool
}

// Connection drives both legs plus blind-tunnel mode and the stall
// sweep bookkeeping for one proxy session.
type Connection struct {
	Client Leg
	Origin Leg

	guards Guards

	blindTunnel bool

	// recvBytesTotal / lastSweepSnapshot back the half-closed stall sweep:
	// a periodic sweep (driven externally, every 60s per spec) compares
	// the current counters against the last sweep's snapshot and closes
	// the connection if nothing changed while at least one leg is
	// half-closed.
	halfClosed        bool
	recvBytesTotal    int64
	lastSweepSnapshot int64
}

// New returns a Connection with both legs in their start states.
func New(g Guards) *Connection {
	return &Connection{guards: g}
}

// StartOriginConnect transitions the origin leg's recv/send axes into
// connecting, mirroring accept-time client leg initialisation (which
// begins directly in idle, since the client socket is already
// established by the acceptor).
func (c *Connection) StartOriginConnect() {
	c.Origin.Recv = RecvConnecting
	c.Origin.Send = SendConnecting
	c.Client.Recv = RecvIdle
	c.Client.Send = SendIdle
}

// OriginConnected transitions the origin leg out of connecting once the
// dial completes.
func (c *Connection) OriginConnected() {
	c.Origin.Recv = RecvIdle
	c.Origin.Send = SendIdle
}

// BeginRecv marks a leg as actively reading.
func (c *Connection) BeginRecv(k LegKind) {
	c.legPtr(k).Recv = RecvReading
}

// RecvCompleted marks a leg's read as finished (more data may follow);
// it returns to idle unless eof/err is set via RecvEOF/RecvErr directly.
func (c *Connection) RecvCompleted(k LegKind, n int) {
	leg := c.legPtr(k)
	if leg.Recv == RecvReading {
		leg.Recv = RecvIdle
	}
	c.recvBytesTotal += int64(n)
}

// RecvFailed marks a leg's receive axis as ended by EOF or error and
// evaluates whether this leg is now half-closed.
func (c *Connection) RecvFailed(k LegKind, eof bool) {
	leg := c.legPtr(k)
	if eof {
		leg.Recv = RecvEOF
	} else {
		leg.Recv = RecvErr
	}
	c.markHalfClosedIfNeeded()
}

// PauseOriginRecv / ResumeOriginRecv implement the origin-only paused
// sub-state used while a cache operation is outstanding (spec §4.5/§4.6:
// "paused reachable only on origin").
func (c *Connection) PauseOriginRecv() {
	if c.Origin.Recv == RecvReading || c.Origin.Recv == RecvIdle {
		c.Origin.Recv = RecvPaused
	}
}

func (c *Connection) ResumeOriginRecv() {
	if c.Origin.Recv == RecvPaused {
		c.Origin.Recv = RecvIdle
	}
}

// BeginSend / SendCompleted / SendFailed mirror the recv-axis helpers
// for the send axis.
func (c *Connection) BeginSend(k LegKind) { c.legPtr(k).Send = SendSending }

func (c *Connection) SendCompleted(k LegKind) {
	leg := c.legPtr(k)
	if leg.Send == SendSending {
		leg.Send = SendIdle
	}
	c.drainPendingShutdown(leg)
}

func (c *Connection) SendFailed(k LegKind) {
	c.legPtr(k).Send = SendErr
	c.markHalfClosedIfNeeded()
}

// RequestShutdownSend asks to half-close a leg's send side. If the
// cross-leg reader (the buffer whose bytes flow toward this leg) still
// has unconsumed bytes, the request is deferred until SendCompleted
// next drains it (spec §4.6).
func (c *Connection) RequestShutdownSend(k LegKind, crossLegHasUnsent bool) bool {
	leg := c.legPtr(k)
	if crossLegHasUnsent {
		leg.pendingShutdown = true
		return false
	}
	leg.Shutdown = ShutdownDone
	return true
}

// RequestClose is the same deferral rule as RequestShutdownSend, for a
// full close rather than a half-close.
func (c *Connection) RequestClose(k LegKind, crossLegHasUnsent bool) bool {
	leg := c.legPtr(k)
	if crossLegHasUnsent {
		leg.pendingClose = true
		return false
	}
	leg.Shutdown = ShutdownDone
	return true
}

func (c *Connection) drainPendingShutdown(leg *Leg) {
	if leg.pendingClose {
		leg.pendingClose = false
		leg.Shutdown = ShutdownDone
	} else if leg.pendingShutdown {
		leg.pendingShutdown = false
		leg.Shutdown = ShutdownDone
	}
}

// EnterBlindTunnel destroys HTTP-level processing; bytes already
// buffered in each direction become pending outbound to the opposite
// leg, and receive-resume is expected to be raised by the caller as
// soon as space appears on each leg (spec §4.6).
func (c *Connection) EnterBlindTunnel() {
	c.blindTunnel = true
	if c.Origin.Recv == RecvPaused {
		c.Origin.Recv = RecvIdle
	}
}

// IsBlindTunnel reports whether the connection has degraded to a raw
// byte pipe.
func (c *Connection) IsBlindTunnel() bool { return c.blindTunnel }

// OrgRecvAllowed, ClnRecvAllowed, OrgSendAllowed and ClnSendAllowed
// expose the four guard predicates to callers outside this package. A
// nil guard (unset by the caller) is treated as always-allowed.
func (c *Connection) OrgRecvAllowed() bool { return c.guards.OrgRecvAllowed == nil || c.guards.OrgRecvAllowed() }
func (c *Connection) ClnRecvAllowed() bool { return c.guards.ClnRecvAllowed == nil || c.guards.ClnRecvAllowed() }
func (c *Connection) OrgSendAllowed() bool { return c.guards.OrgSendAllowed == nil || c.guards.OrgSendAllowed() }
func (c *Connection) ClnSendAllowed() bool { return c.guards.ClnSendAllowed == nil || c.guards.ClnSendAllowed() }

// markHalfClosedIfNeeded flags the connection for the stall sweep once
// either leg's receive axis has ended.
func (c *Connection) markHalfClosedIfNeeded() {
	if c.Client.Recv == RecvEOF || c.Client.Recv == RecvErr ||
		c.Origin.Recv == RecvEOF || c.Origin.Recv == RecvErr {
		c.halfClosed = true
	}
}

// HalfClosed reports whether this connection belongs on the per-worker
// half-closed list.
func (c *Connection) HalfClosed() bool { return c.halfClosed }

// StallSweepTick implements one pass of the periodic sweep (spec §4.6:
// "a periodic sweep (every 60s) closes connections whose receive
// counters have not changed since the previous sweep"). It returns true
// when the caller should close the connection.
func (c *Connection) StallSweepTick() bool {
	stalled := c.halfClosed && c.recvBytesTotal == c.lastSweepSnapshot
	c.lastSweepSnapshot = c.recvBytesTotal
	return stalled
}

// StallSweepInterval is the spec-mandated default sweep period.
const StallSweepInterval = 60 * time.Second

func (c *Connection) legPtr(k LegKind) *Leg {
	if k == LegOrigin {
		return &c.Origin
	}
	return &c.Client
}
