// Package switchstream implements the proxy's polymorphic origin byte
// source: it starts out as a TCP socket and, after a successful
// checksum compare, is replaced in place by a reader backed by the
// cache handle, without the owning handler's read loop knowing the
// difference. It is a tagged variant rather than an interface held
// behind a pointer, so the common case (plain socket) needs no extra
// heap indirection.
package switchstream

import (
	"errors"
	"io"
	"net"
)

// ErrAlreadySwitched is returned by Switch when called a second time.
var ErrAlreadySwitched = errors.New("switchstream: already switched")

// Kind tags which concrete source a Stream currently wraps.
type Kind uint8

const (
	// KindSocket is the initial TCP-socket-backed source.
	KindSocket Kind = iota
	// KindCache is a cache-handle-backed reader, installed by Switch.
	KindCache
)

// CacheReader is the minimal surface a cache-handle-backed reader must
// offer to back a Stream. Its EOF is reported distinctly from a socket's
// (see OnSwitchedEOF) so the handler knows the cache served the last
// byte of the object and the client leg may be closed cleanly.
type CacheReader interface {
	io.Reader
	Close() error
}

// Stream is an async byte source that is either a TCP socket or a
// cache-handle-backed reader. It is safe to use only from the single
// worker goroutine that owns the connection.
type Stream struct {
	kind Kind
	conn net.Conn
	cr   CacheReader

	// onSwitchedEOF is invoked instead of the ordinary EOF handling the
	// first time Read observes io.EOF from a cache-backed source, so the
	// owning handler can tell "the cache finished delivering this
	// object" apart from "the origin socket closed".
	onSwitchedEOF func()
}

// New wraps a just-dialed (or just-accepted) TCP connection.
func New(conn net.Conn) *Stream {
	return &Stream{kind: KindSocket, conn: conn}
}

// Kind reports which concrete source is active.
func (s *Stream) Kind() Kind { return s.kind }

// IsOpen reports whether the stream has an active underlying source.
func (s *Stream) IsOpen() bool {
	if s.kind == KindSocket {
		return s.conn != nil
	}
	return s.cr != nil
}

// OnSwitchedEOF installs the callback invoked the first time the
// cache-backed reader (after Switch) returns io.EOF.
func (s *Stream) OnSwitchedEOF(fn func()) {
	s.onSwitchedEOF = fn
}

// Switch replaces the stream's source with a cache-handle-backed reader.
// It is legal to call exactly once per Stream, and only while the owning
// handler has paused any outstanding read on the socket form (the
// connection FSM's `paused` receive state, §4.6).
func (s *Stream) Switch(cr CacheReader) error {
	if s.kind == KindCache {
		return ErrAlreadySwitched
	}
	s.kind = KindCache
	s.cr = cr
	return nil
}

// ReadSome reads into buf, reporting n bytes read and any error. On the
// cache-backed form, io.EOF is intercepted: onSwitchedEOF is invoked (if
// set) and io.EOF is still returned to the caller so read-loop plumbing
// that already understands EOF keeps working unmodified.
func (s *Stream) ReadSome(buf []byte) (int, error) {
	if s.kind == KindSocket {
		if s.conn == nil {
			return 0, net.ErrClosed
		}
		return s.conn.Read(buf)
	}

	if s.cr == nil {
		return 0, net.ErrClosed
	}
	n, err := s.cr.Read(buf)
	if errors.Is(err, io.EOF) && s.onSwitchedEOF != nil {
		s.onSwitchedEOF()
	}
	return n, err
}

// Shutdown half-closes the socket form for the given side ("r", "w", or
// "rw"); it is a no-op on the cache-backed form, which has no notion of
// a write side.
func (s *Stream) Shutdown(side string) error {
	if s.kind != KindSocket || s.conn == nil {
		return nil
	}
	tc, ok := s.conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	switch side {
	case "r":
		return tc.CloseRead()
	case "w":
		return tc.CloseWrite()
	default:
		return tc.Close()
	}
}

// Close releases the active underlying source.
func (s *Stream) Close() error {
	if s.kind == KindSocket {
		if s.conn == nil {
			return nil
		}
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	if s.cr == nil {
		return nil
	}
	err := s.cr.Close()
	s.cr = nil
	return err
}

// Conn exposes the raw socket for operations Stream doesn't wrap
// (SetDeadline, remote address, writes to the origin). Returns nil once
// switched.
func (s *Stream) Conn() net.Conn {
	if s.kind == KindSocket {
		return s.conn
	}
	return nil
}
