// Package backpressure is the narrow send-command client surfaced to
// the HTTP handler (C7) for talking to the out-of-band kernel module
// that shapes connection-level back-pressure (spec §4.8/§6.3). The wire
// format is a small fixed binary record; encoding/binary over the
// record is a deliberate stdlib choice (see DESIGN.md) since the record
// has no framing beyond its own fixed size and no library in the
// example pack offers anything narrower than a general codec would be.
package backpressure

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// Op selects which kernel-module command a Command encodes.
type Op uint8

const (
	// OpAddDel toggles an entry keyed by (client, remote) endpoint: the
	// first send for a connection adds it, the teardown send removes it.
	OpAddDel Op = iota
	// OpSetLen tells the module the transaction's declared content
	// length, sent at most once per transaction.
	OpSetLen
	// OpChunkEnd tells the module a chunked response ended, since no
	// content length was ever declared for it.
	OpChunkEnd
)

// Command is the fixed-size binary record the kernel module expects.
// Field order and widths match spec §6.3 exactly.
type Command struct {
	ContentLen uint64
	ClientIP   uint32 // big-endian network order
	RemoteIP   uint32 // big-endian network order
	ClientPort uint16 // big-endian network order
	Op         Op
}

const wireSize = 8 + 4 + 4 + 2 + 1

// Encode serialises c into the kernel module's wire format.
func (c Command) Encode() []byte {
	buf := make([]byte, wireSize)
	binary.BigEndian.PutUint64(buf[0:8], c.ContentLen)
	binary.BigEndian.PutUint32(buf[8:12], c.ClientIP)
	binary.BigEndian.PutUint32(buf[12:16], c.RemoteIP)
	binary.BigEndian.PutUint16(buf[16:18], c.ClientPort)
	buf[18] = byte(c.Op)
	return buf
}

// Client sends Commands to the kernel module's control socket. One
// Client is bound per worker (spec §5: "the back-pressure client
// socket (each worker binds its own)"); Send and Close serialise on an
// internal mutex, so concurrent calls on one Client do not interleave.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial opens the control socket at network/address (typically a Unix
// datagram socket the kernel module listens on).
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("backpressure: dial %s %s: %w", network, address, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one Command. Any send failure is treated by the caller
// (C7) as cause to try_blind_tunnel per spec §4.8.
func (c *Client) Send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := cmd.Encode()
	n, err := c.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("backpressure: send: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("backpressure: short write %d/%d", n, len(buf))
	}
	return nil
}

// AddEntry registers a (client, remote) endpoint pair at origin
// pre-connect.
func (c *Client) AddEntry(clientIP, remoteIP uint32, clientPort uint16) error {
	return c.Send(Command{Op: OpAddDel, ClientIP: clientIP, RemoteIP: remoteIP, ClientPort: clientPort})
}

// RemoveEntry is the symmetric teardown call, issued at connection
// close or at any try_blind_tunnel.
func (c *Client) RemoveEntry(clientIP, remoteIP uint32, clientPort uint16) error {
	return c.Send(Command{Op: OpAddDel, ClientIP: clientIP, RemoteIP: remoteIP, ClientPort: clientPort})
}

// SetContentLength is sent exactly once per non-tunnel transaction, as
// soon as the declared length is known.
func (c *Client) SetContentLength(clientIP, remoteIP uint32, clientPort uint16, length uint64) error {
	return c.Send(Command{Op: OpSetLen, ClientIP: clientIP, RemoteIP: remoteIP, ClientPort: clientPort, ContentLen: length})
}

// MarkChunkedEnd is sent when a response turns out to be chunked, since
// no content length was ever declared for it.
func (c *Client) MarkChunkedEnd(clientIP, remoteIP uint32, clientPort uint16) error {
	return c.Send(Command{Op: OpChunkEnd, ClientIP: clientIP, RemoteIP: remoteIP, ClientPort: clientPort})
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Decode parses a wire-format record back into a Command, used by
// tests and by any loopback fake listener exercising Client.
func Decode(buf []byte) (Command, error) {
	if len(buf) != wireSize {
		return Command{}, fmt.Errorf("backpressure: short record %d bytes", len(buf))
	}
	var c Command
	c.ContentLen = binary.BigEndian.Uint64(buf[0:8])
	c.ClientIP = binary.BigEndian.Uint32(buf[8:12])
	c.RemoteIP = binary.BigEndian.Uint32(buf[12:16])
	c.ClientPort = binary.BigEndian.Uint16(buf[16:18])
	c.Op = Op(buf[18])
	return c, nil
}
