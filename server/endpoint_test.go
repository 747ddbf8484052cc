package server

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeAddrConn struct {
	net.Conn
	remote net.Addr
	local  net.Addr
}

func (c *fakeAddrConn) RemoteAddr() net.Addr { return c.remote }
func (c *fakeAddrConn) LocalAddr() net.Addr  { return c.local }

func TestEndpointFromExtractsTCPAddrs(t *testing.T) {
	conn := &fakeAddrConn{
		remote: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 54321},
		local:  &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 80},
	}

	ep, ok := endpointFrom(conn)
	assert.True(t, ok)
	assert.Equal(t, binary.BigEndian.Uint32(net.IPv4(10, 0, 0, 5).To4()), ep.ClientIP)
	assert.Equal(t, binary.BigEndian.Uint32(net.IPv4(93, 184, 216, 34).To4()), ep.RemoteIP)
	assert.Equal(t, uint16(54321), ep.ClientPort)
	assert.Equal(t, "93.184.216.34:80", ep.OriginIP)
}

func TestEndpointFromRejectsNonTCPAddr(t *testing.T) {
	conn := &fakeAddrConn{
		remote: &net.UnixAddr{Name: "/tmp/sock", Net: "unix"},
		local:  &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 80},
	}

	_, ok := endpointFrom(conn)
	assert.False(t, ok)
}

func TestEndpointFromRejectsIPv6(t *testing.T) {
	conn := &fakeAddrConn{
		remote: &net.TCPAddr{IP: net.ParseIP("::1"), Port: 1234},
		local:  &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 80},
	}

	_, ok := endpointFrom(conn)
	assert.False(t, ok)
}
