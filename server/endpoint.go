package server

import (
	"encoding/binary"
	"net"

	"github.com/omalloc/waypoint/core/handler"
)

// endpointFrom reads the accepted socket's two addresses into an
// EndpointInfo. Under TPROXY (with IP_TRANSPARENT set on the listener)
// the kernel hands back the connection's original addressing
// untouched: LocalAddr is the destination the client actually dialed
// (the origin this connection must reach), RemoteAddr is the client's
// own address, needed both for back-pressure commands and to spoof the
// dial's source address.
func endpointFrom(conn net.Conn) (handler.EndpointInfo, bool) {
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return handler.EndpointInfo{}, false
	}
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return handler.EndpointInfo{}, false
	}

	clientIP4 := remote.IP.To4()
	originIP4 := local.IP.To4()
	if clientIP4 == nil || originIP4 == nil {
		return handler.EndpointInfo{}, false
	}

	return handler.EndpointInfo{
		ClientIP:   binary.BigEndian.Uint32(clientIP4),
		RemoteIP:   binary.BigEndian.Uint32(originIP4),
		ClientPort: uint16(remote.Port),
		OriginIP:   local.String(),
	}, true
}
