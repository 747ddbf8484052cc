//go:build linux

package server

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/omalloc/waypoint/core/handler"
)

// setTransparent marks ln's listening socket IP_TRANSPARENT so the
// kernel hands accept() connections whose destination address was
// never actually bound locally - the TPROXY redirect target (spec
// §6.1). Must run before the iptables TPROXY rule can deliver traffic
// here; a non-TCP listener is left untouched.
func setTransparent(ln net.Listener) error {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return errors.New("listener is not TCP")
	}
	sc, err := tl.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = sc.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}

// dialOrigin connects to the real destination the client asked for
// (endpoint.OriginIP, captured before TPROXY redirected the socket to
// us) while spoofing the local source address as the client's own -
// the half of TPROXY that makes the origin see the real client IP
// instead of the proxy's. Requires IP_TRANSPARENT and a routing rule
// directing locally-originated traffic with a foreign source back out
// normally; both are host setup, not something this process configures.
func dialOrigin(endpoint handler.EndpointInfo) (net.Conn, error) {
	d := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
		LocalAddr: &net.TCPAddr{IP: ipFromUint32(endpoint.ClientIP), Port: int(endpoint.ClientPort)},
	}
	return d.Dial("tcp", endpoint.OriginIP)
}

func ipFromUint32(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
