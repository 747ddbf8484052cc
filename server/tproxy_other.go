//go:build !linux

package server

import (
	"errors"
	"net"

	"github.com/omalloc/waypoint/core/handler"
)

// setTransparent and dialOrigin are Linux-only (IP_TRANSPARENT is a
// Linux socket option); this build keeps the package buildable
// elsewhere for development and unit testing away from the real TPROXY
// setup.

func setTransparent(net.Listener) error {
	return errors.New("server: IP_TRANSPARENT is only supported on linux")
}

func dialOrigin(endpoint handler.EndpointInfo) (net.Conn, error) {
	return net.Dial("tcp", endpoint.OriginIP)
}
