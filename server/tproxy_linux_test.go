//go:build linux

package server

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPFromUint32RoundTripsEndpointFrom(t *testing.T) {
	ip := net.IPv4(93, 184, 216, 34).To4()
	v := binary.BigEndian.Uint32(ip)

	assert.True(t, ipFromUint32(v).Equal(net.IPv4(93, 184, 216, 34)))
}

func TestSetTransparentRejectsNilListener(t *testing.T) {
	err := setTransparent(nil)
	assert.Error(t, err)
}
