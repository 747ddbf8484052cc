//go:build !linux

package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTransparentUnsupportedOffLinux(t *testing.T) {
	err := setTransparent(nil)
	assert.Error(t, err)
}
