package backpressure_test

import (
	"testing"

	"github.com/omalloc/waypoint/core/backpressure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_EncodeDecodeRoundTrip(t *testing.T) {
	cmd := backpressure.Command{
		ContentLen: 123456,
		ClientIP:   0xC0A80001,
		RemoteIP:   0x08080808,
		ClientPort: 443,
		Op:         backpressure.OpSetLen,
	}
	got, err := backpressure.Decode(cmd.Encode())
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestDecode_RejectsShortRecord(t *testing.T) {
	_, err := backpressure.Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCommand_FieldOrderMatchesWireLayout(t *testing.T) {
	cmd := backpressure.Command{ContentLen: 1, ClientIP: 2, RemoteIP: 3, ClientPort: 4, Op: backpressure.OpChunkEnd}
	buf := cmd.Encode()
	require.Len(t, buf, 19)
	assert.Equal(t, byte(1), buf[7], "content length is big-endian in the first 8 bytes")
	assert.Equal(t, byte(backpressure.OpChunkEnd), buf[18], "op is the final byte")
}
