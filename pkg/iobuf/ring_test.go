package iobuf_test

import (
	"testing"

	"github.com/omalloc/waypoint/pkg/iobuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAll(t *testing.T, r *iobuf.Ring, data []byte) {
	t.Helper()
	for len(data) > 0 {
		w := r.WritableBytes()
		require.Greater(t, w, 0, "ring stalled before all data written")
		n := min(w, len(data))
		spans := r.WriteSpans()
		copied := 0
		for _, sp := range spans {
			if copied >= n {
				break
			}
			take := min(sp.Len, n-copied)
			copy(sp.Bytes()[:take], data[copied:copied+take])
			copied += take
		}
		require.NoError(t, r.Commit(copied))
		data = data[copied:]
	}
}

func readAll(t *testing.T, r *iobuf.Ring, rd iobuf.Reader) []byte {
	t.Helper()
	spans, err := r.ReadSpans(rd)
	require.NoError(t, err)
	var out []byte
	for _, sp := range spans {
		out = append(out, sp.Bytes()...)
	}
	require.NoError(t, r.Advance(rd, len(out)))
	return out
}

func TestRing_SingleReaderRoundTrip(t *testing.T) {
	r := iobuf.NewRing(8, 4)
	rd, err := r.Register()
	require.NoError(t, err)

	payload := []byte("0123456789abcdef0123")
	writeAll(t, r, payload)

	got := readAll(t, r, rd)
	assert.Equal(t, payload, got)
}

func TestRing_WritableBytesZeroWithoutReaders(t *testing.T) {
	r := iobuf.NewRing(8, 2)
	assert.Equal(t, 0, r.WritableBytes())
}

func TestRing_SlowestReaderGovernsWindow(t *testing.T) {
	r := iobuf.NewRing(4, 4) // 16 bytes capacity
	fast, err := r.Register()
	require.NoError(t, err)
	slow, err := r.Register()
	require.NoError(t, err)

	writeAll(t, r, []byte("0123456789ab")) // 12 bytes, leaves 3 writable (16-12-1)
	assert.Equal(t, 3, r.WritableBytes())

	_ = readAll(t, r, fast) // fast catches up, slow still behind
	assert.Equal(t, 3, r.WritableBytes(), "writable bytes still bounded by slow reader")

	_ = readAll(t, r, slow)
	assert.Equal(t, 15, r.WritableBytes()) // capacity - 0 - 1
}

func TestRing_RegisterPlacesAtMinimumOffset(t *testing.T) {
	r := iobuf.NewRing(4, 4)
	a, err := r.Register()
	require.NoError(t, err)
	writeAll(t, r, []byte("0123456"))
	_ = readAll(t, r, a) // a catches up to writer (offset 7)

	b, err := r.Register()
	require.NoError(t, err)
	// b registers at the writer's offset since a (the only other reader)
	// has already consumed everything - b must not be placed behind a's
	// stale position once a is caught up.
	unreadB, err := r.Unread(b)
	require.NoError(t, err)
	assert.Equal(t, 0, unreadB)
}

func TestRing_TooManyReaders(t *testing.T) {
	r := iobuf.NewRing(4, 1)
	for i := 0; i < iobuf.MaxReaders; i++ {
		_, err := r.Register()
		require.NoError(t, err)
	}
	_, err := r.Register()
	assert.ErrorIs(t, err, iobuf.ErrTooManyReaders)
}

func TestRing_UnregisterFreesSlot(t *testing.T) {
	r := iobuf.NewRing(4, 1)
	rd, err := r.Register()
	require.NoError(t, err)
	require.NoError(t, r.Unregister(rd))

	_, err = r.Register()
	require.NoError(t, err)
}

func TestRing_ExpandPreservesReaderByteStream(t *testing.T) {
	r := iobuf.NewRing(4, 2) // 8 bytes capacity
	rd, err := r.Register()
	require.NoError(t, err)

	writeAll(t, r, []byte("012"))
	before := make([]byte, 3)
	// peek without consuming, by reading then rewinding is not supported;
	// instead verify via a second reader that never advances.
	peek, err := r.Register()
	require.NoError(t, err)
	spans, err := r.ReadSpans(peek)
	require.NoError(t, err)
	n := 0
	for _, sp := range spans {
		n += copy(before[n:], sp.Bytes())
	}

	r.Expand(4)

	spansAfter, err := r.ReadSpans(peek)
	require.NoError(t, err)
	var after []byte
	for _, sp := range spansAfter {
		after = append(after, sp.Bytes()...)
	}
	assert.Equal(t, before, after, "expansion must not change the byte stream a reader observes")

	_ = readAll(t, r, rd)
	_ = readAll(t, r, peek)
}

func TestRing_ExpandWhenWriterAndReaderShareBlock(t *testing.T) {
	r := iobuf.NewRing(4, 2) // 2 blocks of 4 bytes
	rd, err := r.Register()
	require.NoError(t, err)

	writeAll(t, r, []byte("01")) // writer at offset 2, still block 0

	r.Expand(2)

	writeAll(t, r, []byte("23"))
	got := readAll(t, r, rd)
	assert.Equal(t, []byte("0123"), got)
}
