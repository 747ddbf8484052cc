package handler_test

import (
	"context"
	"testing"

	"github.com/omalloc/waypoint/core/cachefsm"
	"github.com/omalloc/waypoint/core/cachehandle"
	"github.com/omalloc/waypoint/core/connfsm"
	"github.com/omalloc/waypoint/core/handler"
	"github.com/omalloc/waypoint/core/httpwire"
	"github.com/omalloc/waypoint/pkg/iobuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopTransport struct{}

func (noopTransport) Send(connfsm.LegKind, []iobuf.Span) (int, error) { return 0, nil }
func (noopTransport) Shutdown(connfsm.LegKind, string) error          { return nil }
func (noopTransport) Close(connfsm.LegKind) error                     { return nil }

type fakeHandle struct {
	data []byte
	off  int
}

func (h *fakeHandle) Read(ctx context.Context, buf []byte) (int, error) {
	n := copy(buf, h.data[h.off:])
	h.off += n
	return n, nil
}
func (h *fakeHandle) Write(ctx context.Context, buf []byte) (int, error) { return len(buf), nil }
func (h *fakeHandle) Close() error                                       { return nil }

type fakeDistributor struct {
	hasObject bool
	object    []byte
}

func (d *fakeDistributor) OpenRead(ctx context.Context, key httpwire.CacheKey, skip int64) (cachehandle.Handle, error) {
	if !d.hasObject {
		return nil, cachehandle.ErrObjectNotPresent
	}
	return &fakeHandle{data: d.object}, nil
}

func (d *fakeDistributor) OpenWrite(ctx context.Context, key httpwire.CacheKey, truncate bool) (cachehandle.Handle, error) {
	return &fakeHandle{}, nil
}

func (d *fakeDistributor) RWOpAllowed(key httpwire.CacheKey, skip int64) bool { return true }

func newTestConn(t *testing.T, dist cachehandle.Distributor) *handler.Connection {
	t.Helper()
	c, err := handler.New(dist, nil, handler.EndpointInfo{OriginIP: "203.0.113.1"}, noopTransport{}, func(fn func()) { fn() }, func(fn func()) { fn() })
	require.NoError(t, err)
	return c
}

func TestHandler_PlainRequestParsesIntoCacheKey(t *testing.T) {
	c := newTestConn(t, &fakeDistributor{})
	c.SetCompareThreshold(1)

	require.NoError(t, c.WriteClientBytes([]byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n")))
	require.NoError(t, c.OnClientData())

	require.NoError(t, c.WriteOriginBytes([]byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nBBBB")))
	require.NoError(t, c.OnOriginData(context.Background()))

	key, ok := c.Transaction().GetCacheKey()
	require.True(t, ok)
	assert.Equal(t, "h/a", key.URL)
	assert.Equal(t, int64(4), key.ObjFullLen)
	assert.Equal(t, cachefsm.StateCacheIdleWr, c.CacheState(), "a miss opens the object for write")
}

func TestHandler_HitSwitchesCacheState(t *testing.T) {
	dist := &fakeDistributor{hasObject: true, object: []byte("BBBB")}
	c := newTestConn(t, dist)
	c.SetCompareThreshold(1)

	require.NoError(t, c.WriteClientBytes([]byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n")))
	require.NoError(t, c.OnClientData())

	require.NoError(t, c.WriteOriginBytes([]byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nBBBB")))
	require.NoError(t, c.OnOriginData(context.Background()))

	assert.Equal(t, cachefsm.StateCacheRead, c.CacheState(), "a checksum match switches delivery to the cache")
}

func TestHandler_ChecksumMismatchReopensForWrite(t *testing.T) {
	dist := &fakeDistributor{hasObject: true, object: []byte("CCCC")}
	c := newTestConn(t, dist)
	c.SetCompareThreshold(1)

	require.NoError(t, c.WriteClientBytes([]byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n")))
	require.NoError(t, c.OnClientData())

	require.NoError(t, c.WriteOriginBytes([]byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nBBBB")))
	require.NoError(t, c.OnOriginData(context.Background()))

	assert.Equal(t, cachefsm.StateCacheIdleWr, c.CacheState(), "a checksum mismatch reopens the object for write")
}

func TestHandler_ConnectMethodTunnels(t *testing.T) {
	c := newTestConn(t, &fakeDistributor{})

	require.NoError(t, c.WriteClientBytes([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com\r\n\r\n")))
	require.NoError(t, c.OnClientData())

	assert.True(t, c.IsBlindTunnel())
}

func TestHandler_ServerTalksFirstTunnels(t *testing.T) {
	c := newTestConn(t, &fakeDistributor{})

	require.NoError(t, c.WriteOriginBytes([]byte("X")))
	require.NoError(t, c.OnOriginData(context.Background()))

	assert.True(t, c.IsBlindTunnel())
	_, ok := c.Transaction().GetCacheKey()
	assert.False(t, ok, "no cache key should ever be derived for a transaction the client never started")
}
