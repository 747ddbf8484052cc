package httpwire_test

import (
	"strings"
	"testing"

	"github.com/omalloc/waypoint/core/httpwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPair(t *testing.T, tx *httpwire.Transaction, req, resp []byte) {
	t.Helper()
	reqP := httpwire.NewParser(httpwire.DirRequest)
	reqP.SetNotified(tx.AsRequest())
	n, err := reqP.Execute(req)
	require.NoError(t, err)
	require.Equal(t, len(req), n)

	respP := httpwire.NewParser(httpwire.DirResponse)
	respP.SetNotified(tx.AsResponse())
	n, err = respP.Execute(resp)
	require.NoError(t, err)
	require.Equal(t, len(resp), n)
}

func newTx() *httpwire.Transaction {
	return httpwire.NewTransaction(httpwire.NewHeaderStore(), httpwire.NewHeaderStore())
}

func TestTransaction_PlainMissYieldsCacheKey(t *testing.T) {
	tx := newTx()
	runPair(t, tx,
		[]byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n"),
		[]byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nBBBB"),
	)

	key, ok := tx.GetCacheKey()
	require.True(t, ok)
	assert.Equal(t, "h/a", key.URL)
	assert.Equal(t, int64(4), key.ObjFullLen)
	assert.False(t, tx.Flags()&httpwire.HTTPTunnel != 0)
}

func TestTransaction_RangeResponseCacheKey(t *testing.T) {
	tx := newTx()
	runPair(t, tx,
		[]byte("GET /v HTTP/1.1\r\nHost: h\r\nRange: bytes=10-19\r\n\r\n"),
		[]byte("HTTP/1.1 206 Partial Content\r\nContent-Length: 10\r\nContent-Range: bytes 10-19/100\r\n\r\n0123456789"),
	)

	key, ok := tx.GetCacheKey()
	require.True(t, ok)
	assert.Equal(t, "h/v", key.URL)
	assert.Equal(t, int64(100), key.ObjFullLen)
	assert.True(t, key.Range.Valid)
	assert.Equal(t, int64(10), key.Range.Begin)
	assert.Equal(t, int64(19), key.Range.End)
}

func TestTransaction_ChunkedForcesTunnelNoCacheKey(t *testing.T) {
	tx := newTx()
	runPair(t, tx,
		[]byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n"),
		[]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n0\r\n\r\n"),
	)

	assert.True(t, tx.Flags()&httpwire.HTTPTunnel != 0)
	assert.True(t, tx.Flags()&httpwire.Chunked != 0)
	_, ok := tx.GetCacheKey()
	assert.False(t, ok)
}

func TestTransaction_HeadRequestTunnelsAndSkipsBody(t *testing.T) {
	tx := newTx()
	reqP := httpwire.NewParser(httpwire.DirRequest)
	reqP.SetNotified(tx.AsRequest())
	req := []byte("HEAD /a HTTP/1.1\r\nHost: h\r\n\r\n")
	_, err := reqP.Execute(req)
	require.NoError(t, err)
	assert.True(t, tx.Flags()&httpwire.HTTPTunnel != 0)

	respP := httpwire.NewParser(httpwire.DirResponse)
	respP.SetNotified(tx.AsResponse())
	resp := []byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\n")
	n, err := respP.Execute(resp)
	require.NoError(t, err)
	assert.Equal(t, len(resp), n)
	assert.True(t, respP.Done(), "HEAD response should end at headers, not wait for a body")
}

func TestTransaction_NonGETMethodTunnels(t *testing.T) {
	tx := newTx()
	reqP := httpwire.NewParser(httpwire.DirRequest)
	reqP.SetNotified(tx.AsRequest())
	_, err := reqP.Execute([]byte("POST /a HTTP/1.1\r\nHost: h\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, tx.Flags()&httpwire.HTTPTunnel != 0)
}

func TestTransaction_ConnectIsUnsupported(t *testing.T) {
	tx := newTx()
	reqP := httpwire.NewParser(httpwire.DirRequest)
	reqP.SetNotified(tx.AsRequest())
	_, err := reqP.Execute([]byte("CONNECT host:443 HTTP/1.1\r\n\r\n"))
	assert.Error(t, err)
	assert.True(t, tx.Flags()&httpwire.DoneUnsupported != 0)
}

func TestTransaction_URLExactlyAtCapNotTunneled(t *testing.T) {
	tx := newTx()
	path := "/" + strings.Repeat("a", 1023) // "/" + 1023 = 1024 bytes total
	reqP := httpwire.NewParser(httpwire.DirRequest)
	reqP.SetNotified(tx.AsRequest())
	req := []byte("GET " + path + " HTTP/1.1\r\nHost: h\r\n\r\n")
	_, err := reqP.Execute(req)
	require.NoError(t, err)
	assert.False(t, tx.Flags()&httpwire.HTTPTunnel != 0)
}

func TestTransaction_URLOverCapTunnelsWithEllipsis(t *testing.T) {
	tx := newTx()
	path := "/" + strings.Repeat("a", 1024) // 1025 bytes total, one over cap
	reqP := httpwire.NewParser(httpwire.DirRequest)
	reqP.SetNotified(tx.AsRequest())
	req := []byte("GET " + path + " HTTP/1.1\r\nHost: h\r\n\r\n")
	_, err := reqP.Execute(req)
	require.NoError(t, err)
	assert.True(t, tx.Flags()&httpwire.HTTPTunnel != 0)
}

func TestTransaction_BadVersionIsUnsupported(t *testing.T) {
	tx := newTx()
	reqP := httpwire.NewParser(httpwire.DirRequest)
	reqP.SetNotified(tx.AsRequest())
	_, err := reqP.Execute([]byte("GET / HTTP/2.0\r\n\r\n"))
	assert.Error(t, err)
	assert.True(t, tx.Flags()&httpwire.DoneUnsupported != 0)
}
