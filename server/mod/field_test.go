package mod_test

import (
	"strings"
	"testing"

	"github.com/omalloc/waypoint/core/httpwire"
	"github.com/omalloc/waypoint/metrics"
	"github.com/omalloc/waypoint/server/mod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTxPair(t *testing.T, tx *httpwire.Transaction, req, resp []byte) {
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

func TestWithNormalFields_PlainMiss(t *testing.T) {
	tx := httpwire.NewTransaction(httpwire.NewHeaderStore(), httpwire.NewHeaderStore())
	runTxPair(t, tx,
		[]byte("GET /a HTTP/1.1\r\nHost: h\r\n\r\n"),
		[]byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nBBBB"),
	)
	tx.SetCacheMiss()

	metric := &metrics.RequestMetric{RequestID: "req-1", ReqHdrLen: 29, RecvReq: 29, RespHdrLen: 33, SentResp: 37}
	line := string(mod.WithNormalFields(tx, metric))

	fields := strings.Fields(line)
	require.Len(t, fields, 11)
	assert.Equal(t, "Complete", fields[0])
	assert.Equal(t, "MISS", fields[1])
	assert.Equal(t, "GET", fields[2])
	assert.Equal(t, "http://h/a", fields[3])
	assert.Equal(t, "29", fields[4])
	assert.Equal(t, "29", fields[5])
	assert.Equal(t, "200", fields[6])
	assert.Equal(t, "[0-0]", fields[7])
	assert.Equal(t, "33", fields[8])
	assert.Equal(t, "37", fields[9])
	assert.Equal(t, "req-1", fields[10])
}

func TestWithNormalFields_ServerTalksFirstIsIncompleteSkipMiss(t *testing.T) {
	tx := httpwire.NewTransaction(httpwire.NewHeaderStore(), httpwire.NewHeaderStore())
	tx.SetCacheSkip()

	metric := &metrics.RequestMetric{RequestID: "req-2"}
	line := string(mod.WithNormalFields(tx, metric))

	fields := strings.Fields(line)
	require.Len(t, fields, 11)
	assert.Equal(t, "Incomplete", fields[0])
	assert.Equal(t, "SKIP_MISS", fields[1])
}
