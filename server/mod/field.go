package mod

import (
	"strconv"
	"strings"

	"github.com/omalloc/waypoint/core/httpwire"
	"github.com/omalloc/waypoint/metrics"
)

// WithNormalFields renders one access-log line for a completed
// transaction in the literal shape the end-to-end scenarios specify
// (spec §7): "Complete|Incomplete <class> <method> <url> <req-hdr-len>
// <req-bytes> <status> [<range>] <resp-hdr-len> <resp-bytes>", with the
// request id appended for trace correlation.
func WithNormalFields(tx *httpwire.Transaction, metric *metrics.RequestMetric) []byte {
	buf := NewFieldBuffer(' ')

	// 1. completeness
	if tx.IsComplete() {
		buf.Append("Complete")
	} else {
		buf.Append("Incomplete")
	}
	// 2. cache-outcome class: HIT, MISS, CSUM_MISS or SKIP_MISS
	buf.Append(tx.CacheStatus())
	// 3. method
	buf.Append(tx.Method())
	// 4. url, with "http://" in front when it carries no scheme
	url := tx.URLPath()
	if url != "" && !strings.Contains(url, "://") {
		url = "http://" + url
	}
	buf.FAppend(url)
	// 5. request header length
	buf.Append(strconv.FormatInt(metric.ReqHdrLen, 10))
	// 6. request bytes (headers + body)
	buf.Append(strconv.FormatUint(metric.RecvReq, 10))
	// 7. response status
	buf.Append(strconv.Itoa(tx.StatusCode()))
	// 8. response byte range, or [0-0] when the response wasn't partial
	begin, end, ok := tx.RespRange()
	if !ok {
		begin, end = 0, 0
	}
	buf.Append("[" + strconv.FormatInt(begin, 10) + "-" + strconv.FormatInt(end, 10) + "]")
	// 9. response header length
	buf.Append(strconv.FormatInt(metric.RespHdrLen, 10))
	// 10. response bytes (headers + body)
	buf.Append(strconv.FormatUint(metric.SentResp, 10))
	// 11. request id, for trace correlation
	buf.Append(metric.RequestID)

	return buf.Bytes()
}
