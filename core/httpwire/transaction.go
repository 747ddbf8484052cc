package httpwire

import (
	"hash/crc32"
	"strconv"
	"strings"
	"time"
)

// Flag is a single bit in a Transaction's state-flag bitmap (spec §3).
type Flag uint32

const (
	ReqHdrsComplete Flag = 1 << iota
	ReqCompleteOK
	ReqCompleteEOF
	RespHdrsComplete
	RespCompleteOK
	RespCompleteEOF
	HTTPTunnel
	Chunked
	HeadRequest
	ReqWithHost
	CacheHit
	CacheMiss
	CacheCsumMiss
	CacheSkip
	DoneError
	DoneUnsupported
)

// DoneForced is the absorbing union of the two terminal-failure flags.
const DoneForced = DoneError | DoneUnsupported

// CacheControlClass classifies the Cache-Control (and Pragma) headers.
type CacheControlClass uint8

const (
	CCNotPresent CacheControlClass = iota
	CCPublic
	CCPrivate
	CCNoCache
	CCOther
)

const (
	maxURLLen      = 1024
	maxHeaderValue = 1024
)

// Range is an inclusive byte range as reported by Content-Range.
type Range struct {
	Begin, End int64
	Valid      bool
}

// CacheKey identifies a stored object (spec §3 "Cache key").
type CacheKey struct {
	URL           string
	CacheURL      string // optional override
	ObjFullLen    int64
	LastModified  int64 // unix seconds, or CRC-32 fallback (see LastModCRC)
	LastModCRC    bool
	Range         Range
	ContentEncoding string
	ContentMD5      string
	DigestSHA1      string
	DigestMD5       string
	ETag            string
}

// Transaction holds everything §4.4 describes: flags, sparse request and
// response fields, and the header-value stores each parser direction
// writes into. One Transaction corresponds to one request/response pair;
// a connection recycles or queues further Transactions for pipelining.
type Transaction struct {
	flags Flag

	reqStore  *HeaderStore
	respStore *HeaderStore

	method   string
	url      strings.Builder
	urlBytes int
	host     string
	hostSeen bool

	reqContentLength    int64
	reqContentLengthSet bool

	versionMajorReq, versionMinorReq int
	versionMajorResp, versionMinorResp int

	statusCode int

	respContentLength    int64
	respContentLengthSet bool
	respRange            Range
	objFullLen           int64

	lastModified    int64
	lastModIsCRC    bool
	lastModSeen     bool

	contentEncoding string
	contentMD5      string
	digestSHA1      string
	digestMD5       string
	etag            string
	cacheControl    CacheControlClass
	pragmaNoCache   bool

	curHdrKey  string
	curHdrOver bool
	inTrailer  bool

	respBytesFromOrigin int64
}

// NewTransaction returns a zero-value Transaction ready to back a fresh
// request/response parser pair. reqStore/respStore are owned by the
// connection and reused transaction to transaction.
func NewTransaction(reqStore, respStore *HeaderStore) *Transaction {
	return &Transaction{reqStore: reqStore, respStore: respStore}
}

func (t *Transaction) has(f Flag) bool { return t.flags&f != 0 }
func (t *Transaction) set(f Flag)      { t.flags |= f }

// Flags exposes the raw bitmap, mainly for logging.
func (t *Transaction) Flags() Flag { return t.flags }

// ForceHTTPTunnel is the permitted external command described in §4.4:
// the handler calls it when a transaction has read too long without
// enough comparable body.
func (t *Transaction) ForceHTTPTunnel() { t.set(HTTPTunnel) }

// SetCacheHit, SetCacheMiss, SetCacheCsumMiss and SetCacheSkip record the
// cache outcome the FSM reached for this transaction, for the completion
// log line. Exactly one is expected per transaction.
func (t *Transaction) SetCacheHit()      { t.set(CacheHit) }
func (t *Transaction) SetCacheMiss()     { t.set(CacheMiss) }
func (t *Transaction) SetCacheCsumMiss() { t.set(CacheCsumMiss) }
func (t *Transaction) SetCacheSkip()     { t.set(CacheSkip) }

// CacheStatus renders the cache-outcome class used in the access-log
// line (spec "Concrete end-to-end scenarios"): HIT, MISS, CSUM_MISS or
// SKIP_MISS. SKIP_MISS takes priority since it means no normal cache
// decision was ever reached for this transaction.
func (t *Transaction) CacheStatus() string {
	switch {
	case t.has(CacheSkip):
		return "SKIP_MISS"
	case t.has(CacheCsumMiss):
		return "CSUM_MISS"
	case t.has(CacheHit):
		return "HIT"
	case t.has(CacheMiss):
		return "MISS"
	default:
		return "-"
	}
}

// IsComplete reports whether the transaction went through the normal
// request/response path, as opposed to being abandoned before a
// request was ever parsed (server-talks-first, skip_trans).
func (t *Transaction) IsComplete() bool { return !t.has(CacheSkip) }

// ReqContentLength reports the parsed request Content-Length, if the
// request declared one. The handler uses this to size the client
// buffer per spec §4.7.
func (t *Transaction) ReqContentLength() (int64, bool) {
	return t.reqContentLength, t.reqContentLengthSet
}

// Method, Host and StatusCode expose the bare request/response facts
// an access-log line needs without reaching into unexported fields.
func (t *Transaction) Method() string     { return t.method }
func (t *Transaction) Host() string       { return t.host }
func (t *Transaction) StatusCode() int    { return t.statusCode }
func (t *Transaction) URLPath() string    { return t.url.String() }

// RespRange returns the response's Content-Range bounds, if the origin
// sent one. Non-range responses report ok=false; the access-log line
// renders a literal [0-0] placeholder in that case.
func (t *Transaction) RespRange() (begin, end int64, ok bool) {
	return t.respRange.Begin, t.respRange.End, t.respRange.Valid
}

// IsKeepAlive requires both the request and response HTTP versions to
// independently imply keep-alive (1.1 defaults to keep-alive absent
// Connection: close; 1.0 defaults to close absent Connection: keep-alive).
// Transaction does not track the Connection header by value here since
// the spec limits examined request/response headers to the cache-key and
// tunnel-triggering set; absent an explicit extension this conservatively
// derives keep-alive from HTTP version alone.
func (t *Transaction) IsKeepAlive() bool {
	reqKA := t.versionMajorReq == 1 && t.versionMinorReq == 1
	respKA := t.versionMajorResp == 1 && t.versionMinorResp == 1
	return reqKA && respKA
}

// GetCacheKey returns the cache key and true only when resp_hdrs_complete
// holds and neither done_forced nor http_tunnel holds (spec §4.4/§4.3).
func (t *Transaction) GetCacheKey() (CacheKey, bool) {
	if !t.has(RespHdrsComplete) || t.has(DoneForced) || t.has(HTTPTunnel) {
		return CacheKey{}, false
	}
	url := t.url.String()
	if url == "" {
		return CacheKey{}, false
	}
	objLen := t.objFullLen
	if objLen <= 0 {
		return CacheKey{}, false
	}
	return CacheKey{
		URL:             url,
		ObjFullLen:      objLen,
		LastModified:    t.lastModified,
		LastModCRC:      t.lastModIsCRC,
		Range:           t.respRange,
		ContentEncoding: t.contentEncoding,
		ContentMD5:      t.contentMD5,
		DigestSHA1:      t.digestSHA1,
		DigestMD5:       t.digestMD5,
		ETag:            t.etag,
	}, true
}

// --- Notified implementation, request direction ---

// ReqNotified adapts Transaction to the Notified interface for the
// request-side parser. Transaction itself doesn't implement Notified
// directly because request and response events share method names
// (OnHeaderKeyBegin etc) but must route to different field sets; two
// thin adapters keep the Parser/Wrapper contract uniform while letting
// Transaction branch internally on which one called it.
type ReqNotified struct{ t *Transaction }

// RespNotified is the response-direction counterpart of ReqNotified.
type RespNotified struct{ t *Transaction }

func (t *Transaction) AsRequest() *ReqNotified   { return &ReqNotified{t} }
func (t *Transaction) AsResponse() *RespNotified { return &RespNotified{t} }

func (r *ReqNotified) OnMessageBegin() error { return nil }

func (r *ReqNotified) OnHTTPVersion(major, minor int) error {
	t := r.t
	t.versionMajorReq, t.versionMinorReq = major, minor
	if !(major == 1 && (minor == 0 || minor == 1)) {
		t.set(DoneUnsupported)
		return ErrParse
	}
	return nil
}

func (r *ReqNotified) OnMethod(method string) error {
	t := r.t
	t.method = method
	switch method {
	case "CONNECT":
		t.set(DoneUnsupported)
		return ErrParse
	case "HEAD":
		t.set(HeadRequest)
		t.set(HTTPTunnel)
	case "GET":
		// eligible; non-tunnel so far.
	default:
		t.set(HTTPTunnel)
	}
	return nil
}

func (r *ReqNotified) OnURLBegin() error {
	r.t.urlBytes = 0
	return nil
}

func (r *ReqNotified) OnURLData(p []byte) error {
	t := r.t
	if t.urlBytes >= maxURLLen {
		t.urlBytes += len(p)
		return nil
	}
	n := len(p)
	if t.urlBytes+n > maxURLLen {
		n = maxURLLen - t.urlBytes
	}
	t.url.Write(p[:n])
	t.urlBytes += len(p)
	return nil
}

func (r *ReqNotified) OnURLEnd() error {
	t := r.t
	if t.urlBytes > maxURLLen {
		t.url.WriteString("...")
		t.set(HTTPTunnel)
	}
	return nil
}

func (r *ReqNotified) OnHeaderKeyBegin() error {
	r.t.reqStore.StartKey()
	return nil
}

func (r *ReqNotified) OnHeaderKeyData(p []byte) error {
	r.t.reqStore.AppendKey(p)
	return nil
}

func (r *ReqNotified) OnHeaderKeyEnd() error {
	key, oversized := r.t.reqStore.Key()
	r.t.curHdrKey = key
	r.t.curHdrOver = oversized
	if oversized {
		r.t.set(HTTPTunnel)
	}
	return nil
}

func (r *ReqNotified) OnHeaderValueBegin() error {
	r.t.reqStore.StartValue()
	return nil
}

func (r *ReqNotified) OnHeaderValueData(p []byte) error {
	r.t.reqStore.AppendValue(p)
	return nil
}

func (r *ReqNotified) OnHeaderValueEnd() error {
	t := r.t
	pos, oversize := t.reqStore.CommitCurrentValue()
	if oversize {
		t.set(HTTPTunnel)
	}
	val := t.reqStore.ValueString(pos)

	switch {
	case t.reqStore != nil && equalFold(t.curHdrKey, "content-length"):
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			t.set(HTTPTunnel)
			break
		}
		t.reqContentLength = n
		t.reqContentLengthSet = true
		if n != 0 {
			t.set(HTTPTunnel)
		}
	case equalFold(t.curHdrKey, "host"):
		t.host = val
		t.hostSeen = true
		t.set(ReqWithHost)
	case equalFold(t.curHdrKey, "upgrade"):
		t.set(DoneUnsupported)
		return ErrParse
	case equalFold(t.curHdrKey, "authorization"):
		t.set(DoneUnsupported)
		return ErrParse
	}
	return nil
}

func (r *ReqNotified) OnHeadersEnd() error {
	t := r.t
	t.set(ReqHdrsComplete)
	t.finalizeURL()
	return nil
}

func (r *ReqNotified) OnMessageEnd() error {
	r.t.set(ReqCompleteOK)
	return nil
}

func (r *ReqNotified) OnTrailingHeadersBegin() error { return nil }
func (r *ReqNotified) OnTrailingHeadersEnd() error   { return nil }

func (r *ReqNotified) BodyMode() BodyMode {
	t := r.t
	if t.reqContentLengthSet && t.reqContentLength > 0 {
		return BodyMode{Kind: BodyContentLength, Length: t.reqContentLength}
	}
	return BodyMode{Kind: BodyNone}
}

// finalizeURL implements the §4.4 URL-assembly rule: path-only URLs get
// Host (or, absent Host, the origin IP) prepended; anything else is
// assumed absolute and gets "http://" prepended only when it plainly
// isn't already.
func (t *Transaction) finalizeURL() {
	s := t.url.String()
	if s == "" {
		return
	}
	if s[0] == '/' {
		prefix := t.host
		if !t.hostSeen {
			prefix = originIPPlaceholder
		}
		rebuilt := prefix + s
		t.url.Reset()
		t.url.WriteString(rebuilt)
		return
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		rebuilt := "http://" + s
		t.url.Reset()
		t.url.WriteString(rebuilt)
	}
}

// originIPPlaceholder is substituted for Host when the request omits it
// on a path-only URL; C7 overwrites this with the connection's actual
// original-destination IP before the cache key is used.
const originIPPlaceholder = "\x00origin-ip\x00"

// SetOriginIP lets the handler (which owns the TPROXY original
// destination) resolve the placeholder once headers are complete.
func (t *Transaction) SetOriginIP(ip string) {
	s := t.url.String()
	if strings.Contains(s, originIPPlaceholder) {
		t.url.Reset()
		t.url.WriteString(strings.Replace(s, originIPPlaceholder, ip, 1))
	}
}

// --- Notified implementation, response direction ---

func (r *RespNotified) OnMessageBegin() error { return nil }

func (r *RespNotified) OnHTTPVersion(major, minor int) error {
	t := r.t
	t.versionMajorResp, t.versionMinorResp = major, minor
	if !(major == 1 && (minor == 0 || minor == 1)) {
		t.set(DoneUnsupported)
		return ErrParse
	}
	return nil
}

func (r *RespNotified) OnMethod(string) error { return nil }
func (r *RespNotified) OnURLBegin() error     { return nil }
func (r *RespNotified) OnURLData([]byte) error { return nil }
func (r *RespNotified) OnURLEnd() error       { return nil }

func (r *RespNotified) OnStatusCode(code int) error {
	t := r.t
	t.statusCode = code
	if code != 200 && code != 206 {
		t.set(HTTPTunnel)
	}
	return nil
}

func (r *RespNotified) OnHeaderKeyBegin() error {
	r.t.respStore.StartKey()
	return nil
}

func (r *RespNotified) OnHeaderKeyData(p []byte) error {
	r.t.respStore.AppendKey(p)
	return nil
}

func (r *RespNotified) OnHeaderKeyEnd() error {
	key, oversized := r.t.respStore.Key()
	r.t.curHdrKey = key
	r.t.curHdrOver = oversized
	if oversized && !r.t.inTrailer {
		r.t.set(HTTPTunnel)
	}
	return nil
}

func (r *RespNotified) OnHeaderValueBegin() error {
	r.t.respStore.StartValue()
	return nil
}

func (r *RespNotified) OnHeaderValueData(p []byte) error {
	r.t.respStore.AppendValue(p)
	return nil
}

// respAlwaysExamined headers are inspected even while tunnel, since they
// drive chunked detection and the back-pressure content-length hint.
var respAlwaysExamined = map[string]bool{
	"transfer-encoding": true,
	"content-length":    true,
}

func (r *RespNotified) OnHeaderValueEnd() error {
	t := r.t
	pos, oversize := t.respStore.CommitCurrentValue()
	key := strings.ToLower(t.curHdrKey)
	tunnel := t.has(HTTPTunnel)

	if oversize && !respAlwaysExamined[key] && !tunnel {
		t.set(HTTPTunnel)
		return nil
	}
	if tunnel && !respAlwaysExamined[key] {
		return nil
	}

	val := t.respStore.ValueString(pos)

	switch key {
	case "transfer-encoding":
		if strings.Contains(strings.ToLower(val), "chunked") {
			t.set(Chunked)
			t.set(HTTPTunnel)
		}
	case "content-length":
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil
		}
		t.respContentLength = n
		t.respContentLengthSet = true
		if t.respRange.Valid {
			wantLen := t.respRange.End - t.respRange.Begin + 1
			if n != wantLen {
				t.set(DoneError)
				return ErrParse
			}
		}
	case "content-range":
		rng, objLen, ok := parseContentRange(val)
		if !ok {
			t.set(DoneError)
			return ErrParse
		}
		if t.respContentLengthSet && t.respContentLength != rng.End-rng.Begin+1 {
			t.set(DoneError)
			return ErrParse
		}
		t.respRange = rng
		t.objFullLen = objLen
	case "last-modified":
		if ts, ok := parseHTTPDate(val); ok {
			t.lastModified = ts
			t.lastModIsCRC = false
		} else {
			t.lastModified = int64(crc32.ChecksumIEEE([]byte(val)))
			t.lastModIsCRC = true
		}
		t.lastModSeen = true
	case "content-encoding":
		if t.contentEncoding == "" {
			t.contentEncoding = val
		}
		if t.statusCode == 206 {
			t.set(HTTPTunnel)
		}
	case "content-md5":
		if t.contentMD5 == "" {
			t.contentMD5 = val
		}
	case "etag":
		if t.etag == "" {
			t.etag = val
		}
	case "digest":
		parseDigest(t, val)
	case "cache-control":
		cls := classifyCacheControl(val)
		if t.cacheControl == CCNotPresent {
			t.cacheControl = cls
		}
	case "pragma":
		if strings.Contains(strings.ToLower(val), "no-cache") {
			t.pragmaNoCache = true
			t.cacheControl = CCNoCache
		}
	case "www-authenticate":
		t.set(DoneUnsupported)
		return ErrParse
	}
	return nil
}

func parseDigest(t *Transaction, val string) {
	parts := strings.Split(val, ",")
	sawSHA1, sawMD5 := false, false
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch {
		case strings.HasPrefix(strings.ToLower(p), "sha="):
			t.digestSHA1 = p[len("sha="):]
			sawSHA1 = true
		case strings.HasPrefix(strings.ToLower(p), "md5="):
			t.digestMD5 = p[len("md5="):]
			sawMD5 = true
		}
	}
	if sawSHA1 && sawMD5 {
		t.set(HTTPTunnel)
	}
}

func (r *RespNotified) OnHeadersEnd() error {
	t := r.t
	t.set(RespHdrsComplete)

	if t.has(HeadRequest) {
		return ErrSkipBody
	}
	if !t.respContentLengthSet && !t.has(Chunked) {
		return ErrSkipBody
	}
	if !t.respRange.Valid && t.respContentLengthSet {
		t.objFullLen = t.respContentLength
	}
	return nil
}

func (r *RespNotified) OnMessageEnd() error {
	r.t.set(RespCompleteOK)
	return nil
}

func (r *RespNotified) OnTrailingHeadersBegin() error {
	r.t.inTrailer = true
	return nil
}

func (r *RespNotified) OnTrailingHeadersEnd() error {
	r.t.inTrailer = false
	return nil
}

func (r *RespNotified) BodyMode() BodyMode {
	t := r.t
	if t.has(Chunked) {
		return BodyMode{Kind: BodyChunked}
	}
	if t.respContentLengthSet {
		return BodyMode{Kind: BodyContentLength, Length: t.respContentLength}
	}
	return BodyMode{Kind: BodyUntilClose}
}

// RecordOriginBytes accumulates origin-supplied response bytes, used for
// hit/miss accounting in the completion log line.
func (t *Transaction) RecordOriginBytes(n int64) { t.respBytesFromOrigin += n }
func (t *Transaction) OriginBytes() int64         { return t.respBytesFromOrigin }

func equalFold(a, b string) bool { return strings.EqualFold(a, b) }

// parseContentRange parses "bytes BEG-END/LEN".
func parseContentRange(v string) (Range, int64, bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return Range{}, 0, false
	}
	v = strings.TrimPrefix(v, "bytes ")
	slash := strings.IndexByte(v, '/')
	if slash < 0 {
		return Range{}, 0, false
	}
	rangePart, lenPart := v[:slash], v[slash+1:]
	dash := strings.IndexByte(rangePart, '-')
	if dash < 0 {
		return Range{}, 0, false
	}
	beg, err1 := strconv.ParseInt(rangePart[:dash], 10, 64)
	end, err2 := strconv.ParseInt(rangePart[dash+1:], 10, 64)
	length, err3 := strconv.ParseInt(lenPart, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Range{}, 0, false
	}
	if end < beg || end >= length {
		return Range{}, 0, false
	}
	return Range{Begin: beg, End: end, Valid: true}, length, true
}

// httpDateLayouts covers RFC 1123, RFC 850, asctime and NNTP-style dates,
// each optionally followed by a trailing zone token the spec calls out.
var httpDateLayouts = []string{
	time.RFC1123,
	"Mon, 02-Jan-06 15:04:05 MST", // RFC 850-ish with 2-digit year
	time.ANSIC,                   // asctime: "Mon Jan _2 15:04:05 2006"
	"Mon, 02 Jan 2006 15:04:05",
	"Mon, 02 Jan 2006 15:04:05 -0700",
}

func parseHTTPDate(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	for _, suffix := range []string{" GMT", " UTC", " +0000"} {
		v = strings.TrimSuffix(v, suffix)
	}
	for _, layout := range httpDateLayouts {
		trimmedLayout := layout
		for _, suffix := range []string{" MST", " -0700"} {
			trimmedLayout = strings.TrimSuffix(trimmedLayout, suffix)
		}
		if ts, err := time.Parse(trimmedLayout, v); err == nil {
			return ts.Unix(), true
		}
	}
	return 0, false
}

func classifyCacheControl(v string) CacheControlClass {
	lv := strings.ToLower(v)
	switch {
	case strings.Contains(lv, "no-store"):
		return CCNoCache
	case strings.Contains(lv, "no-cache"):
		return CCNoCache
	case strings.Contains(lv, "private"):
		return CCPrivate
	case strings.Contains(lv, "public"):
		return CCPublic
	case lv == "":
		return CCNotPresent
	default:
		return CCOther
	}
}
