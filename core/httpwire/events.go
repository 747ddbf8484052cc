package httpwire

// Notified receives the event stream a Parser derives from incremental
// bytes (spec §4.3). Any method may return ErrParse to push the parser
// into its absorbing error state, or ErrSkipBody to tell the tokeniser
// the message is complete immediately after headers (HEAD responses,
// or responses missing both Content-Length and Transfer-Encoding).
type Notified interface {
	OnMessageBegin() error
	OnHTTPVersion(major, minor int) error

	// Request-only.
	OnMethod(method string) error
	OnURLBegin() error
	OnURLData(p []byte) error
	OnURLEnd() error

	// Response-only.
	OnStatusCode(code int) error

	OnHeaderKeyBegin() error
	OnHeaderKeyData(p []byte) error
	OnHeaderKeyEnd() error
	OnHeaderValueBegin() error
	OnHeaderValueData(p []byte) error
	OnHeaderValueEnd() error
	OnHeadersEnd() error

	OnMessageEnd() error

	// Chunked responses only.
	OnTrailingHeadersBegin() error
	OnTrailingHeadersEnd() error

	// BodyMode is consulted exactly once, right after OnHeadersEnd, so
	// the tokeniser knows how to find the end of the body.
	BodyMode() BodyMode
}

// BodyMode tells the tokeniser how to locate the end of a message body.
type BodyMode struct {
	Kind   BodyKind
	Length int64 // meaningful when Kind == BodyContentLength
}

type BodyKind uint8

const (
	BodyNone BodyKind = iota
	BodyContentLength
	BodyChunked
	BodyUntilClose
)

// parseSentinel values are distinguished by identity, not by being
// ordinary errors wrapped with context: the tokeniser checks `== ErrSkipBody`.
type parseSentinel string

func (p parseSentinel) Error() string { return string(p) }

const (
	// ErrParse transitions the wrapper into its absorbing error state.
	ErrParse = parseSentinel("httpwire: parse error")
	// ErrSkipBody tells the tokeniser to treat the message as complete
	// immediately after headers.
	ErrSkipBody = parseSentinel("httpwire: skip body")
)
