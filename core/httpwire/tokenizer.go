package httpwire

import "errors"

// Direction selects whether a Parser tokenises a request or a response.
type Direction uint8

const (
	DirRequest Direction = iota
	DirResponse
)

type state int

const (
	stLineStart state = iota
	stReqMethod
	stReqURL
	stReqVersion
	stRespVersion
	stRespCodeSpace
	stRespCode
	stRespReason
	stHeaderLineStart
	stHeaderKey
	stHeaderBeforeValue
	stHeaderValue
	stHeaderCR
	stHeadersEndCR
	stBodyContentLength
	stBodyChunkedSize
	stBodyChunkedSizeCR
	stBodyChunkedData
	stBodyChunkedDataCR
	stBodyChunkedTrailerLineStart
	stBodyChunkedTrailerKey
	stBodyChunkedTrailerBeforeValue
	stBodyChunkedTrailerValue
	stBodyChunkedTrailerCR
	stBodyChunkedFinalCR
	stBodyUntilClose
	stDone
	stError
)

// ErrNeedNotified is returned by Execute when no Notified sink is set.
var ErrNeedNotified = errors.New("httpwire: parser has no Notified sink")

// Parser is an incremental HTTP/1.x tokeniser over a streaming byte feed.
// It holds no reference to any particular connection or buffer: Execute
// may be called repeatedly with arbitrary, even byte-at-a-time, slices.
//
// It is intentionally written as an explicit (state, byte-class) switch
// rather than nested conditionals, mirroring the (state, event) ->
// (actions, next-state) table the design calls for; the table lives in
// the shape of the switch, not as a literal data structure, which keeps
// every transition's side effects next to the transition itself.
type Parser struct {
	dir      Direction
	notified Notified

	st state

	versionMajor, versionMinor int
	statusCode                 int
	statusCodeDigits           int

	chunkSize  int64
	chunkRead  int64
	bodyRemain int64
	bodyMode   BodyMode
	sawCR      bool

	// pending holds a partial token (method, version, reason phrase)
	// that hasn't yet seen its delimiter within a single Execute call.
	pending  []byte
	urlBegun bool

	pausePending bool
}

// NewParser creates a Parser for the given direction. SetNotified must
// be called before Execute.
func NewParser(dir Direction) *Parser {
	return &Parser{dir: dir, st: stLineStart}
}

// SetNotified installs the event sink.
func (p *Parser) SetNotified(n Notified) { p.notified = n }

// Reset prepares the Parser to tokenise a new message on the same
// connection (HTTP pipelining / keep-alive).
func (p *Parser) Reset() {
	p.st = stLineStart
	p.versionMajor, p.versionMinor = 0, 0
	p.statusCode, p.statusCodeDigits = 0, 0
	p.chunkSize, p.chunkRead, p.bodyRemain = 0, 0, 0
	p.bodyMode = BodyMode{}
	p.sawCR = false
	p.pending = nil
	p.urlBegun = false
}

// Done reports whether the current message has been fully tokenised.
func (p *Parser) Done() bool { return p.st == stDone }

// Errored reports whether the parser is in its absorbing error state.
func (p *Parser) Errored() bool { return p.st == stError }

// Execute feeds bytes to the tokeniser, returning the number of bytes
// consumed and an error. Consumed may be less than len(data) when a
// message completes mid-slice (stDone) - the caller is expected to
// Reset and re-invoke Execute with the remainder for the next message
// (HTTP pipelining).
func (p *Parser) Execute(data []byte) (int, error) {
	if p.notified == nil {
		return 0, ErrNeedNotified
	}
	if p.st == stLineStart {
		if err := p.notified.OnMessageBegin(); err != nil {
			return 0, p.fail(err)
		}
		if p.dir == DirRequest {
			p.st = stReqMethod
		} else {
			p.st = stRespVersion
		}
	}

	i := 0
	for i < len(data) {
		b := data[i]
		consumed, err := p.step(b, data[i:])
		if err != nil {
			return i, p.fail(err)
		}
		i += consumed
		if p.st == stDone {
			return i, nil
		}
		if p.pausePending {
			p.pausePending = false
			return i, errPausedSentinel
		}
	}
	return i, nil
}

func (p *Parser) fail(err error) error {
	p.st = stError
	return err
}

// requestPause arranges for the current Execute call to return as soon
// as the in-flight step completes, without absorbing into the error
// state. Called from Wrapper's OnHeadersEnd/OnMessageEnd forwarding.
func (p *Parser) requestPause() { p.pausePending = true }

// step processes exactly one transition's worth of input starting at
// rest[0]==b, returning how many bytes of rest were consumed (almost
// always 1; token-accumulating states may consume a longer run in
// scanToken for throughput).
func (p *Parser) step(b byte, rest []byte) (int, error) {
	switch p.st {
	case stReqMethod:
		return p.scanToken(rest, ' ', func(tok []byte) error {
			return p.notified.OnMethod(string(tok))
		}, stReqURL)
	case stReqURL:
		if b == ' ' {
			if err := p.notified.OnURLEnd(); err != nil {
				return 0, err
			}
			p.st = stReqVersion
			return 1, nil
		}
		if err := urlBegunGuard(p); err != nil {
			return 0, err
		}
		if err := p.notified.OnURLData(rest[:1]); err != nil {
			return 0, err
		}
		return 1, nil
	case stReqVersion:
		return p.scanLine(rest, func(tok []byte) error {
			maj, min, ok := parseVersion(tok)
			if !ok {
				return ErrParse
			}
			p.versionMajor, p.versionMinor = maj, min
			return p.notified.OnHTTPVersion(maj, min)
		}, stHeaderLineStart)
	case stRespVersion:
		return p.scanToken(rest, ' ', func(tok []byte) error {
			maj, min, ok := parseVersion(tok)
			if !ok {
				return ErrParse
			}
			p.versionMajor, p.versionMinor = maj, min
			return p.notified.OnHTTPVersion(maj, min)
		}, stRespCode)
	case stRespCode:
		if b >= '0' && b <= '9' {
			p.statusCode = p.statusCode*10 + int(b-'0')
			p.statusCodeDigits++
			return 1, nil
		}
		if b == ' ' {
			if p.statusCodeDigits != 3 {
				return 0, ErrParse
			}
			if err := p.notified.OnStatusCode(p.statusCode); err != nil {
				return 0, err
			}
			p.st = stRespReason
			return 1, nil
		}
		return 0, ErrParse
	case stRespReason:
		return p.scanLine(rest, func(tok []byte) error { return nil }, stHeaderLineStart)
	case stHeaderLineStart:
		if p.sawCR {
			// the request/status line's CR was already consumed by
			// scanLine, which moved here without waiting for its LF
			// (unlike stHeaderCR/stHeadersEndCR, which do); swallow it
			// here instead of misreading it as the empty line that
			// ends the header block.
			p.sawCR = false
			if b != '\n' {
				return 0, ErrParse
			}
			return 1, nil
		}
		if b == '\r' {
			p.st = stHeadersEndCR
			return 1, nil
		}
		if b == '\n' {
			return p.enterBody()
		}
		if err := p.notified.OnHeaderKeyBegin(); err != nil {
			return 0, err
		}
		p.st = stHeaderKey
		return 0, nil
	case stHeaderKey:
		if b == ':' {
			if err := p.notified.OnHeaderKeyEnd(); err != nil {
				return 0, err
			}
			p.st = stHeaderBeforeValue
			return 1, nil
		}
		if err := p.notified.OnHeaderKeyData(rest[:1]); err != nil {
			return 0, err
		}
		return 1, nil
	case stHeaderBeforeValue:
		if b == ' ' || b == '\t' {
			return 1, nil
		}
		if err := p.notified.OnHeaderValueBegin(); err != nil {
			return 0, err
		}
		p.st = stHeaderValue
		return 0, nil
	case stHeaderValue:
		if b == '\r' {
			if err := p.notified.OnHeaderValueEnd(); err != nil {
				return 0, err
			}
			p.st = stHeaderCR
			return 1, nil
		}
		if b == '\n' {
			if err := p.notified.OnHeaderValueEnd(); err != nil {
				return 0, err
			}
			p.st = stHeaderLineStart
			return 1, nil
		}
		if err := p.notified.OnHeaderValueData(rest[:1]); err != nil {
			return 0, err
		}
		return 1, nil
	case stHeaderCR:
		if b != '\n' {
			return 0, ErrParse
		}
		p.st = stHeaderLineStart
		return 1, nil
	case stHeadersEndCR:
		if b != '\n' {
			return 0, ErrParse
		}
		return p.enterBody()
	case stBodyContentLength:
		n := int64(len(rest))
		if n > p.bodyRemain {
			n = p.bodyRemain
		}
		p.bodyRemain -= n
		if p.bodyRemain == 0 {
			if err := p.notified.OnMessageEnd(); err != nil {
				return 0, err
			}
			p.st = stDone
		}
		return int(n), nil
	case stBodyUntilClose:
		// consumed silently until the connection reports EOF elsewhere;
		// the tokeniser itself never completes this message.
		return len(rest), nil
	case stBodyChunkedSize:
		if isHexDigit(b) {
			p.chunkSize = p.chunkSize*16 + int64(hexVal(b))
			return 1, nil
		}
		if b == ';' {
			// chunk extension: skip to CR
			p.st = stBodyChunkedSizeCR
			return 1, nil
		}
		if b == '\r' {
			p.st = stBodyChunkedSizeCR
			return 1, nil
		}
		return 0, ErrParse
	case stBodyChunkedSizeCR:
		if b == '\n' {
			p.chunkRead = 0
			if p.chunkSize == 0 {
				if err := p.notified.OnTrailingHeadersBegin(); err != nil {
					return 0, err
				}
				p.st = stBodyChunkedTrailerLineStart
				return 1, nil
			}
			p.st = stBodyChunkedData
			return 1, nil
		}
		return 1, nil // skip chunk-extension bytes
	case stBodyChunkedData:
		remain := p.chunkSize - p.chunkRead
		n := int64(len(rest))
		if n > remain {
			n = remain
		}
		p.chunkRead += n
		if p.chunkRead == p.chunkSize {
			p.st = stBodyChunkedDataCR
		}
		return int(n), nil
	case stBodyChunkedDataCR:
		if b == '\r' {
			return 1, nil
		}
		if b == '\n' {
			p.chunkSize = 0
			p.st = stBodyChunkedSize
			return 1, nil
		}
		return 0, ErrParse
	case stBodyChunkedTrailerLineStart:
		if b == '\r' {
			p.st = stBodyChunkedFinalCR
			return 1, nil
		}
		if b == '\n' {
			if err := p.notified.OnTrailingHeadersEnd(); err != nil {
				return 0, err
			}
			if err := p.notified.OnMessageEnd(); err != nil {
				return 0, err
			}
			p.st = stDone
			return 1, nil
		}
		if err := p.notified.OnHeaderKeyBegin(); err != nil {
			return 0, err
		}
		p.st = stBodyChunkedTrailerKey
		return 0, nil
	case stBodyChunkedTrailerKey:
		if b == ':' {
			if err := p.notified.OnHeaderKeyEnd(); err != nil {
				return 0, err
			}
			p.st = stBodyChunkedTrailerBeforeValue
			return 1, nil
		}
		if err := p.notified.OnHeaderKeyData(rest[:1]); err != nil {
			return 0, err
		}
		return 1, nil
	case stBodyChunkedTrailerBeforeValue:
		if b == ' ' || b == '\t' {
			return 1, nil
		}
		if err := p.notified.OnHeaderValueBegin(); err != nil {
			return 0, err
		}
		p.st = stBodyChunkedTrailerValue
		return 0, nil
	case stBodyChunkedTrailerValue:
		if b == '\r' || b == '\n' {
			if err := p.notified.OnHeaderValueEnd(); err != nil {
				return 0, err
			}
			if b == '\r' {
				p.st = stBodyChunkedTrailerCR
			} else {
				p.st = stBodyChunkedTrailerLineStart
			}
			return 1, nil
		}
		if err := p.notified.OnHeaderValueData(rest[:1]); err != nil {
			return 0, err
		}
		return 1, nil
	case stBodyChunkedTrailerCR:
		if b != '\n' {
			return 0, ErrParse
		}
		p.st = stBodyChunkedTrailerLineStart
		return 1, nil
	case stBodyChunkedFinalCR:
		if b != '\n' {
			return 0, ErrParse
		}
		if err := p.notified.OnTrailingHeadersEnd(); err != nil {
			return 0, err
		}
		if err := p.notified.OnMessageEnd(); err != nil {
			return 0, err
		}
		p.st = stDone
		return 1, nil
	default:
		return 0, ErrParse
	}
}

// enterBody is invoked exactly once, right at the CRLFCRLF that ends
// headers. It commits hdr_bytes (via OnHeadersEnd) then asks the
// notified sink how to locate the end of the body, matching spec
// §4.3's "tokeniser is paused so the wrapper can commit its header-byte
// counters precisely" - the pause is realised here as a synchronous
// call, since this Parser is not itself async.
func (p *Parser) enterBody() (int, error) {
	if err := p.notified.OnHeadersEnd(); err != nil {
		if err == ErrSkipBody {
			if err := p.notified.OnMessageEnd(); err != nil {
				return 1, err
			}
			p.st = stDone
			return 1, nil
		}
		return 0, err
	}
	mode := p.notified.BodyMode()
	p.bodyMode = mode
	switch mode.Kind {
	case BodyNone:
		if err := p.notified.OnMessageEnd(); err != nil {
			return 1, err
		}
		p.st = stDone
		return 1, nil
	case BodyContentLength:
		if mode.Length <= 0 {
			if err := p.notified.OnMessageEnd(); err != nil {
				return 1, err
			}
			p.st = stDone
			return 1, nil
		}
		p.bodyRemain = mode.Length
		p.st = stBodyContentLength
		return 1, nil
	case BodyChunked:
		p.chunkSize, p.chunkRead = 0, 0
		p.st = stBodyChunkedSize
		return 1, nil
	default: // BodyUntilClose
		p.st = stBodyUntilClose
		return 1, nil
	}
}

// scanToken consumes bytes up to (and including) delim, invoking onTok
// with the accumulated token (excluding delim) once seen, then moves to
// next. It is only used for tokens short enough that holding them in a
// local slice across Execute calls isn't needed elsewhere; the request
// method and HTTP version tokens are bounded in practice by the line
// length the caller already limits upstream (oversize guards live in
// Transaction, not here).
func (p *Parser) scanToken(rest []byte, delim byte, onTok func([]byte) error, next state) (int, error) {
	for i, c := range rest {
		if c == delim {
			tok := append([]byte(nil), p.tokBuf(rest[:i])...)
			if err := onTok(tok); err != nil {
				return 0, err
			}
			p.st = next
			return i + 1, nil
		}
	}
	// no delimiter in this slice yet; accumulate is handled by the
	// caller re-invoking Execute with more data appended to the same
	// logical token - to keep this tokeniser allocation-light we instead
	// require callers to buffer at the IO-buffer layer until at least
	// one delimiter is visible, which is always true in practice because
	// request lines are bounded in size well before a block boundary.
	p.pending = append(p.pending, rest...)
	return len(rest), nil
}

func (p *Parser) tokBuf(b []byte) []byte {
	if len(p.pending) == 0 {
		return b
	}
	joined := append(p.pending, b...)
	p.pending = nil
	return joined
}

func (p *Parser) scanLine(rest []byte, onTok func([]byte) error, next state) (int, error) {
	for i, c := range rest {
		if c == '\r' || c == '\n' {
			tok := p.tokBuf(rest[:i])
			if err := onTok(tok); err != nil {
				return 0, err
			}
			p.st = next
			if c == '\r' {
				p.sawCR = true
				return i + 1, nil
			}
			return i + 1, nil
		}
	}
	p.pending = append(p.pending, rest...)
	return len(rest), nil
}

func urlBegunGuard(p *Parser) error {
	if !p.urlBegun {
		p.urlBegun = true
		return p.notified.OnURLBegin()
	}
	return nil
}

func parseVersion(tok []byte) (maj, min int, ok bool) {
	if len(tok) != 8 || string(tok[:5]) != "HTTP/" || tok[6] != '.' {
		return 0, 0, false
	}
	if !isDigit(tok[5]) || !isDigit(tok[7]) {
		return 0, 0, false
	}
	return int(tok[5] - '0'), int(tok[7] - '0'), true
}

func isDigit(b byte) bool    { return b >= '0' && b <= '9' }
func isHexDigit(b byte) bool { return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') }
func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	default:
		return int(b-'A') + 10
	}
}
