package httpwire

// parseControl is the type of errPausedSentinel, which Parser.Execute
// returns when the tokeniser has stopped at a pause point (headers-end
// or message-end); Wrapper.Execute turns it into a nil error with
// n < len(data). It is not a parse failure.
type parseControl string

func (p parseControl) Error() string { return string(p) }

const errPausedSentinel = parseControl("httpwire: paused")

// PauseAt selects which boundaries Wrapper stops at.
type PauseAt uint8

const (
	PauseNone        PauseAt = 0
	PauseAtHeaders   PauseAt = 1 << 0
	PauseAtMessage   PauseAt = 1 << 1
	PauseAtBoth              = PauseAtHeaders | PauseAtMessage
)

// Wrapper sits between a Parser and the transaction-level Notified
// implementation, adding the two pieces of bookkeeping spec §4.3 asks
// for beyond the raw tokeniser: byte counters for the header block and
// for the whole message, and the ability to pause consumption right
// after headers end (so C4/C5 can derive the cache key and decide an
// action before any body byte is read) and right after the message
// ends (so C6 can decide whether to keep the connection open before
// the next message's bytes, if any, are touched).
type Wrapper struct {
	parser   *Parser
	delegate Notified
	pauseAt  PauseAt

	consumed  int64
	hdrBytes  int64
	msgBytes  int64
	hdrsSeen  bool
	msgSeen   bool
	pausedOn  PauseAt
}

// NewWrapper builds a Wrapper around a fresh Parser for the given
// direction, forwarding tokeniser events to delegate.
func NewWrapper(dir Direction, delegate Notified) *Wrapper {
	w := &Wrapper{delegate: delegate}
	w.parser = NewParser(dir)
	w.parser.SetNotified(w)
	return w
}

// HdrBytes returns the number of bytes consumed through the end of the
// header block (including the terminating CRLFCRLF), valid once the
// headers-end pause (or event) has been observed.
func (w *Wrapper) HdrBytes() int64 { return w.hdrBytes }

// MsgBytes returns the number of bytes consumed through the end of the
// whole message (headers + body + trailers), valid once the
// message-end pause (or event) has been observed.
func (w *Wrapper) MsgBytes() int64 { return w.msgBytes }

// Paused reports whether the tokeniser is currently stopped at a pause
// point installed via SetPauseAt.
func (w *Wrapper) Paused() PauseAt { return w.pausedOn }

// SetPauseAt configures which boundaries Execute should stop at. It
// may be changed between messages (after Reset) or, for the headers
// pause, before the body of the current message has begun.
func (w *Wrapper) SetPauseAt(p PauseAt) { w.pauseAt = p }

// Resume clears a pause, allowing the next Execute call to continue
// consuming bytes past the boundary it stopped at.
func (w *Wrapper) Resume() { w.pausedOn = PauseNone }

// Reset prepares the Wrapper (and its Parser) for the next message on
// the same connection.
func (w *Wrapper) Reset() {
	w.parser.Reset()
	w.consumed = 0
	w.hdrBytes = 0
	w.msgBytes = 0
	w.hdrsSeen = false
	w.msgSeen = false
	w.pausedOn = PauseNone
}

// Done reports whether the current message has been fully tokenised.
func (w *Wrapper) Done() bool { return w.parser.Done() }

// Errored reports whether the underlying parser has failed.
func (w *Wrapper) Errored() bool { return w.parser.Errored() }

// Execute feeds bytes to the wrapped parser, stopping early (with n <
// len(data)) whenever a configured pause point is reached. Call Resume
// and Execute again with the unconsumed remainder to continue.
func (w *Wrapper) Execute(data []byte) (int, error) {
	if w.pausedOn != PauseNone {
		return 0, nil
	}
	n, err := w.parser.Execute(data)
	w.consumed += int64(n)
	// the parser returns right after the step that ends the headers (when
	// pausing there) or the message, so w.consumed is exact at that point.
	if w.pausedOn&PauseAtHeaders != 0 {
		w.hdrBytes = w.consumed
	}
	if w.parser.Done() {
		w.msgBytes = w.consumed
	}
	if err == errPausedSentinel {
		return n, nil
	}
	return n, err
}

// The remaining methods implement Notified, forwarding to the
// delegate and recording byte-counter snapshots and pause requests
// around the two events the spec cares about.

func (w *Wrapper) OnMessageBegin() error { return w.delegate.OnMessageBegin() }
func (w *Wrapper) OnHTTPVersion(major, minor int) error {
	return w.delegate.OnHTTPVersion(major, minor)
}
func (w *Wrapper) OnMethod(method string) error   { return w.delegate.OnMethod(method) }
func (w *Wrapper) OnURLBegin() error              { return w.delegate.OnURLBegin() }
func (w *Wrapper) OnURLData(p []byte) error       { return w.delegate.OnURLData(p) }
func (w *Wrapper) OnURLEnd() error                { return w.delegate.OnURLEnd() }
func (w *Wrapper) OnStatusCode(code int) error     { return w.delegate.OnStatusCode(code) }
func (w *Wrapper) OnHeaderKeyBegin() error         { return w.delegate.OnHeaderKeyBegin() }
func (w *Wrapper) OnHeaderKeyData(p []byte) error  { return w.delegate.OnHeaderKeyData(p) }
func (w *Wrapper) OnHeaderKeyEnd() error           { return w.delegate.OnHeaderKeyEnd() }
func (w *Wrapper) OnHeaderValueBegin() error       { return w.delegate.OnHeaderValueBegin() }
func (w *Wrapper) OnHeaderValueData(p []byte) error {
	return w.delegate.OnHeaderValueData(p)
}
func (w *Wrapper) OnHeaderValueEnd() error { return w.delegate.OnHeaderValueEnd() }

func (w *Wrapper) OnHeadersEnd() error {
	// w.consumed is only updated by Execute after step() returns, and
	// this callback fires from inside that same in-flight step - so the
	// terminating '\n' byte has already been walked past by the tokeniser
	// but not yet folded into w.consumed. Account for it explicitly.
	w.hdrBytes = w.consumed + 1
	w.hdrsSeen = true
	if err := w.delegate.OnHeadersEnd(); err != nil {
		return err
	}
	if w.pauseAt&PauseAtHeaders != 0 {
		w.pausedOn |= PauseAtHeaders
		w.parser.requestPause()
	}
	return nil
}

func (w *Wrapper) OnMessageEnd() error {
	w.msgBytes = w.consumed + 1
	w.msgSeen = true
	if err := w.delegate.OnMessageEnd(); err != nil {
		return err
	}
	if w.pauseAt&PauseAtMessage != 0 {
		w.pausedOn |= PauseAtMessage
		w.parser.requestPause()
	}
	return nil
}

func (w *Wrapper) OnTrailingHeadersBegin() error { return w.delegate.OnTrailingHeadersBegin() }
func (w *Wrapper) OnTrailingHeadersEnd() error    { return w.delegate.OnTrailingHeadersEnd() }
func (w *Wrapper) BodyMode() BodyMode             { return w.delegate.BodyMode() }
