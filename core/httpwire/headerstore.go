package httpwire

import "fmt"

// scratchKeyCap is the size of the fixed-size in-place buffer used for
// the header key currently being parsed (spec §3: "a small fixed-size
// current-key scratch buffer (cap <= 32 bytes)"). Keys beyond this are
// still tracked for their full length but truncate the in-memory copy.
const scratchKeyCap = 32

// maxKeyLen is the cap past which a header key is considered oversized
// and forces the transaction into tunnel mode (spec §4.4).
const maxKeyLen = 10 * 1024

// maxValueLen is the cap on a single header value (spec §3: "a bounded
// growable byte string (cap 1 KiB)" - the store itself may grow past
// this for accounting, but values beyond it are treated as oversized).
const maxValueLen = 1024

// ValuePos is a stable {beg,end} byte-range into a HeaderStore's buffer.
// It remains valid across further appends: the buffer only grows.
type ValuePos struct {
	Beg, End uint32
}

// Len reports how many bytes this position spans.
func (p ValuePos) Len() uint32 { return p.End - p.Beg }

// Valid reports whether this position was ever committed.
func (p ValuePos) Valid() bool { return p.End > p.Beg }

// HeaderStore is the per-parser-direction value store described in
// spec §3: a single growing byte buffer for committed header values,
// plus scratch state for whichever key/value is currently being
// assembled.
type HeaderStore struct {
	buf []byte

	keyScratch   [scratchKeyCap]byte
	keyScratchN  int
	keyFullLen   int
	keyOversized bool

	valStart    uint32 // offset into buf where the in-progress value begins
	valAppended uint32
	valOversize bool
}

// NewHeaderStore returns an empty store with buf pre-allocated to the
// spec's default 1 KiB capacity.
func NewHeaderStore() *HeaderStore {
	return &HeaderStore{buf: make([]byte, 0, maxValueLen)}
}

// StartKey begins a new header key, resetting the scratch buffer.
func (h *HeaderStore) StartKey() {
	h.keyScratchN = 0
	h.keyFullLen = 0
	h.keyOversized = false
}

// AppendKey appends bytes to the key currently being assembled. Past
// maxKeyLen the key is marked oversized (caller should force tunnel);
// past scratchKeyCap the in-memory copy simply stops growing while the
// full length keeps being tracked.
func (h *HeaderStore) AppendKey(p []byte) {
	h.keyFullLen += len(p)
	if h.keyFullLen > maxKeyLen {
		h.keyOversized = true
	}
	if h.keyScratchN < scratchKeyCap {
		n := copy(h.keyScratch[h.keyScratchN:], p)
		h.keyScratchN += n
	}
}

// Key returns the (possibly truncated) current key as a string and
// whether the full key was oversized.
func (h *HeaderStore) Key() (string, bool) {
	return string(h.keyScratch[:h.keyScratchN]), h.keyOversized
}

// KeyEqualFold reports whether the in-progress key case-insensitively
// equals name, comparing only what fits in the scratch buffer - correct
// as long as name itself is <= scratchKeyCap, which every header this
// package inspects is.
func (h *HeaderStore) KeyEqualFold(name string) bool {
	if h.keyOversized || h.keyScratchN != len(name) {
		return false
	}
	return asciiEqualFold(h.keyScratch[:h.keyScratchN], name)
}

func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		bc, sc := b[i], s[i]
		if bc >= 'A' && bc <= 'Z' {
			bc += 'a' - 'A'
		}
		if sc >= 'A' && sc <= 'Z' {
			sc += 'a' - 'A'
		}
		if bc != sc {
			return false
		}
	}
	return true
}

// StartValue begins a new value for the current key at the buffer's
// current write position.
func (h *HeaderStore) StartValue() {
	h.valStart = uint32(len(h.buf))
	h.valAppended = 0
	h.valOversize = false
}

// AppendValue appends bytes to the in-progress value, growing buf.
func (h *HeaderStore) AppendValue(p []byte) {
	h.valAppended += uint32(len(p))
	if h.valAppended > maxValueLen {
		h.valOversize = true
	}
	h.buf = append(h.buf, p...)
}

// CommitCurrentValue finalizes the byte range of the in-progress value
// and returns it for later retrieval via ValuePositionToView. Oversized
// values are still committed (the caller decides whether to force
// tunnel); the byte range still refers to real bytes.
func (h *HeaderStore) CommitCurrentValue() (ValuePos, bool) {
	pos := ValuePos{Beg: h.valStart, End: uint32(len(h.buf))}
	oversize := h.valOversize
	h.valStart = uint32(len(h.buf))
	h.valAppended = 0
	h.valOversize = false
	return pos, oversize
}

// RemoveCurrentValue discards the uncommitted suffix appended since the
// last StartValue, rewinding the buffer.
func (h *HeaderStore) RemoveCurrentValue() {
	h.buf = h.buf[:h.valStart]
	h.valAppended = 0
	h.valOversize = false
}

// ValuePositionToView retrieves the byte range previously returned by
// CommitCurrentValue.
func (h *HeaderStore) ValuePositionToView(pos ValuePos) []byte {
	if pos.End > uint32(len(h.buf)) || pos.Beg > pos.End {
		return nil
	}
	return h.buf[pos.Beg:pos.End]
}

// ValueString is a convenience wrapper around ValuePositionToView.
func (h *HeaderStore) ValueString(pos ValuePos) string {
	return string(h.ValuePositionToView(pos))
}

// Reset clears the store for reuse by the next transaction sharing the
// same parser-direction slot.
func (h *HeaderStore) Reset() {
	h.buf = h.buf[:0]
	h.keyScratchN = 0
	h.keyFullLen = 0
	h.keyOversized = false
	h.valStart = 0
	h.valAppended = 0
	h.valOversize = false
}

func (h *HeaderStore) String() string {
	return fmt.Sprintf("HeaderStore{bufLen=%d}", len(h.buf))
}
