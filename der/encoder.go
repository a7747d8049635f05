package der

import (
	"fmt"
	"strconv"
	"strings"
)

// Encoder builds a DER byte string through scoped construction: Begin opens
// a constructed element, primitive writes append children, End closes the
// element and length-prefixes its contents. Errors are sticky: the first
// failure is remembered and returned by Bytes, so call sites can chain
// writes without checking each one.
type Encoder struct {
	frames []encFrame
	err    error
}

type encFrame struct {
	tag Tag
	buf []byte
}

// NewEncoder returns an Encoder with an open root scope. The root scope
// collects top-level elements; Bytes returns them concatenated.
func NewEncoder() *Encoder {
	return &Encoder{frames: []encFrame{{}}}
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) top() *encFrame {
	return &e.frames[len(e.frames)-1]
}

func (e *Encoder) write(tag Tag, value []byte) {
	if e.err != nil {
		return
	}
	f := e.top()
	f.buf = append(f.buf, tag.identifier()...)
	f.buf = append(f.buf, encodeLength(len(value))...)
	f.buf = append(f.buf, value...)
}

// Begin opens a constructed element. Children written before the matching
// End become its contents.
func (e *Encoder) Begin(tag Tag) {
	if e.err != nil {
		return
	}
	tag.Constructed = true
	e.frames = append(e.frames, encFrame{tag: tag})
}

// End closes the innermost open element and writes it, definite-length,
// into its parent scope.
func (e *Encoder) End() {
	if e.err != nil {
		return
	}
	if len(e.frames) < 2 {
		e.fail(fmt.Errorf("End without Begin: %w", ErrUnbalanced))
		return
	}
	f := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	e.write(f.tag, f.buf)
}

// Integer writes a two's-complement minimal-length INTEGER.
func (e *Encoder) Integer(v int64) {
	e.write(Universal(TagInteger), encodeInteger(v))
}

// OctetString writes an OCTET STRING.
func (e *Encoder) OctetString(b []byte) {
	e.write(Universal(TagOctetString), b)
}

// UTF8String writes a UTF8String.
func (e *Encoder) UTF8String(s string) {
	e.write(Universal(TagUTF8String), []byte(s))
}

// Null writes a NULL.
func (e *Encoder) Null() {
	e.write(Universal(TagNull), nil)
}

// ObjectIdentifier writes an OBJECT IDENTIFIER given in dotted-decimal
// string form, e.g. "1.2.840.113533.7.66.13".
func (e *Encoder) ObjectIdentifier(oid string) {
	if e.err != nil {
		return
	}
	body, err := encodeOID(oid)
	if err != nil {
		e.fail(err)
		return
	}
	e.write(Universal(TagObjectIdentifier), body)
}

// Raw writes an element with the given tag and pre-encoded value bytes.
func (e *Encoder) Raw(tag Tag, value []byte) {
	e.write(tag, value)
}

// Bytes returns the encoded output. It fails if any write failed or a
// Begin was never closed.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if len(e.frames) != 1 {
		return nil, fmt.Errorf("%d open scope(s) at Bytes: %w", len(e.frames)-1, ErrUnbalanced)
	}
	return e.frames[0].buf, nil
}

func encodeInteger(v int64) []byte {
	// Build big-endian two's complement, minimal length.
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	// Strip redundant leading octets.
	i := 0
	for i < 7 {
		if b[i] == 0x00 && b[i+1]&0x80 == 0 {
			i++
			continue
		}
		if b[i] == 0xff && b[i+1]&0x80 != 0 {
			i++
			continue
		}
		break
	}
	return b[i:]
}

func encodeOID(oid string) ([]byte, error) {
	parts := strings.Split(oid, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("OID %q needs at least two arcs: %w", oid, ErrCodec)
	}
	arcs := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("OID %q arc %d: %w", oid, i, ErrCodec)
		}
		arcs[i] = v
	}
	if arcs[0] > 2 || (arcs[0] < 2 && arcs[1] > 39) {
		return nil, fmt.Errorf("OID %q has invalid leading arcs: %w", oid, ErrCodec)
	}
	body := appendBase128(nil, arcs[0]*40+arcs[1])
	for _, arc := range arcs[2:] {
		body = appendBase128(body, arc)
	}
	return body, nil
}

func appendBase128(dst []byte, v uint64) []byte {
	var enc []byte
	for {
		enc = append([]byte{byte(v & 0x7f)}, enc...)
		v >>= 7
		if v == 0 {
			break
		}
	}
	for i := 0; i < len(enc)-1; i++ {
		enc[i] |= 0x80
	}
	return append(dst, enc...)
}
