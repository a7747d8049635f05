package der

import (
	"fmt"
	"strconv"
	"strings"
)

// Decoder is a cursor over a DER byte string. Peek inspects the element at
// the cursor, Read consumes it, and Enter/Leave descend into and out of
// constructed elements. All methods validate definite, minimally encoded
// lengths; anything else fails with an error wrapping ErrCodec.
type Decoder struct {
	data []byte
	pos  int
	ends []int // end offsets of entered constructed elements
}

// NewDecoder returns a Decoder positioned at the start of data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data, ends: []int{len(data)}}
}

func (d *Decoder) end() int {
	return d.ends[len(d.ends)-1]
}

// More reports whether any element remains in the current scope.
func (d *Decoder) More() bool {
	return d.pos < d.end()
}

// header parses the tag and length at offset pos without consuming them.
// It returns the tag, the offset of the value, and the value length.
func (d *Decoder) header(pos int) (Tag, int, int, error) {
	limit := d.end()
	if pos >= limit {
		return Tag{}, 0, 0, fmt.Errorf("reading tag at offset %d: %w", pos, ErrTruncated)
	}
	first := d.data[pos]
	tag := Tag{
		Class:       Class(first & 0xc0),
		Constructed: first&constructedBit != 0,
		Number:      uint32(first & 0x1f),
	}
	pos++
	if tag.Number == 0x1f {
		// High-tag-number form.
		tag.Number = 0
		for {
			if pos >= limit {
				return Tag{}, 0, 0, fmt.Errorf("reading high tag number: %w", ErrTruncated)
			}
			b := d.data[pos]
			pos++
			tag.Number = tag.Number<<7 | uint32(b&0x7f)
			if b&0x80 == 0 {
				break
			}
		}
	}
	if pos >= limit {
		return Tag{}, 0, 0, fmt.Errorf("reading length: %w", ErrTruncated)
	}
	lb := d.data[pos]
	pos++
	var length int
	switch {
	case lb < 0x80:
		length = int(lb)
	case lb == 0x80:
		return Tag{}, 0, 0, ErrIndefiniteLength
	default:
		n := int(lb & 0x7f)
		if n > 4 {
			return Tag{}, 0, 0, fmt.Errorf("length of %d octets: %w", n, ErrLength)
		}
		if pos+n > limit {
			return Tag{}, 0, 0, fmt.Errorf("reading long-form length: %w", ErrTruncated)
		}
		for i := 0; i < n; i++ {
			length = length<<8 | int(d.data[pos+i])
		}
		pos += n
		// DER: long form must be necessary and minimal.
		if length < 0x80 || d.data[pos-n] == 0x00 {
			return Tag{}, 0, 0, fmt.Errorf("non-minimal length: %w", ErrLength)
		}
	}
	if pos+length > limit {
		return Tag{}, 0, 0, fmt.Errorf("value of %d bytes exceeds scope: %w", length, ErrTruncated)
	}
	return tag, pos, length, nil
}

// Peek returns the tag of the element at the cursor without consuming it.
func (d *Decoder) Peek() (Tag, error) {
	tag, _, _, err := d.header(d.pos)
	return tag, err
}

// Read consumes the element at the cursor and returns its tag and raw
// value bytes (contents only, header stripped).
func (d *Decoder) Read() (Tag, []byte, error) {
	tag, vpos, vlen, err := d.header(d.pos)
	if err != nil {
		return Tag{}, nil, err
	}
	d.pos = vpos + vlen
	return tag, d.data[vpos : vpos+vlen], nil
}

// Skip consumes the element at the cursor without interpreting it.
func (d *Decoder) Skip() error {
	_, _, err := d.Read()
	return err
}

// Enter descends into the constructed element at the cursor. Subsequent
// reads see its children; Leave returns to the enclosing scope.
func (d *Decoder) Enter() (Tag, error) {
	tag, vpos, vlen, err := d.header(d.pos)
	if err != nil {
		return Tag{}, err
	}
	if !tag.Constructed {
		return Tag{}, fmt.Errorf("Enter on primitive %s: %w", tag, ErrTagMismatch)
	}
	d.pos = vpos
	d.ends = append(d.ends, vpos+vlen)
	return tag, nil
}

// Leave exits the innermost entered element, positioning the cursor after
// it regardless of how many children were consumed.
func (d *Decoder) Leave() error {
	if len(d.ends) < 2 {
		return fmt.Errorf("Leave without Enter: %w", ErrUnbalanced)
	}
	d.pos = d.ends[len(d.ends)-1]
	d.ends = d.ends[:len(d.ends)-1]
	return nil
}

// expect consumes a primitive element and verifies its universal tag number.
func (d *Decoder) expect(number uint32) ([]byte, error) {
	tag, value, err := d.Read()
	if err != nil {
		return nil, err
	}
	if !tag.Is(ClassUniversal, number) || tag.Constructed {
		return nil, fmt.Errorf("want %s, got %s: %w", Universal(number), tag, ErrTagMismatch)
	}
	return value, nil
}

// ReadInteger consumes an INTEGER that fits in an int64.
func (d *Decoder) ReadInteger() (int64, error) {
	value, err := d.expect(TagInteger)
	if err != nil {
		return 0, err
	}
	if len(value) == 0 || len(value) > 8 {
		return 0, fmt.Errorf("INTEGER of %d bytes: %w", len(value), ErrLength)
	}
	if len(value) > 1 {
		// DER: leading octet must be necessary.
		if (value[0] == 0x00 && value[1]&0x80 == 0) || (value[0] == 0xff && value[1]&0x80 != 0) {
			return 0, fmt.Errorf("non-minimal INTEGER: %w", ErrLength)
		}
	}
	v := int64(int8(value[0])) // sign-extend
	for _, b := range value[1:] {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// ReadOctetString consumes an OCTET STRING.
func (d *Decoder) ReadOctetString() ([]byte, error) {
	return d.expect(TagOctetString)
}

// ReadUTF8String consumes a UTF8String.
func (d *Decoder) ReadUTF8String() (string, error) {
	value, err := d.expect(TagUTF8String)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// ReadNull consumes a NULL and verifies its contents are empty.
func (d *Decoder) ReadNull() error {
	value, err := d.expect(TagNull)
	if err != nil {
		return err
	}
	if len(value) != 0 {
		return fmt.Errorf("NULL with %d content bytes: %w", len(value), ErrLength)
	}
	return nil
}

// ReadObjectIdentifier consumes an OBJECT IDENTIFIER and returns its
// dotted-decimal string form.
func (d *Decoder) ReadObjectIdentifier() (string, error) {
	value, err := d.expect(TagObjectIdentifier)
	if err != nil {
		return "", err
	}
	return decodeOID(value)
}

func decodeOID(body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty OID: %w", ErrCodec)
	}
	var arcs []uint64
	var v uint64
	pending := false
	for i, b := range body {
		if v == 0 && !pending && b == 0x80 {
			return "", fmt.Errorf("non-minimal OID arc at byte %d: %w", i, ErrCodec)
		}
		v = v<<7 | uint64(b&0x7f)
		pending = true
		if b&0x80 == 0 {
			arcs = append(arcs, v)
			v = 0
			pending = false
		}
	}
	if pending {
		return "", fmt.Errorf("unterminated OID arc: %w", ErrTruncated)
	}
	first, second := arcs[0]/40, arcs[0]%40
	if first > 2 {
		first, second = 2, arcs[0]-80
	}
	parts := make([]string, 0, len(arcs)+1)
	parts = append(parts, strconv.FormatUint(first, 10), strconv.FormatUint(second, 10))
	for _, arc := range arcs[1:] {
		parts = append(parts, strconv.FormatUint(arc, 10))
	}
	return strings.Join(parts, "."), nil
}
