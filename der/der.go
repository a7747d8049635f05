// Package der implements a minimal DER (Distinguished Encoding Rules)
// encoder and decoder for the ASN.1 structures the CA platform exchanges
// on the wire. It deliberately supports only the types those structures
// need (SEQUENCE, SET, INTEGER, OCTET STRING, OBJECT IDENTIFIER,
// UTF8String, NULL and context/application tags) and rejects anything
// BER would tolerate: indefinite lengths and non-minimal length encodings
// are errors.
package der

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrCodec is the base error for all malformed-DER conditions. Every
	// other error in this package wraps it, so callers can match the whole
	// class with errors.Is(err, der.ErrCodec).
	ErrCodec = errors.New("malformed DER")

	// ErrTruncated is returned when the input ends inside a tag, length or
	// value.
	ErrTruncated = fmt.Errorf("truncated input: %w", ErrCodec)

	// ErrLength is returned for invalid length encodings, including
	// non-minimal long-form lengths.
	ErrLength = fmt.Errorf("invalid length encoding: %w", ErrCodec)

	// ErrIndefiniteLength is returned when an indefinite-length element is
	// encountered. DER requires definite lengths.
	ErrIndefiniteLength = fmt.Errorf("indefinite length not allowed: %w", ErrCodec)

	// ErrTagMismatch is returned by typed reads when the element at the
	// cursor does not carry the expected tag.
	ErrTagMismatch = fmt.Errorf("unexpected tag: %w", ErrCodec)

	// ErrUnbalanced is returned by Encoder.Bytes and Decoder.Leave when
	// Begin/End or Enter/Leave calls do not pair up.
	ErrUnbalanced = fmt.Errorf("unbalanced constructed scope: %w", ErrCodec)
)

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

// Class is the ASN.1 tag class.
type Class uint8

const (
	ClassUniversal   Class = 0x00
	ClassApplication Class = 0x40
	ClassContext     Class = 0x80
	ClassPrivate     Class = 0xc0
)

const constructedBit = 0x20

// Universal tag numbers supported by this codec.
const (
	TagInteger          uint32 = 2
	TagOctetString      uint32 = 4
	TagNull             uint32 = 5
	TagObjectIdentifier uint32 = 6
	TagUTF8String       uint32 = 12
	TagSequence         uint32 = 16
	TagSet              uint32 = 17
)

// Tag identifies one DER element: its class, tag number and whether the
// element is constructed (contains child elements) or primitive.
type Tag struct {
	Class       Class
	Number      uint32
	Constructed bool
}

// Universal returns a primitive universal tag with the given number.
func Universal(number uint32) Tag {
	return Tag{Class: ClassUniversal, Number: number}
}

// Context returns a constructed context-specific tag. CMP and X.509 use
// constructed context tags for all the CHOICE/explicit fields this platform
// touches.
func Context(number uint32) Tag {
	return Tag{Class: ClassContext, Number: number, Constructed: true}
}

// Application returns a constructed application-class tag.
func Application(number uint32) Tag {
	return Tag{Class: ClassApplication, Number: number, Constructed: true}
}

// Sequence is the constructed universal SEQUENCE tag.
func Sequence() Tag {
	return Tag{Class: ClassUniversal, Number: TagSequence, Constructed: true}
}

// Set is the constructed universal SET tag.
func Set() Tag {
	return Tag{Class: ClassUniversal, Number: TagSet, Constructed: true}
}

// Is reports whether t has the given class and number, ignoring the
// constructed bit.
func (t Tag) Is(class Class, number uint32) bool {
	return t.Class == class && t.Number == number
}

func (t Tag) String() string {
	class := "universal"
	switch t.Class {
	case ClassApplication:
		class = "application"
	case ClassContext:
		class = "context"
	case ClassPrivate:
		class = "private"
	}
	kind := "primitive"
	if t.Constructed {
		kind = "constructed"
	}
	return fmt.Sprintf("[%s %d %s]", class, t.Number, kind)
}

// identifier renders the tag's identifier octets. Tag numbers below 31 fit
// in a single octet; larger numbers use the high-tag-number form.
func (t Tag) identifier() []byte {
	first := byte(t.Class)
	if t.Constructed {
		first |= constructedBit
	}
	if t.Number < 31 {
		return []byte{first | byte(t.Number)}
	}
	out := []byte{first | 0x1f}
	var enc []byte
	n := t.Number
	for {
		enc = append([]byte{byte(n & 0x7f)}, enc...)
		n >>= 7
		if n == 0 {
			break
		}
	}
	for i := 0; i < len(enc)-1; i++ {
		enc[i] |= 0x80
	}
	return append(out, enc...)
}

// encodeLength renders a definite DER length: short form below 128,
// minimal long form otherwise.
func encodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var body []byte
	for v := n; v > 0; v >>= 8 {
		body = append([]byte{byte(v)}, body...)
	}
	return append([]byte{0x80 | byte(len(body))}, body...)
}
