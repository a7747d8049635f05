// Package cmp builds and parses the two CMP (RFC 4210) messages the CA
// platform exchanges for enrollment confirmation: the certConf PKIMessage
// sent by a client to confirm certificate receipt, and the pkiConf
// acknowledgement returned by the CA. Both transforms are pure byte-in,
// byte-out functions; transport (RFC 6712 HTTP framing) lives in Client.
package cmp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jmcleod/palisade/der"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrUnexpectedBody is returned when a PKIMessage does not carry the
	// expected body tag.
	ErrUnexpectedBody = errors.New("unexpected PKIMessage body")

	// ErrMalformedPKIConf is returned when a pkiConf body is present but
	// its value is not the DER encoding of NULL.
	ErrMalformedPKIConf = errors.New("malformed pkiConf body")
)

// ---------------------------------------------------------------------------
// Protocol constants
// ---------------------------------------------------------------------------

// PKIMessage protocol version (cmp2000).
const pvno = 2

// CMP body tags used by this platform.
const (
	tagCertConf = 24 // [24] CertConfirmContent
	tagPKIConf  = 19 // [19] PKIConfirmContent (NULL)
)

// PKIHeader context tags.
const (
	tagProtectionAlg = 1 // [1] AlgorithmIdentifier
	tagSenderKID     = 2 // [2] KeyIdentifier
	tagDirectoryName = 4 // GeneralName CHOICE directoryName
)

// Algorithm identifiers carried in the mandatory protectionAlg field. Some
// CA implementations reject a certConf without a protection algorithm even
// when no protection bytes are supplied, so the builder always includes a
// password-based-MAC identifier with a fixed PBMParameter.
const (
	oidPasswordBasedMAC = "1.2.840.113533.7.66.13"
	oidSHA1             = "1.3.14.3.2.26"
	oidHMACSHA1         = "1.2.840.113549.2.7"
	oidCommonName       = "2.5.4.3"
)

const pbmIterationCount = 1024

// DefaultSenderKID is the routing alias placed in the senderKID header
// field. CAs use it only as an RA alias hint, never for cryptographic
// verification; the default identifies the health-check/monitoring path.
const DefaultSenderKID = "monitoring"

// DefaultRecipientCN is the placeholder recipient directoryName. The CA
// routes on senderKID, so any syntactically valid recipient is accepted.
const DefaultRecipientCN = "Any"

var derNull = []byte{0x05, 0x00}

// ---------------------------------------------------------------------------
// certConf builder
// ---------------------------------------------------------------------------

// Option adjusts the fixed placeholder fields of a built message.
type Option func(*buildConfig)

type buildConfig struct {
	recipientCN string
	senderKID   []byte
}

// WithRecipientCN overrides the placeholder recipient commonName.
func WithRecipientCN(cn string) Option {
	return func(c *buildConfig) { c.recipientCN = cn }
}

// WithSenderKID overrides the senderKID routing alias.
func WithSenderKID(kid []byte) Option {
	return func(c *buildConfig) { c.senderKID = append([]byte(nil), kid...) }
}

// BuildCertConf constructs a minimal RFC 4210 certConf PKIMessage. The
// caller-supplied key identifier seeds the PBMParameter salt; everything
// else is a fixed placeholder: pvno 2, a zero-length RDNSequence sender
// (the NULL GeneralName form), recipient CN="Any", a password-based-MAC
// protectionAlg (SHA-1 OWF, 1024 iterations, HMAC-SHA1), the "monitoring"
// senderKID alias, and a single CertStatus{certHash="0", certReqId=0}.
// The CertStatus is a syntactic placeholder, not a confirmation of a real
// issued certificate hash.
func BuildCertConf(senderKeyID []byte, opts ...Option) ([]byte, error) {
	cfg := buildConfig{
		recipientCN: DefaultRecipientCN,
		senderKID:   []byte(DefaultSenderKID),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := der.NewEncoder()
	e.Begin(der.Sequence()) // PKIMessage

	e.Begin(der.Sequence()) // PKIHeader
	e.Integer(pvno)

	// sender: directoryName with an empty RDNSequence.
	e.Begin(der.Context(tagDirectoryName))
	e.Begin(der.Sequence())
	e.End()
	e.End()

	// recipient: directoryName with a single CN RDN.
	e.Begin(der.Context(tagDirectoryName))
	e.Begin(der.Sequence())
	e.Begin(der.Set())
	e.Begin(der.Sequence())
	e.ObjectIdentifier(oidCommonName)
	e.UTF8String(cfg.recipientCN)
	e.End()
	e.End()
	e.End()
	e.End()

	// protectionAlg: id-PasswordBasedMac with PBMParameter. The OWF and MAC
	// AlgorithmIdentifiers are encoded without parameters, matching what
	// interoperating CAs emit.
	e.Begin(der.Context(tagProtectionAlg))
	e.Begin(der.Sequence())
	e.ObjectIdentifier(oidPasswordBasedMAC)
	e.Begin(der.Sequence()) // PBMParameter
	e.OctetString(senderKeyID)
	e.Begin(der.Sequence())
	e.ObjectIdentifier(oidSHA1)
	e.End()
	e.Integer(pbmIterationCount)
	e.Begin(der.Sequence())
	e.ObjectIdentifier(oidHMACSHA1)
	e.End()
	e.End()
	e.End()
	e.End()

	// senderKID routing alias.
	e.Begin(der.Context(tagSenderKID))
	e.OctetString(cfg.senderKID)
	e.End()

	e.End() // PKIHeader

	// body [24]: CertConfirmContent with one placeholder CertStatus.
	e.Begin(der.Context(tagCertConf))
	e.Begin(der.Sequence())
	e.Begin(der.Sequence())
	e.OctetString([]byte("0"))
	e.Integer(0)
	e.End()
	e.End()
	e.End()

	e.End() // PKIMessage

	msg, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding certConf: %w", err)
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// pkiConf parser
// ---------------------------------------------------------------------------

// ParsePKIConf validates that response is a PKIMessage whose body is the
// [19] pkiConf tag carrying exactly a DER NULL. It scans the sibling
// elements of the outer SEQUENCE (header, body, optional protection and
// extraCerts) rather than fully decoding the header, so any well-formed
// header is tolerated.
func ParsePKIConf(response []byte) error {
	d := der.NewDecoder(response)
	if _, err := d.Enter(); err != nil {
		return fmt.Errorf("entering PKIMessage: %w", err)
	}
	for d.More() {
		tag, err := d.Peek()
		if err != nil {
			return fmt.Errorf("scanning PKIMessage: %w", err)
		}
		if !tag.Is(der.ClassContext, tagPKIConf) {
			if err := d.Skip(); err != nil {
				return fmt.Errorf("scanning PKIMessage: %w", err)
			}
			continue
		}
		_, value, err := d.Read()
		if err != nil {
			return fmt.Errorf("reading pkiConf body: %w", err)
		}
		if !bytes.Equal(value, derNull) {
			return fmt.Errorf("pkiConf value %x: %w", value, ErrMalformedPKIConf)
		}
		return nil
	}
	return fmt.Errorf("no [%d] body before end of message: %w", tagPKIConf, ErrUnexpectedBody)
}

// ---------------------------------------------------------------------------
// Server-side helpers
// ---------------------------------------------------------------------------

// BuildPKIConf constructs the pkiConf PKIMessage a CA returns after a
// well-formed certConf: a minimal header mirroring the placeholder sender
// and recipient, and a [19] body wrapping NULL.
func BuildPKIConf() ([]byte, error) {
	e := der.NewEncoder()
	e.Begin(der.Sequence()) // PKIMessage

	e.Begin(der.Sequence()) // PKIHeader
	e.Integer(pvno)
	e.Begin(der.Context(tagDirectoryName))
	e.Begin(der.Sequence())
	e.End()
	e.End()
	e.Begin(der.Context(tagDirectoryName))
	e.Begin(der.Sequence())
	e.Begin(der.Set())
	e.Begin(der.Sequence())
	e.ObjectIdentifier(oidCommonName)
	e.UTF8String(DefaultRecipientCN)
	e.End()
	e.End()
	e.End()
	e.End()
	e.End()

	e.Begin(der.Context(tagPKIConf))
	e.Null()
	e.End()

	e.End()

	msg, err := e.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding pkiConf: %w", err)
	}
	return msg, nil
}

// CertConfInfo is the routing information extracted from a received
// certConf message.
type CertConfInfo struct {
	// SenderKID is the routing alias from the [2] header field, empty when
	// the field is absent.
	SenderKID []byte

	// CertReqID is the request identifier from the first CertStatus.
	CertReqID int64
}

// ParseCertConf validates that request is a PKIMessage carrying a [24]
// certConf body with at least one CertStatus, and returns its routing
// information. Full CMP processing is out of scope; this is the minimum
// a CA needs to acknowledge an enrollment confirmation.
func ParseCertConf(request []byte) (*CertConfInfo, error) {
	d := der.NewDecoder(request)
	if _, err := d.Enter(); err != nil {
		return nil, fmt.Errorf("entering PKIMessage: %w", err)
	}

	info := &CertConfInfo{}

	// PKIHeader: pull senderKID if present, skip everything else.
	if _, err := d.Enter(); err != nil {
		return nil, fmt.Errorf("entering PKIHeader: %w", err)
	}
	if v, err := d.ReadInteger(); err != nil {
		return nil, fmt.Errorf("reading pvno: %w", err)
	} else if v != pvno {
		return nil, fmt.Errorf("pvno %d: %w", v, ErrUnexpectedBody)
	}
	for d.More() {
		tag, err := d.Peek()
		if err != nil {
			return nil, fmt.Errorf("scanning PKIHeader: %w", err)
		}
		if tag.Is(der.ClassContext, tagSenderKID) {
			if _, err := d.Enter(); err != nil {
				return nil, err
			}
			kid, err := d.ReadOctetString()
			if err != nil {
				return nil, fmt.Errorf("reading senderKID: %w", err)
			}
			info.SenderKID = kid
			if err := d.Leave(); err != nil {
				return nil, err
			}
			continue
		}
		if err := d.Skip(); err != nil {
			return nil, fmt.Errorf("scanning PKIHeader: %w", err)
		}
	}
	if err := d.Leave(); err != nil {
		return nil, err
	}

	// body must be [24] certConf.
	if !d.More() {
		return nil, fmt.Errorf("missing body: %w", ErrUnexpectedBody)
	}
	tag, err := d.Peek()
	if err != nil {
		return nil, fmt.Errorf("reading body tag: %w", err)
	}
	if !tag.Is(der.ClassContext, tagCertConf) {
		return nil, fmt.Errorf("body %s: %w", tag, ErrUnexpectedBody)
	}
	if _, err := d.Enter(); err != nil {
		return nil, err
	}
	if _, err := d.Enter(); err != nil { // CertConfirmContent
		return nil, fmt.Errorf("entering CertConfirmContent: %w", err)
	}
	if !d.More() {
		return nil, fmt.Errorf("empty CertConfirmContent: %w", ErrUnexpectedBody)
	}
	if _, err := d.Enter(); err != nil { // first CertStatus
		return nil, fmt.Errorf("entering CertStatus: %w", err)
	}
	if _, err := d.ReadOctetString(); err != nil {
		return nil, fmt.Errorf("reading certHash: %w", err)
	}
	reqID, err := d.ReadInteger()
	if err != nil {
		return nil, fmt.Errorf("reading certReqId: %w", err)
	}
	info.CertReqID = reqID

	return info, nil
}
