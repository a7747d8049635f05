package ca

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrProfileViolation is returned when an enrollment request asks for more
// than its certificate profile allows.
var ErrProfileViolation = errors.New("request violates certificate profile")

// Profile constrains what an enrollment request may ask for. Issued
// certificates always carry exactly the profile's key usages; requests are
// rejected rather than silently narrowed.
type Profile struct {
	Name         string
	KeyUsages    x509.KeyUsage
	ExtKeyUsages []x509.ExtKeyUsage

	// MaxValidity caps the requested validity. Zero means the profile
	// default is also the maximum.
	MaxValidity time.Duration

	// DefaultValidity applies when the request does not ask for one.
	DefaultValidity time.Duration

	// AllowedDNSSuffixes restricts SAN DNS names: each name must equal a
	// suffix or be a subdomain of one. Empty allows any name.
	AllowedDNSSuffixes []string

	// AllowIPAddresses permits IP SANs.
	AllowIPAddresses bool
}

// validity resolves the effective validity for a request, enforcing the cap.
func (p *Profile) validity(requested time.Duration) (time.Duration, error) {
	max := p.MaxValidity
	if max == 0 {
		max = p.DefaultValidity
	}
	if requested == 0 {
		return p.DefaultValidity, nil
	}
	if requested < 0 {
		return 0, fmt.Errorf("%w: negative validity", ErrProfileViolation)
	}
	if max > 0 && requested > max {
		return 0, fmt.Errorf("%w: validity %s exceeds profile maximum %s",
			ErrProfileViolation, requested, max)
	}
	return requested, nil
}

// check validates the request's SANs against the profile.
func (p *Profile) check(req *EnrollmentRequest) error {
	for _, name := range req.DNSNames {
		if !p.dnsNameAllowed(name) {
			return fmt.Errorf("%w: dns name %q not allowed", ErrProfileViolation, name)
		}
	}
	if len(req.IPAddresses) > 0 && !p.AllowIPAddresses {
		return fmt.Errorf("%w: ip address SANs not allowed", ErrProfileViolation)
	}
	return nil
}

func (p *Profile) dnsNameAllowed(name string) bool {
	if len(p.AllowedDNSSuffixes) == 0 {
		return true
	}
	name = strings.ToLower(name)
	for _, suffix := range p.AllowedDNSSuffixes {
		suffix = strings.ToLower(suffix)
		if name == suffix || strings.HasSuffix(name, "."+suffix) {
			return true
		}
	}
	return false
}
