// Package crl manages partitioned certificate revocation lists. Each CA
// splits its revocations across a fixed number of partitions so that no
// single list grows unbounded; serial numbers map deterministically onto the
// currently active partitions, and each partition carries its own monotonic
// CRL number sequence.
package crl

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrNotConfigured is returned when no partition configuration exists
	// for the named CA.
	ErrNotConfigured = errors.New("ca has no partition configuration")

	// ErrUnknownPartition is returned when a partition index is outside
	// [1..PartitionCount].
	ErrUnknownPartition = errors.New("unknown crl partition")

	// ErrAllPartitionsSuspended is returned by partition assignment when
	// every partition of the CA is suspended. Revocations are still
	// recorded; list issuance is deferred until a partition is resumed.
	ErrAllPartitionsSuspended = errors.New("all crl partitions are suspended")

	// ErrInvalidConfig is returned when a partition configuration violates
	// its invariants.
	ErrInvalidConfig = errors.New("invalid partition configuration")
)

// ---------------------------------------------------------------------------
// Revocation reasons (RFC 5280 CRLReason)
// ---------------------------------------------------------------------------

// ReasonCode is an RFC 5280 CRL entry reason code.
type ReasonCode int

const (
	ReasonUnspecified          ReasonCode = 0
	ReasonKeyCompromise        ReasonCode = 1
	ReasonCACompromise         ReasonCode = 2
	ReasonAffiliationChanged   ReasonCode = 3
	ReasonSuperseded           ReasonCode = 4
	ReasonCessationOfOperation ReasonCode = 5
	ReasonCertificateHold      ReasonCode = 6
	ReasonRemoveFromCRL        ReasonCode = 8
	ReasonPrivilegeWithdrawn   ReasonCode = 9
	ReasonAACompromise         ReasonCode = 10
)

var reasonNames = map[ReasonCode]string{
	ReasonUnspecified:          "unspecified",
	ReasonKeyCompromise:        "keyCompromise",
	ReasonCACompromise:         "cACompromise",
	ReasonAffiliationChanged:   "affiliationChanged",
	ReasonSuperseded:           "superseded",
	ReasonCessationOfOperation: "cessationOfOperation",
	ReasonCertificateHold:      "certificateHold",
	ReasonRemoveFromCRL:        "removeFromCRL",
	ReasonPrivilegeWithdrawn:   "privilegeWithdrawn",
	ReasonAACompromise:         "aACompromise",
}

func (r ReasonCode) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Valid reports whether r is one of the assigned RFC 5280 reason codes.
func (r ReasonCode) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

// ParseReason maps a reason name (case-insensitive) to its code.
func ParseReason(s string) (ReasonCode, error) {
	for code, name := range reasonNames {
		if strings.EqualFold(s, name) {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown revocation reason %q", s)
}

// ---------------------------------------------------------------------------
// Partition configuration
// ---------------------------------------------------------------------------

// PartitionConfig describes how a CA partitions its revocation lists.
// Partitions are 1-indexed; partition 0 is reserved for revocations that
// were recorded while every partition was suspended.
type PartitionConfig struct {
	CAName         string        `json:"ca_name"`
	PartitionCount uint32        `json:"partition_count"`
	Suspended      []uint32      `json:"suspended,omitempty"`
	Period         time.Duration `json:"period"`
	BaseURL        string        `json:"base_url"`
}

// Validate checks the configuration invariants: at least one partition, a
// positive issuance period, and every suspended index within range.
func (c *PartitionConfig) Validate() error {
	if c.CAName == "" {
		return fmt.Errorf("%w: ca name is required", ErrInvalidConfig)
	}
	if c.PartitionCount < 1 {
		return fmt.Errorf("%w: partition count must be at least 1", ErrInvalidConfig)
	}
	if c.Period <= 0 {
		return fmt.Errorf("%w: issuance period must be positive", ErrInvalidConfig)
	}
	seen := make(map[uint32]bool, len(c.Suspended))
	for _, p := range c.Suspended {
		if p < 1 || p > c.PartitionCount {
			return fmt.Errorf("%w: suspended partition %d out of range [1..%d]",
				ErrInvalidConfig, p, c.PartitionCount)
		}
		if seen[p] {
			return fmt.Errorf("%w: partition %d suspended twice", ErrInvalidConfig, p)
		}
		seen[p] = true
	}
	return nil
}

// IsSuspended reports whether partition p is currently suspended.
func (c *PartitionConfig) IsSuspended(p uint32) bool {
	for _, s := range c.Suspended {
		if s == p {
			return true
		}
	}
	return false
}

// activePartitions returns the non-suspended partition indices in ascending
// order. The ordering is what makes hash-based assignment deterministic for
// a given suspension set.
func (c *PartitionConfig) activePartitions() []uint32 {
	active := make([]uint32, 0, c.PartitionCount)
	for p := uint32(1); p <= c.PartitionCount; p++ {
		if !c.IsSuspended(p) {
			active = append(active, p)
		}
	}
	return active
}

// DistributionPointURI builds the CRL distribution point URI for a
// partition. A wildcard URI (partition=*) addresses every partition at once
// and is what gets stamped into issued certificates.
func (c *PartitionConfig) DistributionPointURI(partition uint32, wildcard bool) string {
	sep := "?"
	if strings.Contains(c.BaseURL, "?") {
		sep = "&"
	}
	if wildcard {
		return c.BaseURL + sep + "partition=*"
	}
	return fmt.Sprintf("%s%spartition=%d", c.BaseURL, sep, partition)
}

func (c *PartitionConfig) clone() *PartitionConfig {
	cp := *c
	cp.Suspended = append([]uint32(nil), c.Suspended...)
	sort.Slice(cp.Suspended, func(i, j int) bool { return cp.Suspended[i] < cp.Suspended[j] })
	return &cp
}

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

// Revocation is a single revoked certificate line item.
type Revocation struct {
	Serial    string     `json:"serial"`
	Reason    ReasonCode `json:"reason"`
	RevokedAt time.Time  `json:"revoked_at"`
}

// Entry is an immutable snapshot of one issued partition list. Number is
// gap-free and strictly increasing per (CA, partition).
type Entry struct {
	CAName      string       `json:"ca_name"`
	Partition   uint32       `json:"partition"`
	Number      uint64       `json:"number"`
	ThisUpdate  time.Time    `json:"this_update"`
	NextUpdate  time.Time    `json:"next_update"`
	Revocations []Revocation `json:"revocations"`
}

func (e *Entry) clone() *Entry {
	cp := *e
	cp.Revocations = append([]Revocation(nil), e.Revocations...)
	return &cp
}
