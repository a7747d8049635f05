package ca

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/jmcleod/palisade/der"
	"github.com/jmcleod/palisade/storage"
)

// oidIssuingDistributionPoint is the id-ce-issuingDistributionPoint
// extension (RFC 5280 section 5.2.5). It is what scopes each signed list
// to its partition.
var oidIssuingDistributionPoint = asn1.ObjectIdentifier{2, 5, 29, 28}

// SignPartitionCRL flushes one partition and signs the resulting list with
// the CA key. The DER-encoded list is persisted and returned; its number is
// the partition's flush number, so signed lists inherit the gap-free
// sequence. Every signed list is kept: new ones supersede their predecessor
// but never replace it in storage.
func (a *Authority) SignPartitionCRL(ctx context.Context, ca string, partition uint32) ([]byte, error) {
	rt, err := a.runtime(ca)
	if err != nil {
		return nil, err
	}

	entry, err := a.crl.Flush(ctx, ca, partition)
	if err != nil {
		return nil, err
	}
	uri, err := a.crl.DistributionPointURI(ca, partition, false)
	if err != nil {
		return nil, err
	}
	idp, err := issuingDistributionPoint(uri)
	if err != nil {
		return nil, err
	}

	revoked := make([]x509.RevocationListEntry, 0, len(entry.Revocations))
	for _, rev := range entry.Revocations {
		serial, ok := new(big.Int).SetString(rev.Serial, 16)
		if !ok {
			return nil, fmt.Errorf("revocation %q: malformed serial", rev.Serial)
		}
		revoked = append(revoked, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: rev.RevokedAt,
			ReasonCode:     int(rev.Reason),
		})
	}

	caSigner, err := a.keys.Signer(rt.keyID)
	if err != nil {
		return nil, fmt.Errorf("getting signer for CA %q: %w", ca, err)
	}
	template := &x509.RevocationList{
		Number:                    new(big.Int).SetUint64(entry.Number),
		ThisUpdate:                entry.ThisUpdate,
		NextUpdate:                entry.NextUpdate,
		RevokedCertificateEntries: revoked,
		ExtraExtensions: []pkix.Extension{{
			Id:       oidIssuingDistributionPoint,
			Critical: true,
			Value:    idp,
		}},
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, template, rt.cert, caSigner)
	if err != nil {
		return nil, fmt.Errorf("signing crl %d for %s partition %d: %w", entry.Number, ca, partition, err)
	}

	err = a.repo.Batch(ctx, ca, func(tx storage.BatchTx) error {
		if err := tx.Put(storage.RecordTypeCRLDocument, crlDocumentID(partition, entry.Number), crlDER); err != nil {
			return err
		}
		// Latest pointer, keyed by the bare partition index.
		latest := strconv.FormatUint(entry.Number, 10)
		return tx.Put(storage.RecordTypeCRLDocument, partitionIndexID(partition), []byte(latest))
	})
	if err != nil {
		return nil, fmt.Errorf("storing signed crl: %w", err)
	}
	a.logger.Info("crl signed",
		"ca", ca, "partition", partition, "number", entry.Number, "revoked", len(revoked))
	return crlDER, nil
}

// SignedCRL returns the most recently signed list for a partition.
func (a *Authority) SignedCRL(ctx context.Context, ca string, partition uint32) ([]byte, error) {
	data, err := a.repo.Get(ctx, ca, storage.RecordTypeCRLDocument, partitionIndexID(partition))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrScopeNotFound) {
			return nil, fmt.Errorf("%s partition %d: %w", ca, partition, ErrNoCRL)
		}
		return nil, err
	}
	number, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s partition %d: decoding latest crl pointer: %w", ca, partition, err)
	}
	return a.SignedCRLByNumber(ctx, ca, partition, number)
}

// SignedCRLByNumber returns one signed list from the partition's history,
// including lists that have since been superseded.
func (a *Authority) SignedCRLByNumber(ctx context.Context, ca string, partition uint32, number uint64) ([]byte, error) {
	data, err := a.repo.Get(ctx, ca, storage.RecordTypeCRLDocument, crlDocumentID(partition, number))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrScopeNotFound) {
			return nil, fmt.Errorf("%s partition %d number %d: %w", ca, partition, number, ErrNoCRL)
		}
		return nil, err
	}
	return data, nil
}

func partitionIndexID(partition uint32) string {
	return strconv.FormatUint(uint64(partition), 10)
}

func crlDocumentID(partition uint32, number uint64) string {
	return partitionIndexID(partition) + "/" + strconv.FormatUint(number, 10)
}

// issuingDistributionPoint encodes the IssuingDistributionPoint extension
// value: a full name holding a single uniformResourceIdentifier.
//
//	IssuingDistributionPoint ::= SEQUENCE {
//	    distributionPoint [0] DistributionPointName OPTIONAL, ... }
//	DistributionPointName ::= CHOICE { fullName [0] GeneralNames, ... }
//	GeneralName ::= CHOICE { ... uniformResourceIdentifier [6] IA5String ... }
func issuingDistributionPoint(uri string) ([]byte, error) {
	enc := der.NewEncoder()
	enc.Begin(der.Sequence())
	enc.Begin(der.Context(0))
	enc.Begin(der.Context(0))
	enc.Raw(der.Tag{Class: der.ClassContext, Number: 6}, []byte(uri))
	enc.End()
	enc.End()
	enc.End()
	return enc.Bytes()
}
