package api

import (
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/palisade/ca"
	"github.com/jmcleod/palisade/crl"
)

// ---------------------------------------------------------------------------
// CA handlers
// ---------------------------------------------------------------------------

// ListCAs handles GET /cas.
func (a *API) ListCAs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListCAsResponse{CAs: a.authority.CANames()})
}

// CreateCA handles POST /cas.
func (a *API) CreateCA(w http.ResponseWriter, r *http.Request) {
	var req CreateCARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.CommonName == "" {
		writeError(w, http.StatusBadRequest, "name and common_name are required")
		return
	}
	if req.ValidityYears <= 0 {
		req.ValidityYears = 10
	}
	subject := pkix.Name{CommonName: req.CommonName}
	if req.Organization != "" {
		subject.Organization = []string{req.Organization}
	}
	if req.Country != "" {
		subject.Country = []string{req.Country}
	}

	identity := identityFromContext(r.Context())
	validity := time.Duration(req.ValidityYears) * 365 * 24 * time.Hour
	info, err := a.authority.CreateCA(r.Context(), identity, req.Name, subject, validity)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditCACreated, r, identity, slog.String("ca", req.Name))
	writeJSON(w, http.StatusCreated, info)
}

// GetCAInfo handles GET /cas/{caName}.
func (a *API) GetCAInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.authority.Info(chi.URLParam(r, "caName"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Enroll handles POST /cas/{caName}/enroll.
func (a *API) Enroll(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "caName")
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ips := make([]net.IP, 0, len(req.IPAddresses))
	for _, s := range req.IPAddresses {
		ip := net.ParseIP(s)
		if ip == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid ip address %q", s))
			return
		}
		ips = append(ips, ip)
	}

	identity := identityFromContext(r.Context())
	issued, err := a.authority.HandleEnrollment(r.Context(), identity, ca.EnrollmentRequest{
		CA:             caName,
		Profile:        req.Profile,
		Subject:        pkix.Name{CommonName: req.CommonName},
		DNSNames:       req.DNSNames,
		IPAddresses:    ips,
		EmailAddresses: req.EmailAddresses,
		Validity:       time.Duration(req.ValidityDays) * 24 * time.Hour,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditCertIssued, r, identity,
		slog.String("ca", caName), slog.String("serial", issued.SerialHex),
		slog.String("profile", req.Profile))
	writeJSON(w, http.StatusCreated, issued)
}

// Revoke handles POST /cas/{caName}/revoke.
func (a *API) Revoke(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "caName")
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reason := crl.ReasonUnspecified
	if req.Reason != "" {
		var err error
		reason, err = crl.ParseReason(req.Reason)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	identity := identityFromContext(r.Context())
	if err := a.authority.HandleRevocation(r.Context(), identity, caName, req.Serial, reason); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditCertRevoked, r, identity,
		slog.String("ca", caName), slog.String("serial", req.Serial),
		slog.String("reason", reason.String()))
	w.WriteHeader(http.StatusNoContent)
}

// ListCertificates handles GET /cas/{caName}/certificates.
func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	records, err := a.authority.Certificates(r.Context(), chi.URLParam(r, "caName"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetCertificate handles GET /cas/{caName}/certificates/{serial}.
func (a *API) GetCertificate(w http.ResponseWriter, r *http.Request) {
	record, err := a.authority.Certificate(r.Context(),
		chi.URLParam(r, "caName"), chi.URLParam(r, "serial"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ---------------------------------------------------------------------------
// CRL handlers
// ---------------------------------------------------------------------------

// GetCRL handles GET /cas/{caName}/crl?partition=N, serving the signed DER
// list for one partition. An optional number parameter fetches a superseded
// list from the partition's history.
func (a *API) GetCRL(w http.ResponseWriter, r *http.Request) {
	partition, err := strconv.ParseUint(r.URL.Query().Get("partition"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "partition query parameter is required")
		return
	}
	caName := chi.URLParam(r, "caName")

	var data []byte
	if raw := r.URL.Query().Get("number"); raw != "" {
		number, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "number query parameter must be an integer")
			return
		}
		data, err = a.authority.SignedCRLByNumber(r.Context(), caName, uint32(partition), number)
	} else {
		data, err = a.authority.SignedCRL(r.Context(), caName, uint32(partition))
	}
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	w.Write(data)
}

// ConfigureCRL handles PUT /cas/{caName}/crl/config.
func (a *API) ConfigureCRL(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "caName")
	var req CRLConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	identity := identityFromContext(r.Context())
	err := a.crl.Configure(r.Context(), identity, crl.PartitionConfig{
		CAName:         caName,
		PartitionCount: req.PartitionCount,
		Suspended:      req.Suspended,
		Period:         time.Duration(req.PeriodSeconds) * time.Second,
		BaseURL:        req.BaseURL,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditCRLConfigured, r, identity,
		slog.String("ca", caName), slog.Uint64("partitions", uint64(req.PartitionCount)))
	w.WriteHeader(http.StatusNoContent)
}

// FlushCRL handles POST /cas/{caName}/crl/{partition}/flush.
func (a *API) FlushCRL(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "caName")
	partition, ok := a.partitionParam(w, r)
	if !ok {
		return
	}
	identity := identityFromContext(r.Context())
	if _, err := a.authority.SignPartitionCRL(r.Context(), caName, partition); err != nil {
		mapError(w, err)
		return
	}
	entry, err := a.crl.LastEntry(r.Context(), caName, partition)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditCRLFlushed, r, identity,
		slog.String("ca", caName), slog.Uint64("partition", uint64(partition)),
		slog.Uint64("number", entry.Number))
	writeJSON(w, http.StatusOK, FlushResponse{
		Partition:  partition,
		Number:     entry.Number,
		Revoked:    len(entry.Revocations),
		ThisUpdate: entry.ThisUpdate,
		NextUpdate: entry.NextUpdate,
	})
}

// SuspendPartition handles POST /cas/{caName}/crl/{partition}/suspend.
func (a *API) SuspendPartition(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "caName")
	partition, ok := a.partitionParam(w, r)
	if !ok {
		return
	}
	identity := identityFromContext(r.Context())
	if err := a.crl.Suspend(r.Context(), identity, caName, partition); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditPartitionSuspended, r, identity,
		slog.String("ca", caName), slog.Uint64("partition", uint64(partition)))
	w.WriteHeader(http.StatusNoContent)
}

// ResumePartition handles POST /cas/{caName}/crl/{partition}/resume.
func (a *API) ResumePartition(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "caName")
	partition, ok := a.partitionParam(w, r)
	if !ok {
		return
	}
	identity := identityFromContext(r.Context())
	if err := a.crl.Resume(r.Context(), identity, caName, partition); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logIdentity(AuditPartitionResumed, r, identity,
		slog.String("ca", caName), slog.Uint64("partition", uint64(partition)))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) partitionParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	partition, err := strconv.ParseUint(chi.URLParam(r, "partition"), 10, 32)
	if err != nil || partition == 0 {
		writeError(w, http.StatusBadRequest, "invalid partition")
		return 0, false
	}
	return uint32(partition), true
}
