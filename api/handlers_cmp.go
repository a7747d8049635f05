package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/palisade/ca"
	"github.com/jmcleod/palisade/cmp"
)

// maxCMPMessageBytes bounds the request body of the CMP endpoint.
const maxCMPMessageBytes = 1 << 20

// CMPExchange handles POST /cmp (RFC 6712 transport). The only inbound
// message type is certConf: the sender key identifier routes the
// confirmation to its enrollment transaction, and the answer is always a
// pkiConf. Monitoring probes use the default "monitoring" alias and are
// acknowledged without touching any transaction.
func (a *API) CMPExchange(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, cmp.ContentType) {
		writeError(w, http.StatusUnsupportedMediaType, "expected "+cmp.ContentType)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCMPMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}

	info, err := cmp.ParseCertConf(body)
	if err != nil {
		mapError(w, err)
		return
	}

	transactionID := string(info.SenderKID)
	if transactionID != "" && transactionID != cmp.DefaultSenderKID {
		a.confirmTransaction(r, transactionID)
	}

	response, err := cmp.BuildPKIConf()
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", cmp.ContentType)
	w.Write(response)
}

// confirmTransaction acknowledges the enrollment the confirmation refers
// to. The transaction IDs are unique across CAs, so each CA is tried in
// turn; an unknown transaction is logged but still answered with pkiConf,
// matching the tolerant behavior expected of the confirmation exchange.
func (a *API) confirmTransaction(r *http.Request, transactionID string) {
	for _, caName := range a.authority.CANames() {
		err := a.authority.ConfirmEnrollment(r.Context(), caName, transactionID)
		if err == nil {
			a.audit.log(AuditCertConfirmed, r,
				slog.String("ca", caName), slog.String("transaction", transactionID))
			return
		}
		if !errors.Is(err, ca.ErrUnknownTransaction) {
			a.audit.logFailure(AuditAuthFailure, r, err.Error())
			return
		}
	}
	a.audit.logFailure(AuditCertConfirmed, r, "unknown transaction "+transactionID)
}
