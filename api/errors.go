package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/palisade/authz"
	"github.com/jmcleod/palisade/ca"
	"github.com/jmcleod/palisade/cmp"
	"github.com/jmcleod/palisade/crl"
	"github.com/jmcleod/palisade/der"
	"github.com/jmcleod/palisade/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrNotAuthorized),
		errors.Is(err, ca.ErrNotAuthorized),
		errors.Is(err, crl.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ca.ErrUnknownCA),
		errors.Is(err, ca.ErrCertNotFound),
		errors.Is(err, ca.ErrNoCRL),
		errors.Is(err, ca.ErrUnknownTransaction),
		errors.Is(err, authz.ErrUnknownGroup),
		errors.Is(err, crl.ErrNotConfigured),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrScopeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ca.ErrCAExists),
		errors.Is(err, authz.ErrGroupExists),
		errors.Is(err, ca.ErrReasonConflict),
		errors.Is(err, crl.ErrPartitionSuspended),
		errors.Is(err, crl.ErrAllPartitionsSuspended):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ca.ErrProfileViolation),
		errors.Is(err, ca.ErrUnknownProfile),
		errors.Is(err, crl.ErrInvalidConfig),
		errors.Is(err, crl.ErrUnknownPartition),
		errors.Is(err, cmp.ErrUnexpectedBody),
		errors.Is(err, cmp.ErrMalformedPKIConf),
		errors.Is(err, der.ErrCodec):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
