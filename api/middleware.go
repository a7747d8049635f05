package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmcleod/palisade/internal/util"
	"github.com/jmcleod/palisade/storage"
)

type contextKey int

const identityKey contextKey = iota

// apiToken is the persisted form of an API token: the secret itself is
// never stored, only an argon2id digest of it.
type apiToken struct {
	Identity string               `json:"identity"`
	Salt     string               `json:"salt"`
	Params   util.Argon2idParams  `json:"params"`
	Key      string               `json:"key"`
}

// IssueToken mints an API token bound to an administrator identity and
// persists its digest. The returned token is shown once and cannot be
// recovered.
func (a *API) IssueToken(ctx context.Context, identity string) (string, error) {
	id, err := util.RandomChars(8)
	if err != nil {
		return "", err
	}
	secret, err := util.RandomChars(32)
	if err != nil {
		return "", err
	}
	salt, err := util.RandomBytes(16)
	if err != nil {
		return "", err
	}
	params := util.DefaultArgon2idParams()
	key, err := util.DeriveArgon2idKey(secret, salt, params)
	if err != nil {
		return "", err
	}
	record := apiToken{
		Identity: identity,
		Salt:     util.HexEncode(salt),
		Params:   params,
		Key:      util.HexEncode(key),
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return "", err
	}
	if err := a.repo.Put(ctx, storage.ScopeAdmin, storage.RecordTypeToken, id, data); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return id + "." + secret, nil
}

// AuthMiddleware authenticates a bearer token of the form <id>.<secret> and
// stores the bound identity on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.authenticate(r)
		if err != nil {
			a.audit.logFailure(AuditAuthFailure, r, err.Error())
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("missing bearer token")
	}
	id, secret, ok := strings.Cut(token, ".")
	if !ok {
		return "", errors.New("malformed token")
	}
	data, err := a.repo.Get(r.Context(), storage.ScopeAdmin, storage.RecordTypeToken, id)
	if err != nil {
		return "", errors.New("unknown token")
	}
	var record apiToken
	if err := json.Unmarshal(data, &record); err != nil {
		return "", errors.New("corrupt token record")
	}
	salt, err := util.HexDecode(record.Salt)
	if err != nil {
		return "", errors.New("corrupt token record")
	}
	key, err := util.HexDecode(record.Key)
	if err != nil {
		return "", errors.New("corrupt token record")
	}
	match, err := util.CompareArgon2idKey(secret, salt, record.Params, key)
	if err != nil || !match {
		return "", errors.New("invalid token")
	}
	return record.Identity, nil
}

func identityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}
