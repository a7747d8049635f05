package api_test

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/palisade/api"
	"github.com/jmcleod/palisade/authz"
	"github.com/jmcleod/palisade/ca"
	"github.com/jmcleod/palisade/cmp"
	"github.com/jmcleod/palisade/crl"
	"github.com/jmcleod/palisade/storage/memory"
)

type testEnv struct {
	srv       *httptest.Server
	api       *api.API
	authority *ca.Authority
	engine    *authz.Engine
	rootToken string
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.NewRepository()

	engine := authz.NewEngine(repo, authz.WithSuperAdmins("root"))
	require.NoError(t, engine.Load(t.Context()))

	crlManager := crl.NewManager(repo, crl.WithAuthorizer(engine))
	require.NoError(t, crlManager.Load(t.Context()))

	authority := ca.NewAuthority(repo, crlManager,
		ca.WithAuthorizer(engine),
		ca.WithProfiles(ca.Profile{
			Name:               "tls-server",
			KeyUsages:          x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			ExtKeyUsages:       []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
			DefaultValidity:    30 * 24 * time.Hour,
			MaxValidity:        90 * 24 * time.Hour,
			AllowedDNSSuffixes: []string{"example.com"},
		}))
	require.NoError(t, authority.Load(t.Context()))

	a := api.New(repo, engine, authority, crlManager)
	r := chi.NewRouter()
	r.Use(api.SecurityHeaders)
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, err := a.IssueToken(t.Context(), "root")
	require.NoError(t, err)

	return &testEnv{srv: srv, api: a, authority: authority, engine: engine, rootToken: token}
}

func doJSON(t *testing.T, env *testEnv, token, method, path string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, env.srv.URL+path, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createCA(t *testing.T, env *testEnv, name string) {
	t.Helper()
	resp := doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas", api.CreateCARequest{
		Name:       name,
		CommonName: "Example Issuing CA",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func configureCRL(t *testing.T, env *testEnv, name string, partitions uint32) {
	t.Helper()
	resp := doJSON(t, env, env.rootToken, http.MethodPut, "/api/v1/cas/"+name+"/crl/config", api.CRLConfigRequest{
		PartitionCount: partitions,
		PeriodSeconds:  300,
		BaseURL:        "http://crl.example.com/search.cgi?iHash=abc",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func enrollCert(t *testing.T, env *testEnv, caName, cn string) ca.IssuedCertificate {
	t.Helper()
	resp := doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/"+caName+"/enroll", api.EnrollRequest{
		Profile:    "tls-server",
		CommonName: cn,
		DNSNames:   []string{cn},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var issued ca.IssuedCertificate
	decodeInto(t, resp, &issued)
	return issued
}

func TestAuthRequired(t *testing.T) {
	env := setupServer(t)

	resp := doJSON(t, env, "", http.MethodGet, "/api/v1/cas", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, env, "bogus.token", http.MethodGet, "/api/v1/cas", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Security headers present even on rejected requests.
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestCALifecycle(t *testing.T) {
	env := setupServer(t)
	createCA(t, env, "issuing-ca")
	configureCRL(t, env, "issuing-ca", 3)

	resp := doJSON(t, env, env.rootToken, http.MethodGet, "/api/v1/cas", nil)
	var list api.ListCAsResponse
	decodeInto(t, resp, &list)
	assert.Equal(t, []string{"issuing-ca"}, list.CAs)

	resp = doJSON(t, env, env.rootToken, http.MethodGet, "/api/v1/cas/issuing-ca", nil)
	var info ca.Info
	decodeInto(t, resp, &info)
	assert.Contains(t, info.Subject, "Example Issuing CA")

	// Duplicate name conflicts.
	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas", api.CreateCARequest{
		Name:       "issuing-ca",
		CommonName: "Example Issuing CA",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodGet, "/api/v1/cas/nope", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEnrollRevokeFlush(t *testing.T) {
	env := setupServer(t)
	createCA(t, env, "issuing-ca")
	configureCRL(t, env, "issuing-ca", 3)

	issued := enrollCert(t, env, "issuing-ca", "web.example.com")
	assert.Equal(t, "2", issued.SerialHex)
	assert.NotEmpty(t, issued.TransactionID)
	assert.Contains(t, issued.CertificatePEM, "BEGIN CERTIFICATE")
	assert.Contains(t, issued.PrivateKeyPEM, "BEGIN EC PRIVATE KEY")

	// Profile violation surfaces as 400.
	resp := doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/enroll", api.EnrollRequest{
		Profile:    "tls-server",
		CommonName: "evil.org",
		DNSNames:   []string{"evil.org"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/revoke", api.RevokeRequest{
		Serial: issued.SerialHex,
		Reason: "keyCompromise",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Same reason is idempotent; a different one conflicts.
	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/revoke", api.RevokeRequest{
		Serial: issued.SerialHex,
		Reason: "keyCompromise",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/revoke", api.RevokeRequest{
		Serial: issued.SerialHex,
		Reason: "superseded",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	record := fetchCertificate(t, env, "issuing-ca", issued.SerialHex)
	require.Equal(t, ca.StatusRevoked, record.Status)

	resp = doJSON(t, env, env.rootToken, http.MethodPost,
		"/api/v1/cas/issuing-ca/crl/"+partitionPath(record.Partition)+"/flush", nil)
	var flush api.FlushResponse
	decodeInto(t, resp, &flush)
	assert.Equal(t, uint64(1), flush.Number)
	assert.Equal(t, 1, flush.Revoked)

	// The signed list is served anonymously.
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet,
		env.srv.URL+"/api/v1/cas/issuing-ca/crl?partition="+partitionPath(record.Partition), nil)
	require.NoError(t, err)
	crlResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer crlResp.Body.Close()
	require.Equal(t, http.StatusOK, crlResp.StatusCode)
	assert.Equal(t, "application/pkix-crl", crlResp.Header.Get("Content-Type"))
	data, err := io.ReadAll(crlResp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// A second flush supersedes the list but keeps it fetchable by number.
	resp = doJSON(t, env, env.rootToken, http.MethodPost,
		"/api/v1/cas/issuing-ca/crl/"+partitionPath(record.Partition)+"/flush", nil)
	decodeInto(t, resp, &flush)
	require.Equal(t, uint64(2), flush.Number)

	req, err = http.NewRequestWithContext(t.Context(), http.MethodGet,
		env.srv.URL+"/api/v1/cas/issuing-ca/crl?partition="+partitionPath(record.Partition)+"&number=1", nil)
	require.NoError(t, err)
	histResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer histResp.Body.Close()
	require.Equal(t, http.StatusOK, histResp.StatusCode)
	hist, err := io.ReadAll(histResp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, hist)
}

func TestSuspendResumePartition(t *testing.T) {
	env := setupServer(t)
	createCA(t, env, "issuing-ca")
	configureCRL(t, env, "issuing-ca", 2)

	resp := doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/crl/1/suspend", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A suspended partition refuses flushes.
	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/crl/1/flush", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/crl/1/resume", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/crl/1/flush", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Partition 0 is reserved and never addressable.
	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/cas/issuing-ca/crl/0/flush", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCMPConfirmExchange(t *testing.T) {
	env := setupServer(t)
	createCA(t, env, "issuing-ca")
	configureCRL(t, env, "issuing-ca", 3)

	issued := enrollCert(t, env, "issuing-ca", "app.example.com")
	record := fetchCertificate(t, env, "issuing-ca", issued.SerialHex)
	require.False(t, record.Confirmed)

	client := cmp.NewClient(env.srv.URL + "/api/v1/cmp")
	require.NoError(t, client.ConfirmRoundTrip(t.Context(), []byte(issued.TransactionID)))

	record = fetchCertificate(t, env, "issuing-ca", issued.SerialHex)
	assert.True(t, record.Confirmed)
}

func TestCMPMonitoringProbe(t *testing.T) {
	env := setupServer(t)

	// The default alias is a health probe and does not touch transactions.
	client := cmp.NewClient(env.srv.URL + "/api/v1/cmp")
	require.NoError(t, client.ConfirmRoundTrip(t.Context(), []byte(cmp.DefaultSenderKID)))
}

func TestCMPRejectsWrongContentType(t *testing.T) {
	env := setupServer(t)

	message, err := cmp.BuildCertConf([]byte("probe-key"))
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost,
		env.srv.URL+"/api/v1/cmp", bytes.NewReader(message))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestCMPUnknownTransactionStillAcknowledged(t *testing.T) {
	env := setupServer(t)
	createCA(t, env, "issuing-ca")

	message, err := cmp.BuildCertConf([]byte("key"),
		cmp.WithSenderKID([]byte("no-such-transaction")))
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost,
		env.srv.URL+"/api/v1/cmp", bytes.NewReader(message))
	require.NoError(t, err)
	req.Header.Set("Content-Type", cmp.ContentType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NoError(t, cmp.ParsePKIConf(body))
}

func TestAdminGroupEndpoints(t *testing.T) {
	env := setupServer(t)

	resp := doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/admin/groups", api.CreateGroupRequest{Name: "operators"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/admin/groups/operators/members", api.AddMemberRequest{Member: "alice"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodPut, "/api/v1/admin/groups/operators/rules", api.ChangeRulesRequest{
		Rules: []authz.AccessRule{{Resource: "/ca/issuing-ca", State: authz.Allow, Recursive: true}},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodGet, "/api/v1/admin/groups/operators/rules", nil)
	var rules api.ListRulesResponse
	decodeInto(t, resp, &rules)
	require.Len(t, rules.Rules, 1)
	assert.Equal(t, "/ca/issuing-ca", rules.Rules[0].Resource)

	resp = doJSON(t, env, env.rootToken, http.MethodGet, "/api/v1/admin/groups", nil)
	var groups api.ListGroupsResponse
	decodeInto(t, resp, &groups)
	assert.Contains(t, groups.Groups, "operators")

	resp = doJSON(t, env, env.rootToken, http.MethodDelete, "/api/v1/admin/groups/operators/members/alice", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, env, env.rootToken, http.MethodDelete, "/api/v1/admin/groups/operators", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTokenMintingGated(t *testing.T) {
	env := setupServer(t)

	// Mint a token for an identity with no admin rights at all.
	resp := doJSON(t, env, env.rootToken, http.MethodPost, "/api/v1/admin/tokens", api.CreateTokenRequest{Identity: "mallory"})
	var minted api.CreateTokenResponse
	decodeInto(t, resp, &minted)
	require.NotEmpty(t, minted.Token)

	// mallory cannot mint further tokens or create groups.
	resp = doJSON(t, env, minted.Token, http.MethodPost, "/api/v1/admin/tokens", api.CreateTokenRequest{Identity: "eve"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, env, minted.Token, http.MethodPost, "/api/v1/admin/groups", api.CreateGroupRequest{Name: "sneaky"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// But the token itself authenticates.
	resp = doJSON(t, env, minted.Token, http.MethodGet, "/api/v1/cas", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpenAPISpecServed(t *testing.T) {
	env := setupServer(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.srv.URL+"/api/v1/openapi.yaml", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "openapi: 3.0")
}

func fetchCertificate(t *testing.T, env *testEnv, caName, serial string) ca.CertificateRecord {
	t.Helper()
	resp := doJSON(t, env, env.rootToken, http.MethodGet, "/api/v1/cas/"+caName+"/certificates/"+serial, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var record ca.CertificateRecord
	decodeInto(t, resp, &record)
	return record
}

func partitionPath(p uint32) string {
	return strconv.FormatUint(uint64(p), 10)
}
