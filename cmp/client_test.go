package cmp_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/palisade/cmp"
)

func TestClientConfirmRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cmp.ContentType, r.Header.Get("Content-Type"))
		resp, err := cmp.BuildPKIConf()
		require.NoError(t, err)
		w.Header().Set("Content-Type", cmp.ContentType)
		w.Write(resp)
	}))
	defer srv.Close()

	client := cmp.NewClient(srv.URL)
	err := client.ConfirmRoundTrip(t.Context(), []byte("ABCDEF"))
	require.NoError(t, err)
}

func TestClientConfirmRoundTripRoutesSenderKID(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		received, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		resp, err := cmp.BuildPKIConf()
		require.NoError(t, err)
		w.Header().Set("Content-Type", cmp.ContentType)
		w.Write(resp)
	}))
	defer srv.Close()

	client := cmp.NewClient(srv.URL)
	err := client.ConfirmRoundTrip(t.Context(), []byte("txn-42"))
	require.NoError(t, err)

	// The CA routes confirmations on the senderKID, so the transaction ID
	// must land there, not only in the PBM salt.
	info, err := cmp.ParseCertConf(received)
	require.NoError(t, err)
	assert.Equal(t, []byte("txn-42"), info.SenderKID)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		resp, err := cmp.BuildPKIConf()
		require.NoError(t, err)
		w.Write(resp)
	}))
	defer srv.Close()

	client := cmp.NewClient(srv.URL, cmp.WithMaxTries(5))
	err := client.ConfirmRoundTrip(t.Context(), []byte("ABCDEF"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := cmp.NewClient(srv.URL, cmp.WithMaxTries(5))
	err := client.ConfirmRoundTrip(t.Context(), []byte("ABCDEF"))

	var te *cmp.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientSurfacesProtocolErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 OK but a certConf body instead of pkiConf: a protocol error,
		// not a transport error.
		resp, err := cmp.BuildCertConf([]byte("x"))
		require.NoError(t, err)
		w.Write(resp)
	}))
	defer srv.Close()

	client := cmp.NewClient(srv.URL)
	err := client.ConfirmRoundTrip(t.Context(), []byte("ABCDEF"))
	assert.ErrorIs(t, err, cmp.ErrUnexpectedBody)

	var te *cmp.TransportError
	assert.False(t, errors.As(err, &te))
}
