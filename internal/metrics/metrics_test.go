package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersMonotonic(t *testing.T) {
	before := SnapshotData()
	AddScanned(100)
	AddScanned(-1)
	AddDecoded(60, 40)
	IncNotThisFormat()
	IncInconsistent()
	IncSkipped()
	IncReadErrors()
	IncSinkErrors()
	after := SnapshotData()

	assert.GreaterOrEqual(t, after.FilesScanned, before.FilesScanned+2)
	assert.GreaterOrEqual(t, after.BytesScanned, before.BytesScanned+100)
	assert.GreaterOrEqual(t, after.Decoded, before.Decoded+1)
	assert.GreaterOrEqual(t, after.PayloadBytes, before.PayloadBytes+60)
	assert.GreaterOrEqual(t, after.StoredBytes, before.StoredBytes+40)
	assert.GreaterOrEqual(t, after.NotThisFormat, before.NotThisFormat+1)
	assert.GreaterOrEqual(t, after.InconsistentHeaders, before.InconsistentHeaders+1)
	assert.GreaterOrEqual(t, after.FilesSkipped, before.FilesSkipped+1)
	assert.GreaterOrEqual(t, after.ReadErrors, before.ReadErrors+1)
	assert.GreaterOrEqual(t, after.SinkErrors, before.SinkErrors+1)
	assert.NotZero(t, after.LastDecodeUnix)
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerJSON(t *testing.T) {
	AddDecoded(1, 1)
	rec := get(t, Handler("", nil), "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.GreaterOrEqual(t, st.Decoded, int64(1))
}

func TestHandlerProm(t *testing.T) {
	IncInconsistent()
	rec := get(t, Handler("", nil), "/metrics/prom", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "unquarantine_files_scanned_total")
	assert.Contains(t, text, `unquarantine_decode_results_total{status="inconsistent_header"}`)
	assert.Contains(t, text, `unquarantine_bytes_total{kind="payload"}`)
	assert.Contains(t, text, "go_goroutines")
}

func TestHandlerAuth(t *testing.T) {
	h := Handler("s3cret", nil)
	for _, path := range []string{"/metrics", "/metrics/prom", "/healthz"} {
		assert.Equal(t, http.StatusUnauthorized, get(t, h, path, "").Code, path)
		assert.Equal(t, http.StatusUnauthorized, get(t, h, path, "wrong").Code, path)
		assert.Equal(t, http.StatusOK, get(t, h, path, "s3cret").Code, path)
	}
}

func TestHealthz(t *testing.T) {
	rec := get(t, Handler("", nil), "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", strings.TrimSpace(rec.Body.String()))
}

func TestStartRefusesUnauthenticatedPublicBind(t *testing.T) {
	assert.Nil(t, Start("", "", nil))
	assert.Nil(t, Start("0.0.0.0:0", "", nil))
	assert.Nil(t, Start(":0", "", nil))
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:9100"))
	assert.True(t, isLoopback("[::1]:9100"))
	assert.True(t, isLoopback("localhost:9100"))
	assert.False(t, isLoopback("0.0.0.0:9100"))
	assert.False(t, isLoopback(":9100"))
	assert.False(t, isLoopback("not-an-addr"))
}

func TestRegistryIsShared(t *testing.T) {
	assert.Same(t, Registry(), Registry())
}

func TestHealthzDelegates(t *testing.T) {
	health := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, Handler("", health), "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, Handler("tok", health), "/healthz", "").Code)
}
