package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hwman/internal/ca"
	"github.com/loykin/hwman/internal/measure"
	"github.com/loykin/hwman/internal/mtls"
	"github.com/loykin/hwman/internal/service"
)

func newTestRouter(t *testing.T, opts ...Option) (*Router, *service.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := service.NewSupervisor()
	require.NoError(t, sup.Register(service.Spec{Name: "camera", Command: "sleep 30"}))
	t.Cleanup(func() { sup.Shutdown(context.Background()) })
	runner := &measure.Dummy{DataDir: t.TempDir()}
	return NewRouter(sup, runner, "", opts...), sup
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestPing(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var got messageResp
	code := doJSON(t, ts, http.MethodGet, "/ping", nil, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pong", got.Message)
}

func TestServicesList(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var sts []service.Status
	code := doJSON(t, ts, http.MethodGet, "/services", nil, &sts)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, sts, 1)
	assert.Equal(t, "camera", sts[0].Name)
	assert.False(t, sts[0].Running)
}

func TestServiceLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var res serviceResp
	code := doJSON(t, ts, http.MethodPost, "/services/camera/start", nil, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)
	assert.True(t, res.IsRunning)

	// second start is a soft failure, not a request error
	code = doJSON(t, ts, http.MethodPost, "/services/camera/start", nil, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, res.Success)
	assert.True(t, res.IsRunning)

	code = doJSON(t, ts, http.MethodGet, "/services/camera/status", nil, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)
	assert.True(t, res.IsRunning)

	code = doJSON(t, ts, http.MethodPost, "/services/camera/stop", nil, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)
	assert.False(t, res.IsRunning)

	code = doJSON(t, ts, http.MethodPost, "/services/camera/stop", nil, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, res.Success)
}

func TestUnknownServiceIs404(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var res serviceResp
	code := doJSON(t, ts, http.MethodGet, "/services/ghost/status", nil, &res)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, res.Success)
}

func TestInvalidServiceNameRejected(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var res errorResp
	code := doJSON(t, ts, http.MethodPost, "/services/bad$name/start", nil, &res)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, res.Error, "invalid service name")
}

func TestHealthReflectsServices(t *testing.T) {
	r, sup := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var h service.Health
	code := doJSON(t, ts, http.MethodGet, "/health", nil, &h)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, h.Healthy)

	require.NoError(t, sup.Start(context.Background(), "camera"))
	code = doJSON(t, ts, http.MethodGet, "/health", nil, &h)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.Healthy)
	require.Len(t, h.Services, 1)
}

func TestStandardTest(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var res measure.Result
	code := doJSON(t, ts, http.MethodPost, "/tests/standard",
		standardTestRequest{TestType: "resonator_spec", PID: "abc123"}, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Status)
	assert.Equal(t, "abc123", res.PID)
	assert.DirExists(t, res.DataPath)
	assert.FileExists(t, filepath.Join(res.DataPath, "data.csv"))
	assert.Greater(t, res.SNR, 0.0)
	assert.Contains(t, res.FitParameters, "f0")
}

func TestStandardTestUnknownType(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var res errorResp
	code := doJSON(t, ts, http.MethodPost, "/tests/standard",
		standardTestRequest{TestType: "warp_drive"}, &res)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, res.Error, "unknown test type")
}

func TestStandardTestBadJSON(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/tests/standard", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitJobGeneratesPID(t *testing.T) {
	r, _ := newTestRouter(t)
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var res measure.Result
	code := doJSON(t, ts, http.MethodPost, "/jobs",
		jobRequest{Type: "resonator_spec"}, &res)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Status)
	assert.NotEmpty(t, res.PID)
}

func TestBasePath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sup := service.NewSupervisor()
	runner := &measure.Dummy{DataDir: t.TempDir()}
	r := NewRouter(sup, runner, "api")
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	var got messageResp
	code := doJSON(t, ts, http.MethodGet, "/api/ping", nil, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pong", got.Message)
}

func TestMetricsMounted(t *testing.T) {
	r, _ := newTestRouter(t, WithMetrics("/metrics"))
	ts := httptest.NewServer(r.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(""))
	assert.Equal(t, "", sanitizeBase("/"))
	assert.Equal(t, "/api", sanitizeBase("api"))
	assert.Equal(t, "/api", sanitizeBase("/api/"))
}

func TestIsSafeName(t *testing.T) {
	assert.True(t, isSafeName("camera"))
	assert.True(t, isSafeName("dsp_board-2.v1"))
	assert.False(t, isSafeName(""))
	assert.False(t, isSafeName("a..b"))
	assert.False(t, isSafeName("a/b"))
	assert.False(t, isSafeName("a b"))
}

// TestMTLSRoundTrip serves the router behind the real mutual-TLS config and
// checks that a CA-signed client gets through while an anonymous one fails
// the handshake.
func TestMTLSRoundTrip(t *testing.T) {
	mgr, err := ca.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mgr.EnsureRoot())
	require.NoError(t, mgr.EnsureServerCert("localhost"))
	certFile, keyFile, err := mgr.IssueClientCert("alice")
	require.NoError(t, err)

	r, _ := newTestRouter(t)
	srvCfg, err := mtls.ServerTLSConfig(mgr.ServerCertFile(), mgr.ServerKeyFile(), mgr.RootCertFile())
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(r.Handler())
	ts.TLS = srvCfg
	ts.StartTLS()
	defer ts.Close()

	cliCfg, err := mtls.ClientTLSConfig(mgr.RootCertFile(), certFile, keyFile, "localhost")
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cliCfg}}

	resp, err := client.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// no client certificate: handshake must fail, not reach a handler
	caPool, err := mtls.ClientTLSConfig(mgr.RootCertFile(), certFile, keyFile, "localhost")
	require.NoError(t, err)
	anon := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{
		RootCAs:    caPool.RootCAs,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	}}}
	_, err = anon.Get(ts.URL + "/ping")
	assert.Error(t, err)
}
