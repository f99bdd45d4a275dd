package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/dtvproxy/internal/httpclient"
	"github.com/jmylchreest/dtvproxy/internal/resolver"
)

func testClient() *http.Client {
	return httpclient.NewWithDefaults()
}

func TestSessionManager_StartStopLifecycle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/x-flv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("FLVPAYLOAD"))
	}))
	defer upstream.Close()

	mgr := NewSessionManager(testClient(), nil)

	session, err := mgr.Start(upstream.URL, resolver.PlatformHuya, "123")
	require.NoError(t, err)
	assert.Len(t, session.ID, 32)
	assert.Equal(t, 1, mgr.Count())

	resp, err := http.Get(session.ProxyURL())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/x-flv", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "FLVPAYLOAD", string(body))

	mgr.Stop(session.ID)
	assert.Equal(t, 0, mgr.Count())

	// Idempotent stop of an unknown/already-removed ID.
	mgr.Stop(session.ID)

	_, err = http.Get(session.ProxyURL())
	assert.Error(t, err)
}

func TestSessionManager_StartRejectsEmptyUpstream(t *testing.T) {
	mgr := NewSessionManager(testClient(), nil)
	_, err := mgr.Start("", resolver.PlatformHuya, "123")
	assert.ErrorIs(t, err, ErrEmptyUpstreamURL)
}

func TestSessionManager_StopAll(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	mgr := NewSessionManager(testClient(), nil)
	_, err := mgr.Start(upstream.URL, resolver.PlatformHuya, "1")
	require.NoError(t, err)
	_, err = mgr.Start(upstream.URL, resolver.PlatformDouyu, "2")
	require.NoError(t, err)

	assert.Equal(t, 2, mgr.Count())
	mgr.StopAll()
	assert.Equal(t, 0, mgr.Count())
}

func TestStaticProxy_StartIsIdempotent(t *testing.T) {
	p := NewStaticProxy(testClient(), nil)
	defer p.Stop()

	url1, err := p.Start()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:34721", url1)

	url2, err := p.Start()
	require.NoError(t, err)
	assert.Equal(t, url1, url2)
}

func TestImageHandler_BuffersAndSetsContentLength(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer upstream.Close()

	handler := handleImage(testClient(), "")
	req := httptest.NewRequest(http.MethodGet, "/image?url="+upstream.URL, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "9", rec.Header().Get("Content-Length"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "jpegbytes", rec.Body.String())
}

func TestImageHandler_MissingURL(t *testing.T) {
	handler := handleImage(testClient(), "")
	req := httptest.NewRequest(http.MethodGet, "/image", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImageHandler_PropagatesUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}))
	defer upstream.Close()

	handler := handleImage(testClient(), "")
	req := httptest.NewRequest(http.MethodGet, "/image?url="+upstream.URL, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLegacyFLVHandler_MissingURL(t *testing.T) {
	handler := handleLegacyFLV(testClient(), "", slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/live.flv", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionManager_PortIsStableForSessionLifetime(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	mgr := NewSessionManager(testClient(), nil)
	session, err := mgr.Start(upstream.URL, resolver.PlatformHuya, "1")
	require.NoError(t, err)

	port := session.Port
	time.Sleep(10 * time.Millisecond)
	got, ok := mgr.Get(session.ID)
	require.True(t, ok)
	assert.Equal(t, port, got.Port)

	mgr.Stop(session.ID)
}
