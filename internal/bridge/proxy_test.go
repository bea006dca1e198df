package bridge_test

import (
	"bytes"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"

	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/bridge"
	"github.com/pagelift/pagelift/internal/config"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func newProxy(t *testing.T, maxSize int64, timeout time.Duration, transcode bool) *bridge.ImageProxy {
	t.Helper()
	return bridge.NewImageProxy(config.ServiceConfig{
		ProxyFetchTimeout: timeout,
		ProxyMaxSizeBytes: maxSize,
		Transcode:         transcode,
	}, zap.NewNop())
}

func proxyGet(t *testing.T, p *bridge.ImageProxy, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func proxyTarget(upstream string) string {
	return "/image?url=" + url.QueryEscape(upstream)
}

func TestProxyRejectsBadRequests(t *testing.T) {
	t.Parallel()
	p := newProxy(t, 1024, time.Second, false)

	tests := []struct {
		name   string
		target string
	}{
		{name: "missing url", target: "/image"},
		{name: "relative url", target: proxyTarget("/just/a/path.png")},
		{name: "unsupported scheme", target: proxyTarget("ftp://files.test/logo.png")},
	}
	for _, tc := range tests {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := proxyGet(t, p, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestProxyMapsUpstreamStatusToBadGateway(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	p := newProxy(t, 1024, time.Second, false)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/missing.png"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxyMapsConnectionErrorsToBadGateway(t *testing.T) {
	t.Parallel()
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	p := newProxy(t, 1024, time.Second, false)
	rec := proxyGet(t, p, proxyTarget(deadURL+"/logo.png"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxyMapsTimeoutsToGatewayTimeout(t *testing.T) {
	t.Parallel()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer slow.Close()

	p := newProxy(t, 1024, 30*time.Millisecond, false)
	rec := proxyGet(t, p, proxyTarget(slow.URL+"/slow.png"))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestProxyEnforcesDeclaredContentLength(t *testing.T) {
	t.Parallel()
	// Small writes get an automatic Content-Length, so the declared-size
	// check fires before any body is read.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(bytes.Repeat([]byte{0xAB}, 256))
	}))
	defer upstream.Close()

	p := newProxy(t, 64, time.Second, false)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/big.png"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProxyEnforcesActualBodySize(t *testing.T) {
	t.Parallel()
	// Flushing first forces chunked transfer with no declared length; only
	// the read-side cap can catch the oversize body.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			return
		}
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		w.Write(bytes.Repeat([]byte{0xCD}, 256))
	}))
	defer upstream.Close()

	p := newProxy(t, 64, time.Second, false)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/streamed.png"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProxyServesImageBytes(t *testing.T) {
	t.Parallel()
	body := append(append([]byte{}, pngHeader...), 0x00, 0x01, 0x02)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer upstream.Close()

	// Formats the editor already places pass through even with transcoding
	// enabled.
	p := newProxy(t, 1024, time.Second, true)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/logo.png"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, body, rec.Body.Bytes())
}

func TestProxySniffsMissingContentType(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Suppress the automatic sniffing so the response carries no type.
		w.Header()["Content-Type"] = nil
		w.Write(append(append([]byte{}, pngHeader...), 0x00))
	}))
	defer upstream.Close()

	p := newProxy(t, 1024, time.Second, false)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/untyped"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestProxyTranscodesBMP(t *testing.T) {
	t.Parallel()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/bmp")
		w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	p := newProxy(t, 1<<20, time.Second, true)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/shot.bmp"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, assets.FormatPNG, assets.DetectFormat(rec.Body.Bytes()))
}

func TestProxyTranscodeDisabledPassesThrough(t *testing.T) {
	t.Parallel()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/bmp")
		w.Write(buf.Bytes())
	}))
	defer upstream.Close()

	p := newProxy(t, 1<<20, time.Second, false)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/shot.bmp"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/bmp", rec.Header().Get("Content-Type"))
	assert.Equal(t, buf.Bytes(), rec.Body.Bytes())
}

func TestProxyAnnotatesSVGDimensions(t *testing.T) {
	t.Parallel()
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="120" height="60"></svg>`)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write(svg)
	}))
	defer upstream.Close()

	p := newProxy(t, 1024, time.Second, true)
	rec := proxyGet(t, p, proxyTarget(upstream.URL+"/icon.svg"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "120", rec.Header().Get("X-Image-Width"))
	assert.Equal(t, "60", rec.Header().Get("X-Image-Height"))
	assert.Equal(t, svg, rec.Body.Bytes())
}
