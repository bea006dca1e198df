package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/config"
)

// ImageProxy fetches an image on behalf of the editor plugin, which cannot
// reach arbitrary origins itself. The size cap is enforced on both the
// declared Content-Length and the bytes actually read.
type ImageProxy struct {
	client    *http.Client
	log       *zap.Logger
	maxSize   int64
	transcode bool
}

// NewImageProxy builds the proxy from the service configuration.
func NewImageProxy(cfg config.ServiceConfig, log *zap.Logger) *ImageProxy {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageProxy{
		client:    &http.Client{Timeout: cfg.ProxyFetchTimeout},
		log:       log.Named("proxy"),
		maxSize:   cfg.ProxyMaxSizeBytes,
		transcode: cfg.Transcode,
	}
}

// ServeHTTP answers GET /image?url= with the upstream bytes or a status
// that tells the plugin why there are none: 400 for an unusable URL, 413
// past the size cap, 504 on timeout and 502 for everything else upstream.
func (p *ImageProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		http.Error(w, "url must be absolute http or https", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		http.Error(w, "unusable url", http.StatusBadRequest)
		return
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			http.Error(w, "upstream fetch timed out", http.StatusGatewayTimeout)
			return
		}
		p.log.Debug("Upstream fetch failed.", zap.String("url", rawURL), zap.Error(err))
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.Error(w, fmt.Sprintf("upstream returned status %d", resp.StatusCode), http.StatusBadGateway)
		return
	}
	if resp.ContentLength > p.maxSize {
		http.Error(w, "image exceeds size limit", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize+1))
	if err != nil {
		if isTimeout(err) {
			http.Error(w, "upstream fetch timed out", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, "reading upstream body failed", http.StatusBadGateway)
		return
	}
	if int64(len(data)) > p.maxSize {
		http.Error(w, "image exceeds size limit", http.StatusRequestEntityTooLarge)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if p.transcode {
		data, contentType = p.normalize(w.Header(), data, contentType)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		p.log.Debug("Writing proxied image failed.", zap.String("url", rawURL), zap.Error(err))
	}
}

// normalize re-encodes formats the editor cannot place and annotates SVG
// responses with their intrinsic size.
func (p *ImageProxy) normalize(header http.Header, data []byte, contentType string) ([]byte, string) {
	switch assets.DetectFormat(data) {
	case assets.FormatWebP, assets.FormatBMP, assets.FormatTIFF:
		converted, err := assets.EnsureCompatible(data)
		if err != nil {
			p.log.Debug("Transcode failed, passing original bytes through.", zap.Error(err))
			return data, contentType
		}
		return converted, "image/png"
	case assets.FormatSVG:
		if width, height, err := assets.SVGDimensions(data); err == nil {
			header.Set("X-Image-Width", strconv.FormatFloat(width, 'f', -1, 64))
			header.Set("X-Image-Height", strconv.FormatFloat(height, 'f', -1, 64))
		}
		if contentType == "" {
			contentType = "image/svg+xml"
		}
		return data, contentType
	default:
		return data, contentType
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
