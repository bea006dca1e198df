package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/pagelift/pagelift/internal/config"
)

var (
	// ErrTooLarge means the asset exceeded the configured byte cap, whether
	// declared up front or discovered while reading.
	ErrTooLarge = errors.New("asset exceeds size limit")

	// ErrUnsupportedScheme means the URL cannot be fetched over HTTP.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrAssetMissing means a resolver has no bytes for the URL.
	ErrAssetMissing = errors.New("asset not available")
)

// Resolver turns an asset URL into raw bytes. Implementations degrade by
// returning an error; callers treat any failure as "no image".
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPResolver fetches assets over the network with concurrency and size
// limits. Inline data URLs are decoded locally under the same size cap.
type HTTPResolver struct {
	client    *http.Client
	log       *zap.Logger
	maxSize   int64
	userAgent string
	sem       *semaphore.Weighted

	perHostRPS rate.Limit
	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewHTTPResolver builds a resolver from the assets section of the runtime
// configuration.
func NewHTTPResolver(cfg config.AssetsConfig, log *zap.Logger) (*HTTPResolver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxSizeBytes <= 0 {
		return nil, fmt.Errorf("assets.max_size_bytes must be positive, got %d", cfg.MaxSizeBytes)
	}
	concurrent := cfg.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	// The decompression transport owns encoding negotiation.
	base.DisableCompression = true

	client := &http.Client{
		Transport: NewDecompressionTransport(base),
		Jar:       jar,
		Timeout:   cfg.Timeout,
	}

	return &HTTPResolver{
		client:     client,
		log:        log.Named("assets"),
		maxSize:    cfg.MaxSizeBytes,
		userAgent:  cfg.UserAgent,
		sem:        semaphore.NewWeighted(int64(concurrent)),
		perHostRPS: rate.Limit(cfg.PerHostRPS),
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

// Resolve fetches the asset bytes, enforcing both the declared Content-Length
// and the actual body size against the configured cap.
func (r *HTTPResolver) Resolve(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing asset url: %w", err)
	}

	switch parsed.Scheme {
	case "data":
		return r.decodeDataURL(rawURL)
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	if err := r.waitForHost(ctx, parsed.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building asset request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching asset %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > r.maxSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, r.maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading asset body: %w", err)
	}
	if int64(len(data)) > r.maxSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, r.maxSize)
	}

	r.log.Debug("Asset fetched",
		zap.String("url", rawURL),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	return data, nil
}

// waitForHost paces requests per host when a rate is configured.
func (r *HTTPResolver) waitForHost(ctx context.Context, host string) error {
	if r.perHostRPS <= 0 {
		return nil
	}
	r.limiterMu.Lock()
	limiter, ok := r.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(r.perHostRPS, 1)
		r.limiters[host] = limiter
	}
	r.limiterMu.Unlock()
	return limiter.Wait(ctx)
}

// decodeDataURL extracts the payload of a data: URL. Base64 and URL-escaped
// payloads are both handled.
func (r *HTTPResolver) decodeDataURL(rawURL string) ([]byte, error) {
	comma := strings.IndexByte(rawURL, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data url: no payload separator")
	}
	meta, payload := rawURL[len("data:"):comma], rawURL[comma+1:]

	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding data url payload: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.QueryUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("unescaping data url payload: %w", err)
		}
		data = []byte(unescaped)
	}

	if int64(len(data)) > r.maxSize {
		return nil, fmt.Errorf("%w: inline payload is %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}
