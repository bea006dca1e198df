package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
)

const (
	harvestBodyTimeout = 10 * time.Second
	harvestMaxBody     = 10 * 1024 * 1024
)

type pendingResponse struct {
	url  string
	mime string
}

// Harvester records image response bodies while a page loads so builds can
// reuse bytes the browser already downloaded. Response metadata arrives on
// EventResponseReceived, but the body only becomes retrievable once loading
// finished, so requests are tracked in between and fetched afterwards.
type Harvester struct {
	log *zap.Logger

	mu      sync.Mutex
	stopped bool
	pending map[network.RequestID]pendingResponse
	assets  map[string]schemas.HarvestedAsset

	wg sync.WaitGroup

	// fetch receives requests whose body is ready. It owes one wg.Done.
	fetch func(network.RequestID, pendingResponse)
}

// NewHarvester attaches a network listener to the tab behind ctx and starts
// recording. Attach before navigating or early responses are missed.
func NewHarvester(ctx context.Context, log *zap.Logger) *Harvester {
	h := newHarvester(log)
	h.fetch = func(reqID network.RequestID, p pendingResponse) {
		go h.fetchBody(ctx, reqID, p)
	}
	chromedp.ListenTarget(ctx, h.route)
	return h
}

func newHarvester(log *zap.Logger) *Harvester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Harvester{
		log:     log.Named("harvester"),
		pending: make(map[network.RequestID]pendingResponse),
		assets:  make(map[string]schemas.HarvestedAsset),
	}
}

func (h *Harvester) route(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		mime := strings.ToLower(e.Response.MimeType)
		if !strings.HasPrefix(mime, "image/") || e.Response.URL == "" {
			return
		}
		h.mu.Lock()
		if !h.stopped {
			h.pending[e.RequestID] = pendingResponse{url: e.Response.URL, mime: mime}
		}
		h.mu.Unlock()

	case *network.EventLoadingFinished:
		h.mu.Lock()
		p, ok := h.pending[e.RequestID]
		delete(h.pending, e.RequestID)
		if ok && !h.stopped {
			h.wg.Add(1)
		} else {
			ok = false
		}
		h.mu.Unlock()
		if ok {
			h.fetch(e.RequestID, p)
		}

	case *network.EventLoadingFailed:
		h.mu.Lock()
		delete(h.pending, e.RequestID)
		h.mu.Unlock()
	}
}

func (h *Harvester) fetchBody(ctx context.Context, reqID network.RequestID, p pendingResponse) {
	defer h.wg.Done()

	fetchCtx, cancel := context.WithTimeout(ctx, harvestBodyTimeout)
	defer cancel()

	var body []byte
	err := chromedp.Run(fetchCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		body, err = network.GetResponseBody(reqID).Do(c)
		return err
	}))
	if err != nil {
		h.log.Debug("Response body unavailable.", zap.String("url", p.url), zap.Error(err))
		return
	}
	if len(body) == 0 || int64(len(body)) > harvestMaxBody {
		h.log.Debug("Harvested body out of bounds, dropped.",
			zap.String("url", p.url), zap.Int("size", len(body)))
		return
	}

	h.mu.Lock()
	if _, exists := h.assets[p.url]; !exists {
		h.assets[p.url] = schemas.HarvestedAsset{URL: p.url, ContentType: p.mime, Data: body}
	}
	h.mu.Unlock()
}

// Stop waits for in-flight body fetches, bounded by ctx, and returns the
// recorded assets keyed by URL. The harvester records nothing afterwards.
func (h *Harvester) Stop(ctx context.Context) map[string]schemas.HarvestedAsset {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.log.Warn("Abandoning in-flight response bodies.", zap.Error(ctx.Err()))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]schemas.HarvestedAsset, len(h.assets))
	for url, asset := range h.assets {
		out[url] = asset
	}
	return out
}
