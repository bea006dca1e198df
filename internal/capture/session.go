package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/config"
)

const defaultMaxScrollSteps = 20

// Session drives one capture inside a browser tab: navigate, settle,
// optionally scroll the page through to trigger lazy-loaded content, then
// snapshot the rendered tree and analyze it into IR.
type Session struct {
	cfg      config.CaptureConfig
	viewport schemas.Viewport
	log      *zap.Logger
	analyzer *Analyzer
}

// NewSession returns a capture session. The viewport is recorded as capture
// metadata; the tab itself is expected to match it already.
func NewSession(cfg config.CaptureConfig, viewport config.ViewportConfig, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("capture")
	return &Session{
		cfg:      cfg,
		viewport: schemas.Viewport{Width: viewport.Width, Height: viewport.Height},
		log:      log,
		analyzer: NewAnalyzer(log),
	}
}

// Run captures pageURL. ctx must be a chromedp tab context; the tab is left
// open for the caller to reuse or cancel. The returned asset map holds image
// bodies recorded while the page loaded and is nil when harvesting is off.
func (s *Session) Run(ctx context.Context, pageURL string) (*schemas.CaptureResult, map[string]schemas.HarvestedAsset, error) {
	start := time.Now()
	s.log.Info("Starting page capture.", zap.String("url", pageURL))

	var harvester *Harvester
	if s.cfg.HarvestAssets {
		// The listener must be in place before navigation or early
		// responses are missed.
		harvester = NewHarvester(ctx, s.log)
	}

	navCtx, cancelNav := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancelNav()
	if err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, nil, fmt.Errorf("navigating to %s: %w", pageURL, err)
	}

	if err := s.wait(ctx, s.cfg.SettleDelay); err != nil {
		return nil, nil, err
	}

	if s.cfg.AutoScroll {
		if err := s.scrollThrough(ctx); err != nil {
			// Scrolling is best effort; a page that rejects it still
			// snapshots fine from the top.
			s.log.Warn("Auto-scroll aborted.", zap.Error(err))
		}
	}

	var (
		visual schemas.VisualNode
		title  string
	)
	snapCtx, cancelSnap := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancelSnap()
	if err := chromedp.Run(snapCtx,
		chromedp.Title(&title),
		chromedp.Evaluate(snapshotJS, &visual),
	); err != nil {
		return nil, nil, fmt.Errorf("snapshotting %s: %w", pageURL, err)
	}

	result := &schemas.CaptureResult{
		ID:         uuid.NewString(),
		URL:        pageURL,
		Title:      title,
		Viewport:   s.viewport,
		CapturedAt: time.Now().UTC(),
		Root:       s.analyzer.Analyze(&visual),
	}

	var assets map[string]schemas.HarvestedAsset
	if harvester != nil {
		assets = harvester.Stop(ctx)
	}

	s.log.Info("Page capture complete.",
		zap.String("url", pageURL),
		zap.String("capture_id", result.ID),
		zap.String("title", title),
		zap.Int("ir_nodes", result.Root.CountNodes()),
		zap.Int("harvested_assets", len(assets)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, assets, nil
}

// scrollThrough pages to the bottom in viewport-sized steps and returns to
// the top, giving lazy loaders a chance to fire.
func (s *Session) scrollThrough(ctx context.Context) error {
	steps := s.cfg.MaxScrollSteps
	if steps <= 0 {
		steps = defaultMaxScrollSteps
	}
	for i := 0; i < steps; i++ {
		var advanced bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(scrollStepJS, &advanced)); err != nil {
			return err
		}
		if !advanced {
			break
		}
		if err := s.wait(ctx, s.cfg.ScrollStepDelay); err != nil {
			return err
		}
	}
	return chromedp.Run(ctx, chromedp.Evaluate(scrollTopJS, nil))
}

func (s *Session) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
