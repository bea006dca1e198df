// Package browser owns the headless browser process. A Manager launches one
// browser per process on first use and hands out tab contexts; captures run
// inside those tabs and never touch the process lifecycle themselves.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/internal/config"
)

const launchTimeout = 60 * time.Second

// ErrClosed is returned by NewTab after Close.
var ErrClosed = errors.New("browser manager is closed")

// Manager handles the browser process lifecycle and tab creation.
// Initialization is deferred until the first tab is requested.
type Manager struct {
	cfg config.BrowserConfig
	log *zap.Logger

	initOnce sync.Once
	initErr  error

	closeOnce sync.Once
	closed    bool

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewManager creates a browser manager. The browser itself launches lazily.
func NewManager(cfg config.BrowserConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: log.Named("browser")}
}

// initialize launches the browser process once. The process lifetime is owned
// by the manager, not by whichever caller happened to trigger the launch.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.log.Info("Launching browser.",
			zap.Bool("headless", m.cfg.Headless),
			zap.Int64("viewport_width", m.cfg.Viewport.Width),
			zap.Int64("viewport_height", m.cfg.Viewport.Height),
		)

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(m.cfg)...)

		ctxOpts := []chromedp.ContextOption{
			chromedp.WithLogf(m.log.Sugar().Debugf),
			chromedp.WithErrorf(m.log.Sugar().Warnf),
		}
		if m.cfg.Debug {
			ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.log.Sugar().Debugf))
		}
		browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

		launchCtx, cancelLaunch := context.WithTimeout(browserCtx, launchTimeout)
		defer cancelLaunch()
		if err := chromedp.Run(launchCtx); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("launching browser: %w", err)
			return
		}

		m.allocCancel = allocCancel
		m.browserCtx = browserCtx
		m.browserCancel = browserCancel
		m.log.Info("Browser launched.")
	})
	return m.initErr
}

// NewTab returns a fresh tab context sharing the managed browser. The caller
// must invoke the cancel function once done with the tab.
func (m *Manager) NewTab() (context.Context, context.CancelFunc, error) {
	if m.isClosed() {
		return nil, nil, ErrClosed
	}
	if err := m.initialize(); err != nil {
		return nil, nil, err
	}
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	return tabCtx, cancel, nil
}

func (m *Manager) isClosed() bool {
	// closed only flips inside closeOnce; a racy read here is acceptable
	// because NewTab against a closing manager fails anyway once the
	// browser context dies.
	return m.closed
}

// Close shuts the browser down gracefully. Safe to call multiple times and
// before the browser ever launched.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed = true
		if m.browserCtx == nil {
			return
		}
		m.log.Info("Shutting down browser.")
		if cerr := chromedp.Cancel(m.browserCtx); cerr != nil {
			err = fmt.Errorf("closing browser: %w", cerr)
		}
		m.browserCancel()
		m.allocCancel()
	})
	return err
}

// AllocatorOptions maps the browser configuration onto exec allocator flags.
// The defaults include the usual container-stability flags; user-supplied
// args are appended last so they win.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(int(cfg.Viewport.Width), int(cfg.Viewport.Height)),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// splitArg turns a raw command-line argument ("--lang=en", "--disable-foo")
// into a flag name and value. Bare flags map to true.
func splitArg(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	if name, value, found := strings.Cut(arg, "="); found {
		return name, value
	}
	return arg, true
}
