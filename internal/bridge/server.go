// Package bridge exposes the reconstruction pipeline over HTTP: a health
// probe, an image proxy for origins the editor plugin cannot reach, a
// one-shot convert endpoint, and the WebSocket session the plugin drives
// build by build.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/browser"
	"github.com/pagelift/pagelift/internal/canvas"
	"github.com/pagelift/pagelift/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// shutdownGrace bounds how long a stopping server waits for in-flight
// requests and live build sessions.
const shutdownGrace = 15 * time.Second

// Options collects the collaborators a Server needs. Config is required,
// everything else has a working default.
type Options struct {
	Config config.Interface
	Log    *zap.Logger

	// Browser enables the server-side capture path of /api/v1/convert.
	// Without it the endpoint only accepts pre-captured trees.
	Browser *browser.Manager

	// Resolver overrides the server-side asset fetcher, mainly for tests.
	Resolver assets.Resolver

	// Fonts overrides the font catalog shared by all builds.
	Fonts *canvas.FontRegistry
}

// Server hosts the bridge service endpoints and tracks live build sessions
// so shutdown can close them.
type Server struct {
	cfg          config.ServiceConfig
	captureCfg   config.CaptureConfig
	builderCfg   config.BuilderConfig
	viewport     config.ViewportConfig
	assetTimeout time.Duration
	log          *zap.Logger

	browser  *browser.Manager
	resolver assets.Resolver
	fonts    *canvas.FontRegistry
	proxy    *ImageProxy

	httpServer *http.Server

	sessMu   sync.Mutex
	draining bool
	sessions map[*session]struct{}
	sessWG   sync.WaitGroup
}

// NewServer assembles the service from its options.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bridge: config is required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("bridge")

	resolver := opts.Resolver
	if resolver == nil {
		httpResolver, err := assets.NewHTTPResolver(opts.Config.Assets(), log)
		if err != nil {
			return nil, fmt.Errorf("building asset resolver: %w", err)
		}
		resolver = assets.NewCachedResolver(httpResolver)
	}

	fonts := opts.Fonts
	if fonts == nil {
		fonts = canvas.NewFontRegistry(nil, canvas.FontName{Family: opts.Config.Builder().FontFallbackFamily})
	}

	return &Server{
		cfg:          opts.Config.Service(),
		captureCfg:   opts.Config.Capture(),
		builderCfg:   opts.Config.Builder(),
		viewport:     opts.Config.Browser().Viewport,
		assetTimeout: opts.Config.Assets().Timeout,
		log:          log,
		browser:      opts.Browser,
		resolver:     resolver,
		fonts:        fonts,
		proxy:        NewImageProxy(opts.Config.Service(), log),
		sessions:     make(map[*session]struct{}),
	}, nil
}

// Handler assembles the chi router. It is exported so tests can drive the
// service through httptest without binding a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// The WebSocket route stays outside the logger and timeout wrappers:
	// middleware.Logger replaces the ResponseWriter, which breaks the
	// upgrade hijack, and a session outlives any request deadline.
	r.Get("/ws/v1/build", s.handleBuildSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Get("/healthz", s.handleHealth)
		r.Get("/image", s.proxy.ServeHTTP)
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/convert", s.handleConvert)
		})
	})
	return r
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Handler(),
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("Bridge service listening.", zap.String("address", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		err := s.httpServer.Shutdown(shutdownCtx)
		// Hijacked WebSocket connections are invisible to Shutdown and are
		// closed explicitly.
		s.closeSessions(shutdownCtx)
		if err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.log.Info("Bridge service stopped.")
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// trackSession registers a live session. It reports false once shutdown has
// begun, in which case the caller must drop the connection itself.
func (s *Server) trackSession(sess *session) bool {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.draining {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.sessWG.Add(1)
	return true
}

func (s *Server) untrackSession(sess *session) {
	s.sessMu.Lock()
	delete(s.sessions, sess)
	s.sessMu.Unlock()
	s.sessWG.Done()
}

// closeSessions force-closes live connections and waits for their pumps to
// drain, bounded by ctx.
func (s *Server) closeSessions(ctx context.Context) {
	s.sessMu.Lock()
	s.draining = true
	for sess := range s.sessions {
		sess.conn.Close()
	}
	s.sessMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Abandoning live build sessions.")
	}
}

// corsMiddleware lets the plugin iframe and local tooling call the service
// from another origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to encode response.", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
