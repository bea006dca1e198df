package bridge

import (
	encjson "encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/builder"
	"github.com/pagelift/pagelift/internal/canvas"
	"github.com/pagelift/pagelift/internal/capture"
)

// ConvertRequest asks the service for a one-shot conversion. Exactly one
// field drives it: URL runs a server-side capture first, IR reuses a tree
// captured elsewhere.
type ConvertRequest struct {
	URL string             `json:"url,omitempty"`
	IR  encjson.RawMessage `json:"ir,omitempty"`
}

// handleConvert answers POST /api/v1/convert with the built canvas document
// as JSON, image bytes included as base64.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	switch {
	case len(req.IR) > 0:
		s.convertTree(w, r, req.IR)
	case req.URL != "":
		s.convertURL(w, r, req.URL)
	default:
		s.respondError(w, http.StatusBadRequest, "either url or ir is required")
	}
}

func (s *Server) convertTree(w http.ResponseWriter, r *http.Request, raw encjson.RawMessage) {
	root, err := schemas.DecodeIR(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid ir payload: %v", err))
		return
	}

	b := builder.New(s.builderCfg, s.log, s.fonts, s.resolver)
	b.SetAssetTimeout(s.assetTimeout)
	doc := canvas.NewDocument("Imported Page")
	if err := b.BuildInto(r.Context(), doc, root); err != nil {
		s.log.Error("Conversion failed.", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "build failed")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) convertURL(w http.ResponseWriter, r *http.Request, pageURL string) {
	if s.browser == nil {
		s.respondError(w, http.StatusServiceUnavailable, "server-side capture is not enabled")
		return
	}

	tab, closeTab, err := s.browser.NewTab()
	if err != nil {
		s.log.Error("Opening capture tab failed.", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "browser unavailable")
		return
	}
	defer closeTab()

	capSess := capture.NewSession(s.captureCfg, s.viewport, s.log)
	result, harvested, err := capSess.Run(tab, pageURL)
	if err != nil {
		s.log.Warn("Capture failed.", zap.String("url", pageURL), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, fmt.Sprintf("capture failed: %v", err))
		return
	}

	// Harvested bytes satisfy most fetches; the resolver only goes to the
	// network for what the page load never touched.
	resolver := assets.Chain(assets.NewHarvestResolver(harvested), s.resolver)
	b := builder.New(s.builderCfg, s.log, s.fonts, resolver)
	b.SetAssetTimeout(s.assetTimeout)

	name := result.Title
	if name == "" {
		name = result.URL
	}
	doc := canvas.NewDocument(name)
	if err := b.BuildInto(r.Context(), doc, result.Root); err != nil {
		s.log.Error("Build failed after capture.", zap.String("url", pageURL), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "build failed")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}
