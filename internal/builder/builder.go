// Package builder reconstructs a portable capture tree as native canvas
// nodes: frames with auto-layout, text with loaded fonts, rectangles with
// image fills. Asset and font acquisition are the only suspension points;
// child order always matches the incoming tree.
package builder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/canvas"
	"github.com/pagelift/pagelift/internal/config"
)

// DefaultAssetTimeout bounds each individual asset fetch so one stuck URL
// never stalls the rest of the build.
const DefaultAssetTimeout = 5 * time.Second

// Builder turns IR trees into canvas documents.
type Builder struct {
	log          *zap.Logger
	fonts        *canvas.FontRegistry
	resolver     assets.Resolver
	prefetcher   *assets.Prefetcher
	assetTimeout time.Duration
}

// New assembles a builder. A nil font registry falls back to the default
// catalog with the configured fallback family; a nil resolver builds every
// image placeholder unfilled.
func New(cfg config.BuilderConfig, log *zap.Logger, fonts *canvas.FontRegistry, resolver assets.Resolver) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	if fonts == nil {
		fonts = canvas.NewFontRegistry(nil, canvas.FontName{Family: cfg.FontFallbackFamily})
	}
	b := &Builder{
		log:          log.Named("builder"),
		fonts:        fonts,
		resolver:     resolver,
		assetTimeout: DefaultAssetTimeout,
	}
	if cfg.PrefetchEnabled && resolver != nil {
		cached, ok := resolver.(*assets.CachedResolver)
		if !ok {
			cached = assets.NewCachedResolver(resolver)
		}
		b.resolver = cached
		b.prefetcher = assets.NewPrefetcher(cached, cfg.PrefetchWorkers, log)
	}
	return b
}

// SetAssetTimeout overrides the per-fetch deadline. Non-positive values are
// ignored.
func (b *Builder) SetAssetTimeout(d time.Duration) {
	if d > 0 {
		b.assetTimeout = d
	}
}

// Build reconstructs a tree into a fresh document. A nil tree builds
// nothing and returns a nil document.
func (b *Builder) Build(ctx context.Context, root *schemas.IRNode) (*canvas.Document, error) {
	if root == nil {
		return nil, nil
	}
	doc := canvas.NewDocument("Imported Page")
	if err := b.BuildInto(ctx, doc, root); err != nil {
		return nil, err
	}
	return doc, nil
}

// BuildInto reconstructs a tree and appends the finished root into doc. The
// document is mutated exactly once, by the final append; a failed build
// leaves it untouched.
func (b *Builder) BuildInto(ctx context.Context, doc *canvas.Document, root *schemas.IRNode) error {
	if root == nil {
		return nil
	}
	start := time.Now()
	root.Normalize()

	if b.prefetcher != nil {
		b.prefetcher.Warm(ctx, root)
	}

	built, err := b.buildNode(ctx, doc, root)
	if err != nil {
		return err
	}
	if built == nil {
		b.log.Debug("Root produced no node, nothing appended")
		return nil
	}
	doc.AppendChild(built)
	doc.Focus(built)

	b.log.Info("Reconstruction finished",
		zap.Int("ir_nodes", root.CountNodes()),
		zap.Int("canvas_nodes", doc.NodeCount()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// buildNode dispatches on the variant tag. Unknown tags yield no node and no
// error; the parent simply continues with fewer children.
func (b *Builder) buildNode(ctx context.Context, doc *canvas.Document, n *schemas.IRNode) (canvas.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch n.Type {
	case schemas.NodeTypeFrame:
		return b.buildFrame(ctx, doc, n)
	case schemas.NodeTypeText, schemas.NodeTypeTextNode:
		return b.buildText(ctx, n)
	case schemas.NodeTypeImage:
		return b.buildImage(ctx, doc, n)
	default:
		b.log.Debug("Dropping unknown node variant", zap.String("type", string(n.Type)))
		return nil, nil
	}
}

func (b *Builder) buildFrame(ctx context.Context, doc *canvas.Document, n *schemas.IRNode) (canvas.Node, error) {
	style := n.Styles
	name := n.Tag
	if name == "" {
		name = "Frame"
	}
	frame := canvas.NewFrame(name)

	// Solid fill goes in before any image fill so the stacking order holds.
	if style.BackgroundColor != nil {
		frame.Fills = append(frame.Fills, canvas.SolidPaint(*style.BackgroundColor))
	}
	if style.BackgroundImage != nil && style.BackgroundImage.URL != "" {
		if data := b.resolveAsset(ctx, style.BackgroundImage.URL); data != nil {
			frame.Fills = append(frame.Fills, canvas.ImageFill(doc.RegisterImage(data), canvas.ScaleFill))
		}
	}

	if r := style.BorderRadius; r != nil {
		frame.SetCornerRadii(r.TopLeft, r.TopRight, r.BottomRight, r.BottomLeft)
	}

	if w, h, ok := style.ExplicitSize(); ok {
		if err := frame.Resize(w, h); err != nil {
			return nil, fmt.Errorf("sizing frame %q: %w", name, err)
		}
	}
	if style.IsAbsolute() {
		frame.MoveTo(style.Offset())
	}

	if style.IsFlex() {
		frame.LayoutMode = LayoutModeFor(style.FlexDirection)
		frame.ItemSpacing = style.Gap
		if p := style.Padding; p != nil {
			frame.PaddingTop = p.Top
			frame.PaddingRight = p.Right
			frame.PaddingBottom = p.Bottom
			frame.PaddingLeft = p.Left
		}
		frame.CounterAxisAlignItems = CounterAxisAlignFor(style.AlignItems)
		frame.PrimaryAxisAlignItems = PrimaryAxisAlignFor(style.JustifyContent)
	} else {
		// Block layout approximated as a plain vertical stack.
		frame.LayoutMode = canvas.LayoutVertical
		frame.CounterAxisAlignItems = canvas.AlignMin
		frame.PrimaryAxisAlignItems = canvas.AlignMin
	}

	for _, childIR := range n.Children {
		built, err := b.buildNode(ctx, doc, childIR)
		if err != nil {
			return nil, err
		}
		if built == nil {
			continue
		}
		frame.AppendChild(built)
		// Flow placement is computed at insertion time, so the free-form
		// correction must come strictly after the append.
		if childIR.Styles.IsAbsolute() {
			base := built.Base()
			base.Positioning = canvas.PositioningAbsolute
			base.MoveTo(childIR.Styles.Offset())
		}
	}
	return frame, nil
}

func (b *Builder) buildText(ctx context.Context, n *schemas.IRNode) (canvas.Node, error) {
	style := n.Styles
	text := canvas.NewText(textName(n.Content))

	// The face must be loaded before any characters are written.
	face, release, err := b.fonts.Acquire(ctx, canvas.FontNameFor(style.FontFamily, style.FontWeight))
	if err != nil {
		return nil, fmt.Errorf("loading font for %q: %w", text.Name, err)
	}
	defer release()

	text.FontName = face
	text.FontSize = style.FontSize
	if style.Color != nil {
		text.Fills = append(text.Fills, canvas.SolidPaint(*style.Color))
	}
	text.TextAlignHorizontal = TextAlignFor(style.TextAlign)
	if style.LineHeight != nil {
		lh := *style.LineHeight
		text.LineHeight = &lh
	}

	if style.Width != nil {
		height := style.FontSize * 1.5
		if style.Height != nil {
			height = *style.Height
		}
		text.AutoResize = canvas.AutoResizeNone
		if err := text.Resize(*style.Width, height); err != nil {
			return nil, fmt.Errorf("sizing text %q: %w", text.Name, err)
		}
	}

	text.SetCharacters(n.Content)
	return text, nil
}

func (b *Builder) buildImage(ctx context.Context, doc *canvas.Document, n *schemas.IRNode) (canvas.Node, error) {
	style := n.Styles
	name := n.Tag
	if name == "" {
		name = "Image"
	}
	rect := canvas.NewRectangle(name)

	if w, h, ok := style.ExplicitSize(); ok {
		if err := rect.Resize(w, h); err != nil {
			return nil, fmt.Errorf("sizing image %q: %w", name, err)
		}
	}
	if r := style.BorderRadius; r != nil {
		rect.TopLeftRadius = r.TopLeft
		rect.TopRightRadius = r.TopRight
		rect.BottomRightRadius = r.BottomRight
		rect.BottomLeftRadius = r.BottomLeft
	}

	if n.Src != "" {
		if data := b.resolveAsset(ctx, n.Src); data != nil {
			rect.Fills = append(rect.Fills, canvas.ImageFill(doc.RegisterImage(data), canvas.ScaleFill))
		} else {
			b.log.Debug("Image placeholder left unfilled", zap.String("url", n.Src))
		}
	}
	return rect, nil
}

// resolveAsset fetches bytes under the per-fetch deadline and converts them
// to a placeable format. Every failure degrades to nil; a missing asset never
// fails a build.
func (b *Builder) resolveAsset(ctx context.Context, url string) []byte {
	if b.resolver == nil {
		return nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, b.assetTimeout)
	defer cancel()

	data, err := b.resolver.Resolve(fetchCtx, url)
	if err != nil {
		b.log.Debug("Asset resolution failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	usable, err := assets.EnsureCompatible(data)
	if err != nil {
		b.log.Debug("Asset bytes not placeable", zap.String("url", url), zap.Error(err))
		return nil
	}
	return usable
}

// textName derives a node name from the characters, like design tools do.
func textName(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return "Text"
	}
	if len(runes) > 40 {
		runes = runes[:40]
	}
	return string(runes)
}
