// Package capture turns a rendered web page into the portable node tree the
// reconstruction side consumes. A chromedp session serializes the page's
// visual tree in one in-page evaluation; the analyzer then filters and
// condenses that tree into IR on the Go side, where malformed values can
// degrade to defaults instead of failing inside the page.
package capture

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
)

// Analyzer converts a serialized visual tree into IR. It is pure with
// respect to its input: the visual tree is only read, never mutated.
type Analyzer struct {
	log *zap.Logger
}

// NewAnalyzer returns an analyzer logging through log.
func NewAnalyzer(log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{log: log.Named("analyzer")}
}

// Analyze walks the visual tree and returns its IR form, nil when the whole
// tree was filtered out. The returned tree is already normalized.
func (a *Analyzer) Analyze(root *schemas.VisualNode) *schemas.IRNode {
	ir := a.analyzeNode(root)
	ir.Normalize()
	if ir == nil {
		a.log.Debug("Visual tree filtered out entirely.")
	} else {
		a.log.Debug("Visual tree analyzed.", zap.Int("ir_nodes", ir.CountNodes()))
	}
	return ir
}

func (a *Analyzer) analyzeNode(node *schemas.VisualNode) *schemas.IRNode {
	if node == nil {
		return nil
	}

	switch node.NodeType {
	case schemas.DOMTextNode:
		// Raw text carries no style of its own; a styled wrapper either
		// collapses onto it below or stays as the containing frame.
		content := strings.TrimSpace(node.Text)
		if content == "" {
			return nil
		}
		return &schemas.IRNode{Type: schemas.NodeTypeTextNode, Content: content}
	case schemas.DOMElementNode:
	default:
		return nil
	}

	if !visible(node.Style) {
		return nil
	}
	if node.Rect.Width <= 0 || node.Rect.Height <= 0 {
		return nil
	}

	styles := styleFromSnapshot(node.Style, node.Rect)
	tag := strings.ToLower(node.Tag)

	if tag == "img" {
		return &schemas.IRNode{
			Type:   schemas.NodeTypeImage,
			Tag:    tag,
			Src:    node.Src,
			Styles: styles,
		}
	}

	children := make([]*schemas.IRNode, 0, len(node.Children))
	for _, child := range node.Children {
		if ir := a.analyzeNode(child); ir != nil {
			children = append(children, ir)
		}
	}

	// A wrapper whose only surviving child is text collapses into a single
	// text node keeping the wrapper's style. The nested box disappears.
	// Frames with several children, even all-text ones, are left alone.
	if len(children) == 1 && children[0].IsText() {
		return &schemas.IRNode{
			Type:    schemas.NodeTypeText,
			Content: children[0].Content,
			Styles:  styles,
		}
	}

	return &schemas.IRNode{
		Type:     schemas.NodeTypeFrame,
		Tag:      tag,
		Styles:   styles,
		Children: children,
	}
}
