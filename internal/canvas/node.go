// Package canvas is the host-side node model the reconstruction builder
// targets: frames with auto-layout, text and rectangles, assembled under a
// document that owns the image registry and viewport focus.
package canvas

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/pagelift/pagelift/api/schemas"
)

// ErrInvalidGeometry is returned when a node operation receives dimensions
// the host cannot represent.
var ErrInvalidGeometry = errors.New("invalid node geometry")

// NodeKind identifies a native node type.
type NodeKind string

const (
	KindFrame     NodeKind = "FRAME"
	KindText      NodeKind = "TEXT"
	KindRectangle NodeKind = "RECTANGLE"
)

// LayoutMode is the auto-layout flow direction of a frame.
type LayoutMode string

const (
	LayoutNone       LayoutMode = "NONE"
	LayoutHorizontal LayoutMode = "HORIZONTAL"
	LayoutVertical   LayoutMode = "VERTICAL"
)

// AxisAlign positions children along one auto-layout axis.
type AxisAlign string

const (
	AlignMin          AxisAlign = "MIN"
	AlignCenter       AxisAlign = "CENTER"
	AlignMax          AxisAlign = "MAX"
	AlignSpaceBetween AxisAlign = "SPACE_BETWEEN"
)

// Positioning selects flow or free-form placement for a child.
type Positioning string

const (
	PositioningAuto     Positioning = "AUTO"
	PositioningAbsolute Positioning = "ABSOLUTE"
)

// ScaleMode controls how an image paint covers its node.
type ScaleMode string

const (
	ScaleFill ScaleMode = "FILL"
	ScaleFit  ScaleMode = "FIT"
)

// TextAlignHorizontal is the horizontal alignment of a text node.
type TextAlignHorizontal string

const (
	TextAlignLeft      TextAlignHorizontal = "LEFT"
	TextAlignCenter    TextAlignHorizontal = "CENTER"
	TextAlignRight     TextAlignHorizontal = "RIGHT"
	TextAlignJustified TextAlignHorizontal = "JUSTIFIED"
)

// TextAutoResize controls whether a text node sizes itself to its content.
type TextAutoResize string

const (
	AutoResizeNone           TextAutoResize = "NONE"
	AutoResizeWidthAndHeight TextAutoResize = "WIDTH_AND_HEIGHT"
)

// PaintType tags a fill.
type PaintType string

const (
	PaintSolid PaintType = "SOLID"
	PaintImage PaintType = "IMAGE"
)

// Paint is one fill layer. Fills stack bottom-up: index 0 renders first.
type Paint struct {
	Type      PaintType    `json:"type"`
	Color     *schemas.RGB `json:"color,omitempty"`
	ImageRef  string       `json:"imageRef,omitempty"`
	ScaleMode ScaleMode    `json:"scaleMode,omitempty"`
}

// SolidPaint builds a solid fill from a color triplet.
func SolidPaint(c schemas.RGB) Paint {
	return Paint{Type: PaintSolid, Color: &c}
}

// ImageFill builds an image fill referencing a registered image.
func ImageFill(ref string, mode ScaleMode) Paint {
	return Paint{Type: PaintImage, ImageRef: ref, ScaleMode: mode}
}

// Node is any native canvas node.
type Node interface {
	Base() *BaseNode
}

// BaseNode carries the identity and geometry every node shares.
type BaseNode struct {
	ID          string      `json:"id"`
	Kind        NodeKind    `json:"kind"`
	Name        string      `json:"name"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Width       float64     `json:"width"`
	Height      float64     `json:"height"`
	Positioning Positioning `json:"positioning,omitempty"`
}

// Base returns the shared node header.
func (b *BaseNode) Base() *BaseNode { return b }

// Resize sets the node box. Non-finite or negative dimensions are rejected,
// mirroring the host API contract.
func (b *BaseNode) Resize(w, h float64) error {
	if !validDimension(w) || !validDimension(h) {
		return fmt.Errorf("%w: %g x %g", ErrInvalidGeometry, w, h)
	}
	b.Width = w
	b.Height = h
	return nil
}

// MoveTo places the node at an explicit offset inside its parent.
func (b *BaseNode) MoveTo(x, y float64) {
	b.X = x
	b.Y = y
}

func validDimension(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func newBase(kind NodeKind, name string) BaseNode {
	return BaseNode{
		ID:          uuid.NewString(),
		Kind:        kind,
		Name:        name,
		Positioning: PositioningAuto,
	}
}

// FrameNode is a container with optional auto-layout.
type FrameNode struct {
	BaseNode
	LayoutMode            LayoutMode `json:"layoutMode"`
	ItemSpacing           float64    `json:"itemSpacing,omitempty"`
	PaddingTop            float64    `json:"paddingTop,omitempty"`
	PaddingRight          float64    `json:"paddingRight,omitempty"`
	PaddingBottom         float64    `json:"paddingBottom,omitempty"`
	PaddingLeft           float64    `json:"paddingLeft,omitempty"`
	PrimaryAxisAlignItems AxisAlign  `json:"primaryAxisAlignItems,omitempty"`
	CounterAxisAlignItems AxisAlign  `json:"counterAxisAlignItems,omitempty"`
	TopLeftRadius         float64    `json:"topLeftRadius,omitempty"`
	TopRightRadius        float64    `json:"topRightRadius,omitempty"`
	BottomRightRadius     float64    `json:"bottomRightRadius,omitempty"`
	BottomLeftRadius      float64    `json:"bottomLeftRadius,omitempty"`
	Fills                 []Paint    `json:"fills,omitempty"`
	Children              []Node     `json:"children,omitempty"`
}

// NewFrame creates an empty frame with no layout mode.
func NewFrame(name string) *FrameNode {
	return &FrameNode{BaseNode: newBase(KindFrame, name), LayoutMode: LayoutNone}
}

// AppendChild attaches a child and assigns its flow position. Placement is
// computed at insertion time: free-form overrides must happen after the
// append, and absolutely positioned children do not advance the flow cursor.
func (f *FrameNode) AppendChild(n Node) {
	base := n.Base()
	if f.LayoutMode == LayoutHorizontal || f.LayoutMode == LayoutVertical {
		x, y := f.PaddingLeft, f.PaddingTop
		for _, sibling := range f.Children {
			sb := sibling.Base()
			if sb.Positioning == PositioningAbsolute {
				continue
			}
			if f.LayoutMode == LayoutHorizontal {
				x += sb.Width + f.ItemSpacing
			} else {
				y += sb.Height + f.ItemSpacing
			}
		}
		base.MoveTo(x, y)
	}
	f.Children = append(f.Children, n)
}

// SetCornerRadii copies the four corner radii at once.
func (f *FrameNode) SetCornerRadii(topLeft, topRight, bottomRight, bottomLeft float64) {
	f.TopLeftRadius = topLeft
	f.TopRightRadius = topRight
	f.BottomRightRadius = bottomRight
	f.BottomLeftRadius = bottomLeft
}

// RectangleNode is a plain shape, used as the image placeholder.
type RectangleNode struct {
	BaseNode
	TopLeftRadius     float64 `json:"topLeftRadius,omitempty"`
	TopRightRadius    float64 `json:"topRightRadius,omitempty"`
	BottomRightRadius float64 `json:"bottomRightRadius,omitempty"`
	BottomLeftRadius  float64 `json:"bottomLeftRadius,omitempty"`
	Fills             []Paint `json:"fills,omitempty"`
}

// NewRectangle creates an unfilled rectangle.
func NewRectangle(name string) *RectangleNode {
	return &RectangleNode{BaseNode: newBase(KindRectangle, name)}
}

// TextNode is a leaf carrying literal characters.
type TextNode struct {
	BaseNode
	Characters          string              `json:"characters"`
	FontSize            float64             `json:"fontSize"`
	FontName            FontName            `json:"fontName"`
	Fills               []Paint             `json:"fills,omitempty"`
	TextAlignHorizontal TextAlignHorizontal `json:"textAlignHorizontal,omitempty"`
	LineHeight          *float64            `json:"lineHeight,omitempty"`
	AutoResize          TextAutoResize      `json:"textAutoResize,omitempty"`
}

// NewText creates an auto-sizing text node.
func NewText(name string) *TextNode {
	return &TextNode{
		BaseNode:            newBase(KindText, name),
		FontSize:            schemas.DefaultFontSize,
		AutoResize:          AutoResizeWidthAndHeight,
		TextAlignHorizontal: TextAlignLeft,
	}
}

// SetCharacters writes the text content. Auto-sizing nodes re-estimate their
// box so flow placement of later siblings stays meaningful; the estimate is
// an average-glyph-width approximation, not a shaped measurement.
func (t *TextNode) SetCharacters(chars string) {
	t.Characters = chars
	if t.AutoResize != AutoResizeWidthAndHeight {
		return
	}
	lineHeight := t.FontSize * 1.2
	if t.LineHeight != nil {
		lineHeight = *t.LineHeight
	}
	t.Width = 0.6 * t.FontSize * float64(len([]rune(chars)))
	t.Height = lineHeight
}
