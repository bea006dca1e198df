package schemas

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json mirrors encoding/json behavior so the wire bytes stay stable across
// producers that use the standard library.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NodeType tags an IR node variant.
type NodeType string

const (
	NodeTypeFrame    NodeType = "FRAME"
	NodeTypeText     NodeType = "TEXT"
	NodeTypeTextNode NodeType = "TEXT_NODE"
	NodeTypeImage    NodeType = "IMAGE"
)

// Style field vocabulary. These strings cross the wire verbatim and must
// match the CSS computed-value spelling.
const (
	DisplayFlex       = "flex"
	DirectionRow      = "row"
	DirectionColumn   = "column"
	AlignCenter       = "center"
	AlignFlexEnd      = "flex-end"
	AlignSpaceBetween = "space-between"
	PositionAbsolute  = "absolute"
	PositionFixed     = "fixed"
)

// Defaults applied during normalization.
const (
	DefaultFontSize   = 16.0
	DefaultFontWeight = 400.0
)

// RGB is a color triplet with each channel normalized to [0,1].
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// EdgeInsets carries per-side pixel values (padding).
type EdgeInsets struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// CornerRadii carries the four border-radius corners in pixels.
type CornerRadii struct {
	TopLeft     float64 `json:"topLeft"`
	TopRight    float64 `json:"topRight"`
	BottomRight float64 `json:"bottomRight"`
	BottomLeft  float64 `json:"bottomLeft"`
}

// ImageDescriptor points at a background image.
type ImageDescriptor struct {
	URL string `json:"url"`
}

// Style is the per-node style snapshot. On the wire every field is optional;
// after Normalize each field carries its resolved default so consumers never
// re-derive fallbacks at use sites. Width, Height, Left and Top keep pointer
// semantics because presence drives sizing and placement decisions.
type Style struct {
	Width           *float64         `json:"width,omitempty"`
	Height          *float64         `json:"height,omitempty"`
	Display         string           `json:"display,omitempty"`
	FlexDirection   string           `json:"flexDirection,omitempty"`
	JustifyContent  string           `json:"justifyContent,omitempty"`
	AlignItems      string           `json:"alignItems,omitempty"`
	Gap             float64          `json:"gap,omitempty"`
	Padding         *EdgeInsets      `json:"padding,omitempty"`
	BackgroundColor *RGB             `json:"backgroundColor,omitempty"`
	BackgroundImage *ImageDescriptor `json:"backgroundImage,omitempty"`
	BorderRadius    *CornerRadii     `json:"borderRadius,omitempty"`
	Color           *RGB             `json:"color,omitempty"`
	FontSize        float64          `json:"fontSize,omitempty"`
	FontWeight      float64          `json:"fontWeight,omitempty"`
	FontFamily      string           `json:"fontFamily,omitempty"`
	LineHeight      *float64         `json:"lineHeight,omitempty"`
	TextAlign       string           `json:"textAlign,omitempty"`
	Position        string           `json:"position,omitempty"`
	Left            *float64         `json:"left,omitempty"`
	Top             *float64         `json:"top,omitempty"`
}

// NewStyle returns an empty style with defaults already resolved.
func NewStyle() *Style {
	s := &Style{}
	s.normalize()
	return s
}

func (s *Style) normalize() {
	if s.FlexDirection == "" {
		s.FlexDirection = DirectionRow
	}
	if s.FontSize == 0 {
		s.FontSize = DefaultFontSize
	}
	if s.FontWeight == 0 {
		s.FontWeight = DefaultFontWeight
	}
	if s.Padding == nil {
		s.Padding = &EdgeInsets{}
	}
	if s.BorderRadius == nil {
		s.BorderRadius = &CornerRadii{}
	}
	s.BackgroundColor = s.BackgroundColor.clamped()
	s.Color = s.Color.clamped()
}

func (c *RGB) clamped() *RGB {
	if c == nil {
		return nil
	}
	return &RGB{R: clamp01(c.R), G: clamp01(c.G), B: clamp01(c.B)}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// IsFlex reports whether the node declared flex display.
func (s *Style) IsFlex() bool {
	return s != nil && s.Display == DisplayFlex
}

// IsAbsolute reports whether the node is removed from normal flow.
func (s *Style) IsAbsolute() bool {
	return s != nil && (s.Position == PositionAbsolute || s.Position == PositionFixed)
}

// Offset returns the explicit left/top pair, zero where unset.
func (s *Style) Offset() (left, top float64) {
	if s == nil {
		return 0, 0
	}
	if s.Left != nil {
		left = *s.Left
	}
	if s.Top != nil {
		top = *s.Top
	}
	return left, top
}

// ExplicitSize returns the declared box and whether both dimensions are set.
func (s *Style) ExplicitSize() (w, h float64, ok bool) {
	if s == nil || s.Width == nil || s.Height == nil {
		return 0, 0, false
	}
	return *s.Width, *s.Height, true
}

// IRNode is one node of the intermediate representation exchanged between the
// capture and reconstruction sides. It is a closed tagged variant: FRAME,
// TEXT/TEXT_NODE and IMAGE are the only recognized types, anything else is
// dropped by the consumer. FontSize exists for producers that emit the font
// size beside the content instead of inside styles; Normalize folds it in.
type IRNode struct {
	Type     NodeType  `json:"type"`
	Tag      string    `json:"tag,omitempty"`
	Content  string    `json:"content,omitempty"`
	Src      string    `json:"src,omitempty"`
	FontSize float64   `json:"fontSize,omitempty"`
	Styles   *Style    `json:"styles,omitempty"`
	Children []*IRNode `json:"children,omitempty"`
}

// IsText reports whether the node carries literal characters.
func (n *IRNode) IsText() bool {
	return n != nil && (n.Type == NodeTypeText || n.Type == NodeTypeTextNode)
}

// Normalize resolves style defaults across the whole tree, folds legacy
// top-level font sizes into styles and clamps color channels. It is
// idempotent and runs once per tree, on the producing side or right after
// decode, never at individual use sites.
func (n *IRNode) Normalize() {
	if n == nil {
		return
	}
	if n.Styles == nil {
		n.Styles = &Style{}
	}
	if n.FontSize != 0 && n.Styles.FontSize == 0 {
		n.Styles.FontSize = n.FontSize
	}
	n.Styles.normalize()
	for _, c := range n.Children {
		c.Normalize()
	}
}

// CountNodes returns the number of nodes in the subtree rooted at n.
func (n *IRNode) CountNodes() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.CountNodes()
	}
	return total
}

// Walk visits n and every descendant in depth-first child order.
func (n *IRNode) Walk(visit func(*IRNode)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// EncodeIR serializes an IR tree to its wire form.
func EncodeIR(n *IRNode) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encoding IR: %w", err)
	}
	return data, nil
}

// DecodeIR parses wire bytes into an IR tree and runs the normalization
// pass. Unknown node types survive decoding; the builder drops them.
func DecodeIR(data []byte) (*IRNode, error) {
	var n IRNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decoding IR: %w", err)
	}
	n.Normalize()
	return &n, nil
}
