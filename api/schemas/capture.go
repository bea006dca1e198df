package schemas

import (
	"fmt"
	"time"
)

// DOM node type numbers as reported by the page.
const (
	DOMElementNode = 1
	DOMTextNode    = 3
)

// BoundingBox is an element's rendered box in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ComputedStyleSnapshot carries raw computed-style strings exactly as the
// page reports them. All parsing happens on the Go side so malformed values
// can degrade to defaults instead of failing inside the page.
type ComputedStyleSnapshot struct {
	Display                 string `json:"display,omitempty"`
	Visibility              string `json:"visibility,omitempty"`
	Opacity                 string `json:"opacity,omitempty"`
	Position                string `json:"position,omitempty"`
	Left                    string `json:"left,omitempty"`
	Top                     string `json:"top,omitempty"`
	FlexDirection           string `json:"flexDirection,omitempty"`
	JustifyContent          string `json:"justifyContent,omitempty"`
	AlignItems              string `json:"alignItems,omitempty"`
	Gap                     string `json:"gap,omitempty"`
	PaddingTop              string `json:"paddingTop,omitempty"`
	PaddingRight            string `json:"paddingRight,omitempty"`
	PaddingBottom           string `json:"paddingBottom,omitempty"`
	PaddingLeft             string `json:"paddingLeft,omitempty"`
	BackgroundColor         string `json:"backgroundColor,omitempty"`
	BackgroundImage         string `json:"backgroundImage,omitempty"`
	BorderTopLeftRadius     string `json:"borderTopLeftRadius,omitempty"`
	BorderTopRightRadius    string `json:"borderTopRightRadius,omitempty"`
	BorderBottomRightRadius string `json:"borderBottomRightRadius,omitempty"`
	BorderBottomLeftRadius  string `json:"borderBottomLeftRadius,omitempty"`
	Color                   string `json:"color,omitempty"`
	FontSize                string `json:"fontSize,omitempty"`
	FontWeight              string `json:"fontWeight,omitempty"`
	FontFamily              string `json:"fontFamily,omitempty"`
	LineHeight              string `json:"lineHeight,omitempty"`
	TextAlign               string `json:"textAlign,omitempty"`
}

// VisualNode is one node of the rendered visual tree as serialized by the
// in-page snapshot expression.
type VisualNode struct {
	NodeType int                   `json:"nodeType"`
	Tag      string                `json:"tag,omitempty"`
	Text     string                `json:"text,omitempty"`
	Src      string                `json:"src,omitempty"`
	Rect     BoundingBox           `json:"rect"`
	Style    ComputedStyleSnapshot `json:"style"`
	Children []*VisualNode         `json:"children,omitempty"`
}

// Viewport is the browser viewport used for a capture.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// CaptureResult wraps the IR produced by one capture together with page
// metadata. Root is nil when the whole tree was filtered out.
type CaptureResult struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Viewport   Viewport  `json:"viewport"`
	CapturedAt time.Time `json:"captured_at"`
	Root       *IRNode   `json:"root"`
}

// HarvestedAsset is an image response recorded while the page loaded.
type HarvestedAsset struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// EncodeCaptureResult serializes a capture result.
func EncodeCaptureResult(r *CaptureResult) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding capture result: %w", err)
	}
	return data, nil
}

// DecodeCaptureResult parses a capture result and normalizes its IR tree.
func DecodeCaptureResult(data []byte) (*CaptureResult, error) {
	var r CaptureResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding capture result: %w", err)
	}
	r.Root.Normalize()
	return &r, nil
}
