package capture_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/capture"
)

func plainStyle() schemas.ComputedStyleSnapshot {
	return schemas.ComputedStyleSnapshot{Display: "block", Visibility: "visible", Opacity: "1"}
}

func elem(tag string, style schemas.ComputedStyleSnapshot, rect schemas.BoundingBox, children ...*schemas.VisualNode) *schemas.VisualNode {
	return &schemas.VisualNode{
		NodeType: schemas.DOMElementNode,
		Tag:      tag,
		Rect:     rect,
		Style:    style,
		Children: children,
	}
}

func textNode(s string) *schemas.VisualNode {
	return &schemas.VisualNode{NodeType: schemas.DOMTextNode, Text: s}
}

func box(w, h float64) schemas.BoundingBox {
	return schemas.BoundingBox{Width: w, Height: h}
}

func TestAnalyzeNilTree(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	assert.Nil(t, analyzer.Analyze(nil))
}

func TestAnalyzeBareTextNode(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())

	ir := analyzer.Analyze(textNode("  Hello there  "))
	require.NotNil(t, ir)
	assert.Equal(t, schemas.NodeTypeTextNode, ir.Type)
	assert.Equal(t, "Hello there", ir.Content)
	// Analyze normalizes, so even a bare text node carries resolved styles.
	require.NotNil(t, ir.Styles)
	assert.Equal(t, schemas.DefaultFontSize, ir.Styles.FontSize)

	assert.Nil(t, analyzer.Analyze(textNode("   \n\t ")))
}

func TestAnalyzeVisibilityGate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		snap schemas.ComputedStyleSnapshot
	}{
		{name: "display none", snap: schemas.ComputedStyleSnapshot{Display: "none"}},
		{name: "visibility hidden", snap: schemas.ComputedStyleSnapshot{Display: "block", Visibility: "hidden"}},
		{name: "zero opacity", snap: schemas.ComputedStyleSnapshot{Display: "block", Visibility: "visible", Opacity: "0"}},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			analyzer := capture.NewAnalyzer(zap.NewNop())
			root := elem("div", tt.snap, box(100, 50), textNode("invisible"))
			assert.Nil(t, analyzer.Analyze(root))
		})
	}
}

func TestAnalyzeSizeGate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		rect schemas.BoundingBox
	}{
		{name: "zero width", rect: box(0, 50)},
		{name: "zero height", rect: box(100, 0)},
		{name: "negative", rect: box(-1, -1)},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			analyzer := capture.NewAnalyzer(zap.NewNop())
			assert.Nil(t, analyzer.Analyze(elem("div", plainStyle(), tt.rect)))
		})
	}
}

func TestAnalyzeImgBecomesImage(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	img := elem("IMG", plainStyle(), box(64, 48))
	img.Src = "https://cdn.example.com/logo.png"

	ir := analyzer.Analyze(img)
	require.NotNil(t, ir)
	assert.Equal(t, schemas.NodeTypeImage, ir.Type)
	assert.Equal(t, "img", ir.Tag)
	assert.Equal(t, "https://cdn.example.com/logo.png", ir.Src)
	w, h, ok := ir.Styles.ExplicitSize()
	require.True(t, ok)
	assert.Equal(t, 64.0, w)
	assert.Equal(t, 48.0, h)
	assert.Empty(t, ir.Children)
}

func TestAnalyzeCollapsesSingleTextChild(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	style := plainStyle()
	style.BackgroundColor = "rgb(255, 0, 0)"
	root := elem("p", style, box(200, 30), textNode(" Hi "))

	ir := analyzer.Analyze(root)
	require.NotNil(t, ir)
	assert.Equal(t, schemas.NodeTypeText, ir.Type)
	assert.Equal(t, "Hi", ir.Content)
	assert.Empty(t, ir.Children)
	// The collapsed node keeps the wrapper's style snapshot.
	assert.Equal(t, &schemas.RGB{R: 1, G: 0, B: 0}, ir.Styles.BackgroundColor)
	require.NotNil(t, ir.Styles.Width)
	assert.Equal(t, 200.0, *ir.Styles.Width)
}

func TestAnalyzeCollapseCascades(t *testing.T) {
	t.Parallel()

	// div > p > "Hi": the paragraph collapses onto its text, then the div
	// collapses onto the result. Only the outermost style survives.
	analyzer := capture.NewAnalyzer(zap.NewNop())
	inner := elem("p", plainStyle(), box(180, 24), textNode("Hi"))
	root := elem("div", plainStyle(), box(400, 60), inner)

	ir := analyzer.Analyze(root)
	require.NotNil(t, ir)
	assert.Equal(t, schemas.NodeTypeText, ir.Type)
	assert.Equal(t, "Hi", ir.Content)
	require.NotNil(t, ir.Styles.Width)
	assert.Equal(t, 400.0, *ir.Styles.Width)
}

func TestAnalyzeNoCollapseWithSiblings(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	root := elem("div", plainStyle(), box(300, 80), textNode("first"), textNode("second"))

	ir := analyzer.Analyze(root)
	require.NotNil(t, ir)
	assert.Equal(t, schemas.NodeTypeFrame, ir.Type)
	require.Len(t, ir.Children, 2)
	assert.Equal(t, schemas.NodeTypeTextNode, ir.Children[0].Type)
	assert.Equal(t, "first", ir.Children[0].Content)
	assert.Equal(t, "second", ir.Children[1].Content)
}

func TestAnalyzeNoCollapseForNonTextChild(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	img := elem("img", plainStyle(), box(64, 48))
	img.Src = "https://cdn.example.com/only.png"
	root := elem("figure", plainStyle(), box(100, 100), img)

	ir := analyzer.Analyze(root)
	require.NotNil(t, ir)
	assert.Equal(t, schemas.NodeTypeFrame, ir.Type)
	assert.Equal(t, "figure", ir.Tag)
	require.Len(t, ir.Children, 1)
	assert.Equal(t, schemas.NodeTypeImage, ir.Children[0].Type)
}

func TestAnalyzeDropsFilteredChildrenKeepingOrder(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	hiddenStyle := plainStyle()
	hiddenStyle.Display = "none"
	root := elem("SECTION", plainStyle(), box(500, 300),
		elem("header", plainStyle(), box(500, 40)),
		elem("aside", hiddenStyle, box(100, 100)),
		elem("footer", plainStyle(), box(500, 40)),
		&schemas.VisualNode{NodeType: 8}, // comment node
	)

	ir := analyzer.Analyze(root)
	require.NotNil(t, ir)
	assert.Equal(t, schemas.NodeTypeFrame, ir.Type)
	assert.Equal(t, "section", ir.Tag)
	require.Len(t, ir.Children, 2)
	assert.Equal(t, "header", ir.Children[0].Tag)
	assert.Equal(t, "footer", ir.Children[1].Tag)
}

func TestAnalyzeFlexStylesSurvive(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	style := schemas.ComputedStyleSnapshot{
		Display:        "flex",
		Visibility:     "visible",
		Opacity:        "1",
		FlexDirection:  "row",
		JustifyContent: "center",
		AlignItems:     "flex-end",
		Gap:            "12px",
		PaddingTop:     "4px",
		PaddingLeft:    "6px",
	}
	root := elem("nav", style, box(600, 80),
		elem("a", plainStyle(), box(50, 20)),
		elem("a", plainStyle(), box(50, 20)),
	)

	ir := analyzer.Analyze(root)
	require.NotNil(t, ir)
	require.True(t, ir.Styles.IsFlex())
	assert.Equal(t, schemas.DirectionRow, ir.Styles.FlexDirection)
	assert.Equal(t, schemas.AlignCenter, ir.Styles.JustifyContent)
	assert.Equal(t, schemas.AlignFlexEnd, ir.Styles.AlignItems)
	assert.Equal(t, 12.0, ir.Styles.Gap)
	assert.Equal(t, 4.0, ir.Styles.Padding.Top)
	assert.Equal(t, 6.0, ir.Styles.Padding.Left)
	require.Len(t, ir.Children, 2)
}

func TestAnalyzeAbsoluteOffsetsSurvive(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	style := plainStyle()
	style.Position = "absolute"
	style.Left = "25px"
	style.Top = "75px"

	ir := analyzer.Analyze(elem("div", style, box(40, 40)))
	require.NotNil(t, ir)
	require.True(t, ir.Styles.IsAbsolute())
	left, top := ir.Styles.Offset()
	assert.Equal(t, 25.0, left)
	assert.Equal(t, 75.0, top)
}

func TestAnalyzeIsPureAndDeterministic(t *testing.T) {
	t.Parallel()

	fixture := func() *schemas.VisualNode {
		style := plainStyle()
		style.BackgroundColor = "rgb(240, 240, 240)"
		return elem("main", style, box(800, 600),
			elem("h1", plainStyle(), box(800, 50), textNode("Title")),
			elem("p", plainStyle(), box(800, 100), textNode("Body copy")),
		)
	}

	analyzer := capture.NewAnalyzer(zap.NewNop())
	input := fixture()
	first := analyzer.Analyze(input)
	second := analyzer.Analyze(input)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated analysis diverged (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(fixture(), input); diff != "" {
		t.Errorf("analysis mutated its input (-want +got):\n%s", diff)
	}
}

func TestAnalyzeRoundTripsThroughWire(t *testing.T) {
	t.Parallel()

	analyzer := capture.NewAnalyzer(zap.NewNop())
	img := elem("img", plainStyle(), box(32, 32))
	img.Src = "https://cdn.example.com/dot.png"
	root := elem("div", plainStyle(), box(300, 200),
		elem("span", plainStyle(), box(100, 20), textNode("wire")),
		img,
	)

	ir := analyzer.Analyze(root)
	require.NotNil(t, ir)
	require.Equal(t, schemas.NodeTypeFrame, ir.Type)
	require.Len(t, ir.Children, 2)

	data, err := schemas.EncodeIR(ir)
	require.NoError(t, err)
	decoded, err := schemas.DecodeIR(data)
	require.NoError(t, err)

	if diff := cmp.Diff(ir, decoded); diff != "" {
		t.Errorf("wire round trip changed the tree (-sent +received):\n%s", diff)
	}
}
