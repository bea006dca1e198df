package canvas_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/canvas"
)

func TestResizeRejectsInvalidGeometry(t *testing.T) {
	testCases := []struct {
		name   string
		width  float64
		height float64
	}{
		{name: "nan width", width: math.NaN(), height: 10},
		{name: "nan height", width: 10, height: math.NaN()},
		{name: "positive infinity", width: math.Inf(1), height: 10},
		{name: "negative width", width: -1, height: 10},
		{name: "negative height", width: 10, height: -0.5},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			frame := canvas.NewFrame("bad")
			err := frame.Resize(tt.width, tt.height)
			require.Error(t, err)
			assert.ErrorIs(t, err, canvas.ErrInvalidGeometry)
			assert.Zero(t, frame.Width)
			assert.Zero(t, frame.Height)
		})
	}
}

func TestResizeSetsDimensions(t *testing.T) {
	rect := canvas.NewRectangle("box")
	require.NoError(t, rect.Resize(120, 48))
	assert.Equal(t, 120.0, rect.Width)
	assert.Equal(t, 48.0, rect.Height)

	require.NoError(t, rect.Resize(0, 0))
	assert.Zero(t, rect.Width)
}

func TestNewNodesHaveIdentity(t *testing.T) {
	frame := canvas.NewFrame("card")
	text := canvas.NewText("label")
	rect := canvas.NewRectangle("img")

	assert.Equal(t, canvas.KindFrame, frame.Kind)
	assert.Equal(t, canvas.KindText, text.Kind)
	assert.Equal(t, canvas.KindRectangle, rect.Kind)

	assert.NotEmpty(t, frame.ID)
	assert.NotEqual(t, frame.ID, text.ID)
	assert.Equal(t, canvas.PositioningAuto, frame.Positioning)
	assert.Equal(t, schemas.DefaultFontSize, text.FontSize)
}

func TestAppendChildVerticalFlow(t *testing.T) {
	parent := canvas.NewFrame("column")
	parent.LayoutMode = canvas.LayoutVertical
	parent.PaddingTop = 10
	parent.PaddingLeft = 4
	parent.ItemSpacing = 8

	first := canvas.NewRectangle("first")
	require.NoError(t, first.Resize(50, 20))
	second := canvas.NewRectangle("second")
	require.NoError(t, second.Resize(50, 30))

	parent.AppendChild(first)
	parent.AppendChild(second)

	assert.Equal(t, 4.0, first.X)
	assert.Equal(t, 10.0, first.Y)
	assert.Equal(t, 4.0, second.X)
	assert.Equal(t, 38.0, second.Y, "second child starts after first height plus spacing")
}

func TestAppendChildHorizontalFlow(t *testing.T) {
	parent := canvas.NewFrame("row")
	parent.LayoutMode = canvas.LayoutHorizontal
	parent.PaddingLeft = 12
	parent.ItemSpacing = 6

	first := canvas.NewRectangle("first")
	require.NoError(t, first.Resize(40, 40))
	second := canvas.NewRectangle("second")
	require.NoError(t, second.Resize(25, 40))

	parent.AppendChild(first)
	parent.AppendChild(second)

	assert.Equal(t, 12.0, first.X)
	assert.Equal(t, 58.0, second.X)
}

func TestAppendChildSkipsAbsoluteSiblings(t *testing.T) {
	parent := canvas.NewFrame("stack")
	parent.LayoutMode = canvas.LayoutVertical
	parent.ItemSpacing = 5

	flow := canvas.NewRectangle("flow")
	require.NoError(t, flow.Resize(10, 10))
	parent.AppendChild(flow)

	floated := canvas.NewRectangle("floated")
	require.NoError(t, floated.Resize(10, 100))
	parent.AppendChild(floated)
	floated.Positioning = canvas.PositioningAbsolute
	floated.MoveTo(200, 300)

	last := canvas.NewRectangle("last")
	require.NoError(t, last.Resize(10, 10))
	parent.AppendChild(last)

	assert.Equal(t, 300.0, floated.Y, "free-form override survives later appends")
	assert.Equal(t, 15.0, last.Y, "absolute sibling does not advance the flow cursor")
	require.Len(t, parent.Children, 3)
	assert.Same(t, floated, parent.Children[1], "append order is preserved")
}

func TestAppendChildNoLayoutLeavesPosition(t *testing.T) {
	parent := canvas.NewFrame("plain")
	child := canvas.NewRectangle("child")
	child.MoveTo(7, 9)
	parent.AppendChild(child)

	assert.Equal(t, 7.0, child.X)
	assert.Equal(t, 9.0, child.Y)
}

func TestSetCharactersAutoSizes(t *testing.T) {
	text := canvas.NewText("label")
	text.FontSize = 20
	text.SetCharacters("hello")

	assert.Equal(t, "hello", text.Characters)
	assert.InDelta(t, 60.0, text.Width, 0.001)
	assert.InDelta(t, 24.0, text.Height, 0.001)
}

func TestSetCharactersHonorsLineHeight(t *testing.T) {
	text := canvas.NewText("label")
	text.FontSize = 10
	lineHeight := 30.0
	text.LineHeight = &lineHeight
	text.SetCharacters("ab")

	assert.InDelta(t, 30.0, text.Height, 0.001)
}

func TestSetCharactersFixedSizeUntouched(t *testing.T) {
	text := canvas.NewText("label")
	text.AutoResize = canvas.AutoResizeNone
	require.NoError(t, text.Resize(300, 40))
	text.SetCharacters("does not shrink the box")

	assert.Equal(t, 300.0, text.Width)
	assert.Equal(t, 40.0, text.Height)
}

func TestPaintConstructors(t *testing.T) {
	solid := canvas.SolidPaint(schemas.RGB{R: 1, G: 0.5, B: 0})
	require.Equal(t, canvas.PaintSolid, solid.Type)
	require.NotNil(t, solid.Color)
	assert.Equal(t, 0.5, solid.Color.G)

	img := canvas.ImageFill("abc123", canvas.ScaleFill)
	assert.Equal(t, canvas.PaintImage, img.Type)
	assert.Equal(t, "abc123", img.ImageRef)
	assert.Equal(t, canvas.ScaleFill, img.ScaleMode)
	assert.Nil(t, img.Color)
}
