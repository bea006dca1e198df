package builder

import (
	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/canvas"
)

// LayoutModeFor maps a flex direction onto an auto-layout flow. Column flows
// vertically; row and every other value flow horizontally.
func LayoutModeFor(direction string) canvas.LayoutMode {
	if direction == schemas.DirectionColumn {
		return canvas.LayoutVertical
	}
	return canvas.LayoutHorizontal
}

// CounterAxisAlignFor maps align-items onto the cross axis. The mapping is
// total; unenumerated values settle on MIN.
func CounterAxisAlignFor(alignItems string) canvas.AxisAlign {
	switch alignItems {
	case schemas.AlignCenter:
		return canvas.AlignCenter
	case schemas.AlignFlexEnd:
		return canvas.AlignMax
	default:
		return canvas.AlignMin
	}
}

// PrimaryAxisAlignFor maps justify-content onto the main axis. The mapping is
// total; unenumerated values settle on MIN.
func PrimaryAxisAlignFor(justifyContent string) canvas.AxisAlign {
	switch justifyContent {
	case schemas.AlignCenter:
		return canvas.AlignCenter
	case schemas.AlignSpaceBetween:
		return canvas.AlignSpaceBetween
	case schemas.AlignFlexEnd:
		return canvas.AlignMax
	default:
		return canvas.AlignMin
	}
}

// TextAlignFor maps CSS text-align onto horizontal text alignment.
func TextAlignFor(textAlign string) canvas.TextAlignHorizontal {
	switch textAlign {
	case "center":
		return canvas.TextAlignCenter
	case "right", "end":
		return canvas.TextAlignRight
	case "justify":
		return canvas.TextAlignJustified
	default:
		return canvas.TextAlignLeft
	}
}
