package capture

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pagelift/pagelift/api/schemas"
)

// Computed-style values arrive as raw strings exactly as the page reports
// them. Every parser here degrades to the field's default on malformed input
// instead of returning an error; a single broken declaration must never sink
// a whole capture.

var (
	rgbPattern = regexp.MustCompile(`^rgba?\(\s*([\d.]+)[\s,]+([\d.]+)[\s,]+([\d.]+)(?:\s*[,/]\s*([\d.]+%?))?\s*\)$`)
	urlPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)
)

// parseLength converts a pixel length ("12px", "0.5px") to a float. Keywords
// such as "auto" and "normal" and anything unparsable resolve to 0.
func parseLength(raw string) float64 {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "px"))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// parseOffset is parseLength with presence semantics: "auto", keywords and
// junk yield nil rather than 0 so unset offsets stay distinguishable.
func parseOffset(raw string) *float64 {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "px"))
	if raw == "" || raw == "auto" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseColor extracts a fill triplet from rgb()/rgba() text, accepting both
// the legacy comma syntax and the space/slash syntax. Channels are divided by
// 255; the alpha channel never joins the triplet, but a fully transparent
// color resolves to nil so it produces no fill downstream. Unparsable input
// resolves to nil.
func parseColor(raw string) *schemas.RGB {
	m := rgbPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil
	}
	r, errR := strconv.ParseFloat(m[1], 64)
	g, errG := strconv.ParseFloat(m[2], 64)
	b, errB := strconv.ParseFloat(m[3], 64)
	if errR != nil || errG != nil || errB != nil {
		return nil
	}
	if alpha := m[4]; alpha != "" {
		scale := 1.0
		if strings.HasSuffix(alpha, "%") {
			alpha = strings.TrimSuffix(alpha, "%")
			scale = 100.0
		}
		if a, err := strconv.ParseFloat(alpha, 64); err == nil && a/scale == 0 {
			return nil
		}
	}
	return &schemas.RGB{R: r / 255, G: g / 255, B: b / 255}
}

// parseBackgroundImage pulls the first url(...) reference out of a computed
// background-image value. "none" and gradient-only values yield nil.
func parseBackgroundImage(raw string) *schemas.ImageDescriptor {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "none" {
		return nil
	}
	m := urlPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	u := strings.TrimSpace(m[1])
	if u == "" {
		return nil
	}
	return &schemas.ImageDescriptor{URL: u}
}

// parseFontWeight maps the keyword weights and passes numeric weights
// through. Unknown input resolves to 0, which normalization later replaces
// with the regular weight.
func parseFontWeight(raw string) float64 {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return 0
	case "normal":
		return 400
	case "bold":
		return 700
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// parseLineHeight accepts only resolved pixel values. "normal" and bare
// multipliers carry no usable pixel height and yield nil.
func parseLineHeight(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, "px") {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "px"), 64)
	if err != nil || math.IsNaN(v) || v <= 0 {
		return nil
	}
	return &v
}

// parseOpacity clamps to [0,1]; missing or malformed opacity counts as fully
// opaque so a broken value cannot hide an element.
func parseOpacity(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 1
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// visible reports whether an element paints at all.
func visible(style schemas.ComputedStyleSnapshot) bool {
	if style.Display == "none" {
		return false
	}
	if style.Visibility == "hidden" || style.Visibility == "collapse" {
		return false
	}
	return parseOpacity(style.Opacity) > 0
}

// styleFromSnapshot assembles the portable style record for one element from
// its computed style and rendered box. The box always supplies width and
// height; everything else is parsed field by field with per-field defaults.
func styleFromSnapshot(snap schemas.ComputedStyleSnapshot, rect schemas.BoundingBox) *schemas.Style {
	width, height := rect.Width, rect.Height
	return &schemas.Style{
		Width:          &width,
		Height:         &height,
		Display:        strings.TrimSpace(snap.Display),
		FlexDirection:  strings.TrimSpace(snap.FlexDirection),
		JustifyContent: strings.TrimSpace(snap.JustifyContent),
		AlignItems:     strings.TrimSpace(snap.AlignItems),
		Gap:            parseLength(snap.Gap),
		Padding: &schemas.EdgeInsets{
			Top:    parseLength(snap.PaddingTop),
			Right:  parseLength(snap.PaddingRight),
			Bottom: parseLength(snap.PaddingBottom),
			Left:   parseLength(snap.PaddingLeft),
		},
		BackgroundColor: parseColor(snap.BackgroundColor),
		BackgroundImage: parseBackgroundImage(snap.BackgroundImage),
		BorderRadius: &schemas.CornerRadii{
			TopLeft:     parseLength(snap.BorderTopLeftRadius),
			TopRight:    parseLength(snap.BorderTopRightRadius),
			BottomRight: parseLength(snap.BorderBottomRightRadius),
			BottomLeft:  parseLength(snap.BorderBottomLeftRadius),
		},
		Color:      parseColor(snap.Color),
		FontSize:   parseLength(snap.FontSize),
		FontWeight: parseFontWeight(snap.FontWeight),
		FontFamily: strings.TrimSpace(snap.FontFamily),
		LineHeight: parseLineHeight(snap.LineHeight),
		TextAlign:  strings.TrimSpace(snap.TextAlign),
		Position:   strings.TrimSpace(snap.Position),
		Left:       parseOffset(snap.Left),
		Top:        parseOffset(snap.Top),
	}
}
