package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// ErrUnsupportedImage means the bytes are not an image format the pipeline
// recognizes.
var ErrUnsupportedImage = errors.New("unsupported image format")

// Image formats the canvas host renders without help.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatGIF  = "gif"
	FormatSVG  = "svg"
	FormatWebP = "webp"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

// DetectFormat sniffs the format from the leading bytes.
func DetectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	case looksLikeSVG(data):
		return FormatSVG
	default:
		return ""
	}
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
	return bytes.HasPrefix(trimmed, []byte("<svg")) ||
		(bytes.HasPrefix(trimmed, []byte("<?xml")) && bytes.Contains(head, []byte("<svg")))
}

// EnsureCompatible returns bytes the canvas host can place directly. Formats
// the host renders natively pass through; webp, bmp and tiff are re-encoded
// as PNG. Unknown bytes are rejected.
func EnsureCompatible(data []byte) ([]byte, error) {
	switch format := DetectFormat(data); format {
	case FormatPNG, FormatJPEG, FormatGIF, FormatSVG:
		return data, nil
	case FormatWebP:
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding webp: %w", err)
		}
		return encodePNG(img)
	case FormatBMP:
		img, err := bmp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding bmp: %w", err)
		}
		return encodePNG(img)
	case FormatTIFF:
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding tiff: %w", err)
		}
		return encodePNG(img)
	default:
		return nil, ErrUnsupportedImage
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// SVGDimensions reads the intrinsic size of an SVG document from its width
// and height attributes, falling back to the viewBox.
func SVGDimensions(data []byte) (width, height float64, err error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return 0, 0, fmt.Errorf("parsing svg: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "svg" {
		return 0, 0, fmt.Errorf("parsing svg: no svg root element")
	}

	width = svgLength(root.SelectAttrValue("width", ""))
	height = svgLength(root.SelectAttrValue("height", ""))
	if width > 0 && height > 0 {
		return width, height, nil
	}

	viewBox := strings.Fields(strings.ReplaceAll(root.SelectAttrValue("viewBox", ""), ",", " "))
	if len(viewBox) == 4 {
		w, werr := strconv.ParseFloat(viewBox[2], 64)
		h, herr := strconv.ParseFloat(viewBox[3], 64)
		if werr == nil && herr == nil && w > 0 && h > 0 {
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("parsing svg: no usable dimensions")
}

// svgLength parses a length attribute, tolerating a px suffix. Percentages
// and other units have no intrinsic pixel value and yield zero.
func svgLength(v string) float64 {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if v == "" || strings.HasSuffix(v, "%") {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
