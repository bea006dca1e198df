package canvas

import (
	"crypto/sha1"
	"encoding/hex"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document is the root of a reconstruction: top-level nodes, the registered
// image bytes they reference, and the node the viewport should focus.
type Document struct {
	Name     string            `json:"name"`
	Children []Node            `json:"children,omitempty"`
	Images   map[string][]byte `json:"images,omitempty"`
	FocusID  string            `json:"focusId,omitempty"`
}

// NewDocument creates an empty document.
func NewDocument(name string) *Document {
	return &Document{Name: name, Images: make(map[string][]byte)}
}

// AppendChild attaches a top-level node.
func (d *Document) AppendChild(n Node) {
	d.Children = append(d.Children, n)
}

// RegisterImage stores image bytes and returns their content-addressed
// reference. Registering the same bytes twice yields the same reference.
func (d *Document) RegisterImage(data []byte) string {
	sum := sha1.Sum(data)
	ref := hex.EncodeToString(sum[:])
	if _, ok := d.Images[ref]; !ok {
		d.Images[ref] = data
	}
	return ref
}

// Image returns the bytes behind a reference.
func (d *Document) Image(ref string) ([]byte, bool) {
	data, ok := d.Images[ref]
	return data, ok
}

// Focus records the node the viewport should scroll to.
func (d *Document) Focus(n Node) {
	if n == nil {
		return
	}
	d.FocusID = n.Base().ID
}

// NodeCount reports how many nodes the document holds, frames included.
func (d *Document) NodeCount() int {
	total := 0
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			total++
			if frame, ok := n.(*FrameNode); ok {
				walk(frame.Children)
			}
		}
	}
	walk(d.Children)
	return total
}

// ExportJSON serializes the document, image bytes included, for archival or
// interchange with the editor plugin.
func (d *Document) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
