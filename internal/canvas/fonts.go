package canvas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrFontUnavailable is returned when neither the requested font nor any
// fallback candidate can be loaded.
var ErrFontUnavailable = errors.New("font unavailable")

// FontName identifies a loadable font face.
type FontName struct {
	Family string `json:"family"`
	Style  string `json:"style"`
}

// FontNameFor derives a font face from a CSS font-family list and a numeric
// weight. Only the first family in the list is considered; quotes are
// stripped.
func FontNameFor(family string, weight float64) FontName {
	first := family
	if idx := strings.IndexByte(first, ','); idx >= 0 {
		first = first[:idx]
	}
	first = strings.Trim(strings.TrimSpace(first), `"'`)
	return FontName{Family: first, Style: styleForWeight(weight)}
}

func styleForWeight(weight float64) string {
	switch {
	case weight >= 700:
		return "Bold"
	case weight >= 500:
		return "Medium"
	default:
		return "Regular"
	}
}

// FontSource loads font faces into the host.
type FontSource interface {
	Load(ctx context.Context, name FontName) error
}

// StaticFontSource serves a fixed catalog of faces.
type StaticFontSource struct {
	catalog map[FontName]struct{}
}

// NewStaticFontSource builds a source holding exactly the given faces.
func NewStaticFontSource(names ...FontName) *StaticFontSource {
	s := &StaticFontSource{catalog: make(map[FontName]struct{}, len(names))}
	for _, n := range names {
		s.catalog[n] = struct{}{}
	}
	return s
}

// DefaultFontSource covers the families commonly seen in captured pages,
// each in Regular, Medium and Bold.
func DefaultFontSource() *StaticFontSource {
	families := []string{
		"Inter", "Roboto", "Open Sans", "Arial", "Helvetica",
		"Georgia", "Times New Roman", "Courier New", "Verdana",
	}
	names := make([]FontName, 0, len(families)*3)
	for _, fam := range families {
		for _, style := range []string{"Regular", "Medium", "Bold"} {
			names = append(names, FontName{Family: fam, Style: style})
		}
	}
	return NewStaticFontSource(names...)
}

// Load reports whether the face exists in the catalog.
func (s *StaticFontSource) Load(_ context.Context, name FontName) error {
	if _, ok := s.catalog[name]; !ok {
		return fmt.Errorf("%w: %s %s", ErrFontUnavailable, name.Family, name.Style)
	}
	return nil
}

// FontRegistry tracks which faces are loaded and hands out scoped leases.
// Text nodes must hold a lease before their characters are written.
type FontRegistry struct {
	mu       sync.Mutex
	source   FontSource
	fallback FontName
	loaded   map[FontName]int
}

// NewFontRegistry wraps a source with reference counting. A nil source uses
// the default catalog; a zero fallback defaults to Inter Regular.
func NewFontRegistry(source FontSource, fallback FontName) *FontRegistry {
	if source == nil {
		source = DefaultFontSource()
	}
	if fallback.Family == "" {
		fallback.Family = "Inter"
	}
	if fallback.Style == "" {
		fallback.Style = "Regular"
	}
	return &FontRegistry{
		source:   source,
		fallback: fallback,
		loaded:   make(map[FontName]int),
	}
}

// Acquire loads the closest available face and returns it with a release
// function. Candidates degrade from the exact request through its Regular
// style to the fallback family before giving up.
func (r *FontRegistry) Acquire(ctx context.Context, name FontName) (FontName, func(), error) {
	candidates := []FontName{
		name,
		{Family: name.Family, Style: "Regular"},
		{Family: r.fallback.Family, Style: name.Style},
		r.fallback,
	}
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return FontName{}, nil, ctx.Err()
		}
		if candidate.Family == "" {
			continue
		}
		if err := r.source.Load(ctx, candidate); err != nil {
			continue
		}
		r.mu.Lock()
		r.loaded[candidate]++
		r.mu.Unlock()
		return candidate, r.releaseFunc(candidate), nil
	}
	return FontName{}, nil, fmt.Errorf("acquiring font %s %s: %w", name.Family, name.Style, ErrFontUnavailable)
}

func (r *FontRegistry) releaseFunc(name FontName) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.loaded[name] <= 1 {
				delete(r.loaded, name)
				return
			}
			r.loaded[name]--
		})
	}
}

// RefCount reports how many leases are outstanding for a face.
func (r *FontRegistry) RefCount(name FontName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded[name]
}
