package assets

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagelift/pagelift/api/schemas"
)

// StaticResolver serves assets from a fixed in-memory map, keyed by URL.
// Harvested capture assets are replayed through one of these so a build can
// avoid refetching bytes the browser already downloaded.
type StaticResolver struct {
	entries map[string][]byte
}

// NewStaticResolver wraps an existing map. A nil map yields a resolver that
// misses on every URL.
func NewStaticResolver(entries map[string][]byte) *StaticResolver {
	if entries == nil {
		entries = make(map[string][]byte)
	}
	return &StaticResolver{entries: entries}
}

// NewHarvestResolver replays the assets recorded during a capture.
func NewHarvestResolver(harvest map[string]schemas.HarvestedAsset) *StaticResolver {
	entries := make(map[string][]byte, len(harvest))
	for url, asset := range harvest {
		entries[url] = asset.Data
	}
	return NewStaticResolver(entries)
}

// Resolve returns the stored bytes or ErrAssetMissing.
func (s *StaticResolver) Resolve(_ context.Context, rawURL string) ([]byte, error) {
	data, ok := s.entries[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetMissing, rawURL)
	}
	return data, nil
}

// chainResolver tries each resolver in order.
type chainResolver struct {
	resolvers []Resolver
}

// Chain composes resolvers into a fallback sequence: the first success wins,
// and the errors of a full miss are joined.
func Chain(resolvers ...Resolver) Resolver {
	return &chainResolver{resolvers: resolvers}
}

func (c *chainResolver) Resolve(ctx context.Context, rawURL string) ([]byte, error) {
	var errs []error
	for _, r := range c.resolvers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		data, err := r.Resolve(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAssetMissing, rawURL)
	}
	return nil, errors.Join(errs...)
}
