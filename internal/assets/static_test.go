package assets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/pagelift/internal/assets"
)

func TestStaticResolverServesKnownURLs(t *testing.T) {
	static := assets.NewStaticResolver(map[string][]byte{
		"https://site.test/hero.png": []byte("hero-bytes"),
	})

	data, err := static.Resolve(context.Background(), "https://site.test/hero.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("hero-bytes"), data)

	_, err = static.Resolve(context.Background(), "https://site.test/other.png")
	assert.ErrorIs(t, err, assets.ErrAssetMissing)
}

func TestStaticResolverToleratesNilMap(t *testing.T) {
	static := assets.NewStaticResolver(nil)
	_, err := static.Resolve(context.Background(), "https://site.test/x.png")
	assert.ErrorIs(t, err, assets.ErrAssetMissing)
}

func TestChainPrefersEarlierResolvers(t *testing.T) {
	first := assets.NewStaticResolver(map[string][]byte{
		"https://site.test/a.png": []byte("from-first"),
	})
	second := assets.NewStaticResolver(map[string][]byte{
		"https://site.test/a.png": []byte("from-second"),
		"https://site.test/b.png": []byte("only-second"),
	})
	chain := assets.Chain(first, second)

	data, err := chain.Resolve(context.Background(), "https://site.test/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-first"), data)

	data, err = chain.Resolve(context.Background(), "https://site.test/b.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("only-second"), data)
}

func TestChainJoinsMissErrors(t *testing.T) {
	sentinel := errors.New("network exploded")
	failing := resolverFunc(func(ctx context.Context, rawURL string) ([]byte, error) {
		return nil, sentinel
	})
	chain := assets.Chain(assets.NewStaticResolver(nil), failing)

	_, err := chain.Resolve(context.Background(), "https://site.test/missing.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, assets.ErrAssetMissing)
	assert.ErrorIs(t, err, sentinel)
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := assets.Chain(assets.NewStaticResolver(nil))
	_, err := chain.Resolve(ctx, "https://site.test/x.png")
	assert.ErrorIs(t, err, context.Canceled)
}
