package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/assets"
	"github.com/pagelift/pagelift/internal/relay"
)

// capturingSend records outbound envelopes so tests can answer them.
type capturingSend struct {
	mu   sync.Mutex
	sent []schemas.Envelope
}

func (c *capturingSend) send(env schemas.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *capturingSend) last(t *testing.T) schemas.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1]
}

func TestResolveRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		registry *relay.Registry
		outbound = &capturingSend{}
	)
	// Answer each request as soon as it is sent, like a responsive peer.
	registry = relay.NewRegistry(func(env schemas.Envelope) error {
		require.Equal(t, schemas.MessageFetchImage, env.Type)
		require.NotEmpty(t, env.ID)
		_ = outbound.send(env)
		go registry.Deliver(env.ID, []byte("image-bytes"))
		return nil
	}, time.Second, zap.NewNop())

	data, err := registry.Resolve(context.Background(), "https://site.test/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
	assert.Equal(t, "https://site.test/a.png", outbound.last(t).URL)
	assert.Zero(t, registry.Len(), "completed requests leave no correlation state")
}

func TestResolveTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := relay.NewRegistry(func(schemas.Envelope) error { return nil }, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, err := registry.Resolve(context.Background(), "https://site.test/slow.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, registry.Len(), "timed out requests leave no correlation state")
}

func TestResolveHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := relay.NewRegistry(func(schemas.Envelope) error { return nil }, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := registry.Resolve(ctx, "https://site.test/a.png")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, registry.Len())
}

func TestResolveEmptyReplyMeansMissing(t *testing.T) {
	defer goleak.VerifyNone(t)

	var registry *relay.Registry
	registry = relay.NewRegistry(func(env schemas.Envelope) error {
		go registry.Deliver(env.ID, nil)
		return nil
	}, time.Second, zap.NewNop())

	_, err := registry.Resolve(context.Background(), "https://site.test/broken.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, assets.ErrAssetMissing)
}

func TestResolveSendFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("socket closed")
	registry := relay.NewRegistry(func(schemas.Envelope) error { return boom }, time.Second, zap.NewNop())

	_, err := registry.Resolve(context.Background(), "https://site.test/a.png")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, registry.Len())
}

func TestDeliverUnknownIDIsDropped(t *testing.T) {
	registry := relay.NewRegistry(func(schemas.Envelope) error { return nil }, time.Second, zap.NewNop())
	assert.False(t, registry.Deliver("never-issued", []byte("late")))
}

func TestConcurrentResolvesKeepIsolatedReplies(t *testing.T) {
	defer goleak.VerifyNone(t)

	var registry *relay.Registry
	registry = relay.NewRegistry(func(env schemas.Envelope) error {
		// Echo the URL back as the payload so crossed wires are detectable.
		go registry.Deliver(env.ID, []byte(env.URL))
		return nil
	}, time.Second, zap.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			url := string(rune('a'+n)) + ".png"
			data, err := registry.Resolve(context.Background(), url)
			assert.NoError(t, err)
			assert.Equal(t, []byte(url), data)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, registry.Len())
}
