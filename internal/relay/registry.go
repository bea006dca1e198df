// Package relay correlates image requests sent across the plugin bridge with
// the replies that eventually come back. Each live build session owns one
// registry; its lifetime ends with the session.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
	"github.com/pagelift/pagelift/internal/assets"
)

// DefaultTimeout bounds how long a requester waits for the peer to answer.
const DefaultTimeout = 5 * time.Second

// SendFunc pushes an envelope to the peer.
type SendFunc func(env schemas.Envelope) error

// Registry issues correlation ids for outbound fetch-image requests and
// routes image-data replies back to the waiting requester. It satisfies
// assets.Resolver, so a build can treat the peer as just another asset
// source.
type Registry struct {
	send    SendFunc
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]chan []byte
}

// NewRegistry builds a registry that relays requests through send. A zero or
// negative timeout falls back to DefaultTimeout.
func NewRegistry(send SendFunc, timeout time.Duration, log *zap.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		send:    send,
		timeout: timeout,
		log:     log.Named("relay"),
		pending: make(map[string]chan []byte),
	}
}

// Resolve asks the peer for the asset behind rawURL and waits for the
// correlated reply. A timeout, a cancelled context, or an explicit empty
// reply all surface as errors; the caller degrades to no image.
func (r *Registry) Resolve(ctx context.Context, rawURL string) ([]byte, error) {
	id := uuid.NewString()
	ch := make(chan []byte, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer r.forget(id)

	if err := r.send(schemas.NewFetchImageMessage(rawURL, id)); err != nil {
		return nil, fmt.Errorf("relaying image request: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		r.log.Debug("Image relay timed out", zap.String("id", id), zap.String("url", rawURL))
		return nil, fmt.Errorf("awaiting image reply for %s: %w", rawURL, context.DeadlineExceeded)
	case data := <-ch:
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: peer could not fetch %s", assets.ErrAssetMissing, rawURL)
		}
		return data, nil
	}
}

// Deliver hands a reply to the requester registered under id. Replies for
// unknown or already-expired ids are dropped and reported false.
func (r *Registry) Deliver(id string, data []byte) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Debug("Dropping reply with no waiting requester", zap.String("id", id))
		return false
	}
	ch <- data
	return true
}

// forget releases the correlation entry, whether or not it was answered.
func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Len reports how many requests are still awaiting replies.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
