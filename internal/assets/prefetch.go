package assets

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pagelift/pagelift/api/schemas"
)

// ImageURLs walks a portable tree and returns the distinct image source URLs
// in first-seen order.
func ImageURLs(root *schemas.IRNode) []string {
	if root == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var urls []string
	root.Walk(func(n *schemas.IRNode) {
		if n.Type != schemas.NodeTypeImage || n.Src == "" {
			return
		}
		if _, ok := seen[n.Src]; ok {
			return
		}
		seen[n.Src] = struct{}{}
		urls = append(urls, n.Src)
	})
	return urls
}

// Prefetcher warms a resolver with every image a tree references before the
// build walks it, so per-node fetches hit cache instead of the network.
type Prefetcher struct {
	resolver Resolver
	log      *zap.Logger
	workers  int
}

// NewPrefetcher builds a prefetcher with the given worker count.
func NewPrefetcher(resolver Resolver, workers int, log *zap.Logger) *Prefetcher {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Prefetcher{
		resolver: resolver,
		log:      log.Named("prefetch"),
		workers:  workers,
	}
}

// Warm fetches every image URL in the tree and reports how many resolved.
// Individual failures are logged and skipped; cancellation stops the sweep.
func (p *Prefetcher) Warm(ctx context.Context, root *schemas.IRNode) int {
	urls := ImageURLs(root)
	if len(urls) == 0 {
		return 0
	}

	jobs := make(chan string)
	var (
		wg      sync.WaitGroup
		fetched atomic.Int64
	)

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log := p.log.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-jobs:
					if !ok {
						return
					}
					if _, err := p.resolver.Resolve(ctx, u); err != nil {
						log.Debug("Prefetch miss", zap.String("url", u), zap.Error(err))
						continue
					}
					fetched.Add(1)
				}
			}
		}(i + 1)
	}

feed:
	for _, u := range urls {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- u:
		}
	}
	close(jobs)
	wg.Wait()

	p.log.Debug("Prefetch sweep finished",
		zap.Int("requested", len(urls)),
		zap.Int64("fetched", fetched.Load()))
	return int(fetched.Load())
}
