package channel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"leech/peer"
)

// DialAll connects to peers concurrently and returns the channels whose
// handshake succeeded, at most maxPeers of them. A peer that fails is
// logged and skipped. dialRate limits new connections per second; 0 means
// no limit.
func DialAll(ctx context.Context, peers []peer.Peer, infoHash [20]byte, maxPeers int, dialRate float64, opts Options) []*Channel {
	if maxPeers <= 0 {
		maxPeers = len(peers)
	}
	limit := rate.Inf
	if dialRate > 0 {
		limit = rate.Limit(dialRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPeers)

	var (
		mu       sync.Mutex
		channels []*Channel
	)
	full := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(channels) >= maxPeers
	}

	for _, p := range peers {
		if full() || ctx.Err() != nil {
			break
		}
		p := p
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			ch, err := New(ctx, p, infoHash, opts)
			if err != nil {
				opts.Log.Debug().Err(err).Str("peer", p.String()).Msg("Could not handshake. Disconnecting...")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if len(channels) >= maxPeers {
				ch.Close()
				return nil
			}
			channels = append(channels, ch)
			opts.Log.Info().Str("peer", p.String()).Int("pieces", ch.Bitfield().Count(opts.NumPieces)).Msg("Completed handshake")
			if len(channels) >= maxPeers {
				cancel()
			}
			return nil
		})
	}
	g.Wait()
	return channels
}
