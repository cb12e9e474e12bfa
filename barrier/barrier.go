// Package barrier provides a reusable two-party rendezvous.
package barrier

import "context"

// Barrier releases two parties once both have called Wait. It is reusable:
// every pair of Wait calls forms one crossing.
type Barrier struct {
	ch       chan struct{}
	crossing func()
}

// New returns a two-party barrier
func New() *Barrier {
	return &Barrier{ch: make(chan struct{})}
}

// OnCrossing registers fn to run once per completed crossing. It must be
// called before the barrier is shared.
func (b *Barrier) OnCrossing(fn func()) {
	b.crossing = fn
}

// Wait blocks until the other party arrives or ctx is done. The first
// arrival parks on the channel and the second one completes the exchange.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case b.ch <- struct{}{}:
		if b.crossing != nil {
			b.crossing()
		}
		return nil
	case <-b.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
