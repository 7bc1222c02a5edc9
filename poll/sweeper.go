package poll

import (
	"context"
	"time"
)

// PeriodicTickerChannelCreator lets tests drive sweep ticks by hand.
type PeriodicTickerChannelCreator interface {
	Create(duration time.Duration) <-chan time.Time
}

// Sweeper walks every live session on a fixed cadence and expires overdue
// questions. Expire is a no-op on sessions with nothing to do, so the sweep
// runs unconditionally and stays cheap.
type Sweeper struct {
	store    *Store
	service  *Service
	interval time.Duration
	tickers  PeriodicTickerChannelCreator
}

func NewSweeper(store *Store, service *Service, interval time.Duration, tickers PeriodicTickerChannelCreator) *Sweeper {
	return &Sweeper{
		store:    store,
		service:  service,
		interval: interval,
		tickers:  tickers,
	}
}

func (sw *Sweeper) Run(ctx context.Context, started chan struct{}) {
	ticks := sw.tickers.Create(sw.interval)
	close(started)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			sw.sweep()
		}
	}
}

// sweep snapshots the live codes first. Expire goes back into the store, so
// calling it inside ForEach would re-enter the store lock and wedge against a
// concurrent Create.
func (sw *Sweeper) sweep() {
	codes := make([]string, 0, sw.store.Len())
	sw.store.ForEach(func(code string, _ *Session) {
		codes = append(codes, code)
	})
	for _, code := range codes {
		sw.service.Expire(code)
	}
}
