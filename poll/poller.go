// Package poll runs a fetch on a jittered interval and applies only the
// newest completed result.
package poll

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultInterval replaces a zero or negative Interval.
const DefaultInterval = 5 * time.Second

// Poller fetches immediately and then every Interval plus up to Jitter.
// Requests may overlap; a response is dropped when a request issued after
// it has already been applied.
type Poller[T any] struct {
	Interval time.Duration
	Jitter   time.Duration
	Timeout  time.Duration

	Fetch    func(ctx context.Context) (T, error)
	OnResult func(T)
	// OnError gets the failure count since the last applied result.
	OnError func(err error, consecutive int)

	mu          sync.Mutex
	issued      uint64
	applied     uint64
	consecutive int
}

// Run blocks until ctx is done and in-flight requests have returned.
func (p *Poller[T]) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		p.mu.Lock()
		p.issued++
		seq := p.issued
		p.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.fetch(ctx, seq)
		}()
		timer.Reset(p.next())
	}
}

func (p *Poller[T]) next() time.Duration {
	d := p.Interval
	if d <= 0 {
		d = DefaultInterval
	}
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

func (p *Poller[T]) fetch(ctx context.Context, seq uint64) {
	fctx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	v, err := p.Fetch(fctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.applied {
		return
	}
	if err != nil {
		p.consecutive++
		if p.OnError != nil {
			p.OnError(err, p.consecutive)
		}
		return
	}
	p.applied = seq
	p.consecutive = 0
	if p.OnResult != nil {
		p.OnResult(v)
	}
}
