// Package discovery probes candidate targets for reachability and coarse
// service hints under a fixed-size worker pool.
package discovery

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"assetscope/internal/domain"
)

// Prober performs a single bounded reachability probe against one target.
type Prober interface {
	Probe(ctx context.Context, target domain.Target) domain.ProbeResult
}

// Stats counts probe outcomes for the run summary.
type Stats struct {
	Probed      int
	Reachable   int
	Unreachable int
}

// Scheduler runs the discovery worker pool.
type Scheduler struct {
	workers int
	prober  Prober
	log     zerolog.Logger

	// OnUnreachable, when set, is called for each dropped target so the
	// cross-pass prioritizer can track failure streaks.
	OnUnreachable func(domain.Target)
}

// NewScheduler creates a discovery scheduler with the given pool size.
func NewScheduler(workers int, prober Prober, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		workers: workers,
		prober:  prober,
		log:     log.With().Str("component", "discovery").Logger(),
	}
}

// Run consumes targets and emits probe results for reachable ones onto out.
// Unreachable targets are dropped from the pipeline, not an error; they are
// only counted. A full out channel blocks workers, which is the intended
// backpressure. Run returns after the input channel closes and every worker
// has drained; it does not close out.
func (s *Scheduler) Run(ctx context.Context, in <-chan domain.Target, out chan<- domain.ProbeResult) Stats {
	var probed, reachable, unreachable atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range in {
				select {
				case <-ctx.Done():
					return
				default:
				}

				result := s.prober.Probe(ctx, target)
				probed.Add(1)

				if !result.Reachable {
					unreachable.Add(1)
					if s.OnUnreachable != nil {
						s.OnUnreachable(target)
					}
					s.log.Debug().Str("addr", target.Addr).Msg("target unreachable")
					continue
				}

				reachable.Add(1)
				s.log.Debug().
					Str("addr", target.Addr).
					Ints("open_ports", result.OpenPorts).
					Dur("rtt", result.RTT).
					Msg("target alive")

				select {
				case <-ctx.Done():
					return
				case out <- result:
				}
			}
		}()
	}

	wg.Wait()

	stats := Stats{
		Probed:      int(probed.Load()),
		Reachable:   int(reachable.Load()),
		Unreachable: int(unreachable.Load()),
	}
	s.log.Info().
		Int("probed", stats.Probed).
		Int("reachable", stats.Reachable).
		Int("unreachable", stats.Unreachable).
		Msg("discovery pass complete")

	return stats
}
