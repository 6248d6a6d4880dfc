// Package collection runs protocol collectors against alive targets under a
// bounded worker pool with a single, centralized retry policy.
package collection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"assetscope/internal/collector"
	"assetscope/internal/domain"
)

// Policy is the uniform retry/backoff behavior applied to every collector.
// Collectors never retry internally; that keeps backoff testable in one
// place instead of re-implemented per protocol.
type Policy struct {
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Backoff returns the delay before the given retry. attempt is 1-based:
// the delay after the first failed attempt is Backoff(1).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.BackoffBase << (attempt - 1)
	if delay > p.BackoffCap || delay <= 0 {
		return p.BackoffCap
	}
	return delay
}

// Stats counts collection outcomes for the run summary.
type Stats struct {
	Targets      int
	Observations int
	Failures     int
}

// Scheduler is the collection worker pool.
type Scheduler struct {
	workers  int
	policy   Policy
	registry *collector.Registry
	creds    map[string]collector.Credential
	log      zerolog.Logger
}

// NewScheduler creates a collection scheduler. creds maps protocol names to
// the opaque credential each collector receives.
func NewScheduler(workers int, policy Policy, registry *collector.Registry, creds map[string]collector.Credential, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		workers:  workers,
		policy:   policy,
		registry: registry,
		creds:    creds,
		log:      log.With().Str("component", "collection").Logger(),
	}
}

// Run consumes probe results and emits one observation group per target,
// including empty groups so downstream accounting sees targets whose every
// collector failed. Run returns after in closes and all workers drain; it
// does not close out.
func (s *Scheduler) Run(ctx context.Context, in <-chan domain.ProbeResult, out chan<- domain.TargetObservations) Stats {
	var targets, observations, failures atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for probe := range in {
				select {
				case <-ctx.Done():
					return
				default:
				}

				group := s.collectTarget(ctx, probe)
				targets.Add(1)
				observations.Add(int64(len(group.Observations)))
				failures.Add(int64(len(group.Failures)))

				select {
				case <-ctx.Done():
					return
				case out <- group:
				}
			}
		}()
	}

	wg.Wait()

	stats := Stats{
		Targets:      int(targets.Load()),
		Observations: int(observations.Load()),
		Failures:     int(failures.Load()),
	}
	s.log.Info().
		Int("targets", stats.Targets).
		Int("observations", stats.Observations).
		Int("failures", stats.Failures).
		Msg("collection pass complete")

	return stats
}

// collectTarget tries every candidate collector for one target. Collectors
// are selected by the probe's open-port hints; several may succeed, and all
// successes travel together so downstream merging sees the full set.
func (s *Scheduler) collectTarget(ctx context.Context, probe domain.ProbeResult) domain.TargetObservations {
	target := probe.Target
	target.KnownPorts = probe.OpenPorts
	target.LastRTT = probe.RTT

	group := domain.TargetObservations{
		Target: target.Addr,
		Probe:  probe,
	}

	for _, c := range s.registry.ForPorts(probe.OpenPorts) {
		obs, err := s.collectWithRetry(ctx, c, target)
		if err != nil {
			group.Failures = append(group.Failures, domain.CollectionFailure{
				Target:   target.Addr,
				Protocol: c.Name(),
				Terminal: !domain.IsRetryable(err),
				Reason:   err.Error(),
			})
			continue
		}
		group.Observations = append(group.Observations, *obs)
	}

	return group
}

// collectWithRetry applies the retry policy to one collector invocation.
// Transient failures are retried up to MaxAttempts total attempts with
// exponential backoff; terminal failures are recorded once and returned
// immediately.
func (s *Scheduler) collectWithRetry(ctx context.Context, c collector.Collector, target domain.Target) (*domain.Observation, error) {
	cred := s.creds[c.Name()]

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		obs, err := c.Collect(ctx, target, cred, s.policy.Timeout)
		if err == nil {
			if attempt > 1 {
				s.log.Debug().
					Str("addr", target.Addr).
					Str("collector", c.Name()).
					Int("attempt", attempt).
					Msg("collection succeeded after retry")
			}
			return obs, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			s.log.Debug().
				Str("addr", target.Addr).
				Str("collector", c.Name()).
				Err(err).
				Msg("terminal collection failure")
			return nil, err
		}
		if attempt == s.policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(s.policy.Backoff(attempt)):
		}
	}

	return nil, lastErr
}
