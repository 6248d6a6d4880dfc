// Package pipeline wires the stages together: enumeration feeds discovery,
// discovery feeds collection, and collection results are merged,
// fingerprinted, resolved, and upserted. Stages run concurrently over
// bounded channels, so a slow store or network throttles the whole run
// instead of growing memory.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"assetscope/internal/collection"
	"assetscope/internal/collector"
	"assetscope/internal/config"
	"assetscope/internal/discovery"
	"assetscope/internal/domain"
	"assetscope/internal/enumerate"
	"assetscope/internal/fingerprint"
	"assetscope/internal/quality"
	"assetscope/internal/resolve"
	"assetscope/internal/store"
)

// Pipeline runs inventory passes against one configuration and store.
type Pipeline struct {
	cfg         *config.Config
	store       store.Store
	log         zerolog.Logger
	prober      discovery.Prober
	registry    *collector.Registry
	scorer      *quality.Scorer
	prioritizer *quality.Prioritizer
	engine      *fingerprint.Engine
	resolver    *resolve.Resolver
}

// Option overrides a default pipeline component.
type Option func(*Pipeline)

// WithProber substitutes the discovery prober.
func WithProber(p discovery.Prober) Option {
	return func(pl *Pipeline) { pl.prober = p }
}

// WithRegistry substitutes the collector registry.
func WithRegistry(r *collector.Registry) Option {
	return func(pl *Pipeline) { pl.registry = r }
}

// New assembles a pipeline from validated configuration.
func New(cfg *config.Config, st store.Store, log zerolog.Logger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:         cfg,
		store:       st,
		log:         log.With().Str("component", "pipeline").Logger(),
		scorer:      quality.NewScorer(cfg.Identity.Trust),
		prioritizer: quality.NewPrioritizer(),
		engine:      fingerprint.NewEngine(cfg.Identity.Weights),
	}
	p.resolver = resolve.New(st, cfg.Identity.Weights, resolve.Thresholds{
		MatchFloor:       cfg.Identity.MatchFloor,
		ExactThreshold:   cfg.Identity.ExactThreshold,
		AmbiguousCeiling: cfg.Identity.AmbiguousCeiling,
	}, log)

	for _, opt := range opts {
		opt(p)
	}

	if p.prober == nil {
		switch cfg.Discovery.Engine {
		case "nmap":
			p.prober = discovery.NewNmapProber(cfg.Discovery.Ports, cfg.Discovery.ProbeTimeout.Duration(), log)
		default:
			p.prober = discovery.NewTCPProber(cfg.Discovery.Ports, cfg.Discovery.ProbeTimeout.Duration(), log)
		}
	}

	if p.registry == nil {
		registry := collector.NewRegistry(log)
		for _, c := range []collector.Collector{
			collector.NewSSHCollector(log),
			collector.NewWMICollector(log),
			collector.NewSNMPCollector(log),
			collector.NewBannerCollector(log),
		} {
			if err := registry.Register(c); err != nil {
				return nil, fmt.Errorf("register collector: %w", err)
			}
		}
		p.registry = registry
	}

	return p, nil
}

// Run executes one inventory pass. Per-target failures never abort the
// run; only a malformed configuration or a broken store does. Cancelling
// ctx stops enumeration and lets in-flight workers drain through their
// timeouts; an upsert already started always completes.
func (p *Pipeline) Run(ctx context.Context) (*domain.RunSummary, error) {
	enum, err := enumerate.New(p.cfg.Targets)
	if err != nil {
		return nil, err
	}

	summary := &domain.RunSummary{
		PassID:     uuid.NewString(),
		Started:    time.Now(),
		Enumerated: enum.Count(),
	}

	p.log.Info().
		Str("pass_id", summary.PassID).
		Int("targets", summary.Enumerated).
		Str("engine", p.cfg.Discovery.Engine).
		Msg("starting inventory pass")

	targets := make(chan domain.Target)
	probes := make(chan domain.ProbeResult, p.cfg.Discovery.QueueSize)
	groups := make(chan domain.TargetObservations, p.cfg.Collection.QueueSize)

	discSched := discovery.NewScheduler(p.cfg.Discovery.Workers, p.prober, p.log)
	discSched.OnUnreachable = func(t domain.Target) { p.prioritizer.RecordFailure(t.Addr) }

	collSched := collection.NewScheduler(
		p.cfg.Collection.Workers,
		collection.Policy{
			Timeout:     p.cfg.Collection.Timeout.Duration(),
			MaxAttempts: p.cfg.Collection.MaxAttempts,
			BackoffBase: p.cfg.Collection.BackoffBase.Duration(),
			BackoffCap:  p.cfg.Collection.BackoffCap.Duration(),
		},
		p.registry,
		p.credentials(),
		p.log,
	)

	var wg sync.WaitGroup
	var discStats discovery.Stats
	var collStats collection.Stats

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(targets)
		p.feedTargets(ctx, enum, targets)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(probes)
		discStats = discSched.Run(ctx, targets, probes)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(groups)
		collStats = collSched.Run(ctx, probes, groups)
	}()

	for group := range groups {
		p.resolveGroup(ctx, group, summary)
	}

	wg.Wait()

	summary.Reachable = discStats.Reachable
	summary.Unreachable = discStats.Unreachable
	summary.Collected = collStats.Observations
	summary.Elapsed = time.Since(summary.Started)

	p.log.Info().
		Str("pass_id", summary.PassID).
		Int("reachable", summary.Reachable).
		Int("unreachable", summary.Unreachable).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("merged", summary.Merged).
		Int("flagged", summary.Flagged).
		Dur("elapsed", summary.Elapsed).
		Msg("inventory pass complete")

	return summary, ctx.Err()
}

// feedTargets streams the enumerator into the discovery pool. The first
// pass streams lazily in enumeration order; once the prioritizer has
// history, targets are materialized and reordered so fresh addresses are
// probed before persistently dead ones.
func (p *Pipeline) feedTargets(ctx context.Context, enum *enumerate.Enumerator, out chan<- domain.Target) {
	if !p.prioritizer.HasHistory() {
		for target := range enum.Targets(ctx) {
			select {
			case <-ctx.Done():
				return
			case out <- target:
			}
		}
		return
	}

	var all []domain.Target
	for target := range enum.Targets(ctx) {
		all = append(all, target)
	}
	for _, target := range p.prioritizer.Order(all) {
		select {
		case <-ctx.Done():
			return
		case out <- target:
		}
	}
}

// resolveGroup turns one target's observations into a store mutation.
func (p *Pipeline) resolveGroup(ctx context.Context, group domain.TargetObservations, summary *domain.RunSummary) {
	for _, failure := range group.Failures {
		summary.Errors = append(summary.Errors, failure.Reason)
	}

	merged, ok := p.scorer.Merge(group.Observations)
	if !ok {
		// Reachable but nothing collectable this pass.
		p.prioritizer.RecordFailure(group.Target)
		return
	}

	fp := p.engine.Build(merged, quality.Protocols(group.Observations))

	match, err := p.resolver.Resolve(ctx, fp)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("resolve %s: %v", group.Target, err))
		p.prioritizer.RecordFailure(group.Target)
		return
	}

	action := resolve.Decide(fp, match, summary.PassID)

	// A pass is cleanly stoppable between targets, never mid-upsert.
	if _, err := p.store.Upsert(context.WithoutCancel(ctx), action); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("upsert %s: %v", group.Target, err))
		p.prioritizer.RecordFailure(group.Target)
		return
	}

	switch action.Kind {
	case domain.ActionInsert:
		summary.Inserted++
	case domain.ActionUpdateExisting:
		summary.Updated++
	case domain.ActionMergeKeepNewest, domain.ActionMergeKeepOldest:
		summary.Merged++
	case domain.ActionFlagForReview:
		summary.Flagged++
	}

	p.prioritizer.RecordSuccess(group.Target)
}

// credentials adapts the config credential table for the collectors.
func (p *Pipeline) credentials() map[string]collector.Credential {
	creds := make(map[string]collector.Credential, len(p.cfg.Credentials))
	for protocol, c := range p.cfg.Credentials {
		creds[protocol] = collector.Credential{ID: c.ID, Data: c.Data}
	}
	return creds
}
