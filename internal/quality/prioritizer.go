package quality

import (
	"sort"
	"sync"

	"assetscope/internal/domain"
)

// Prioritizer orders targets across passes. Targets with no failure history
// go first, recent one-off failures next, and targets that keep failing
// last, so a pass does not burn its worker pool on dead addresses before
// reaching fresh ones.
type Prioritizer struct {
	mu      sync.Mutex
	streaks map[string]int
}

// NewPrioritizer creates an empty priority tracker.
func NewPrioritizer() *Prioritizer {
	return &Prioritizer{streaks: make(map[string]int)}
}

// RecordSuccess clears a target's failure streak.
func (p *Prioritizer) RecordSuccess(addr string) {
	p.mu.Lock()
	delete(p.streaks, addr)
	p.mu.Unlock()
}

// RecordFailure bumps a target's failure streak.
func (p *Prioritizer) RecordFailure(addr string) {
	p.mu.Lock()
	p.streaks[addr]++
	p.mu.Unlock()
}

// HasHistory reports whether any pass has recorded outcomes yet.
func (p *Prioritizer) HasHistory() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streaks) > 0
}

// streak buckets: fresh targets, occasional failures, persistent failures.
const persistentFailureStreak = 3

func bucket(streak int) int {
	switch {
	case streak == 0:
		return 0
	case streak < persistentFailureStreak:
		return 1
	default:
		return 2
	}
}

// Order sorts targets by failure bucket, preserving the enumerator's
// deterministic order inside each bucket.
func (p *Prioritizer) Order(targets []domain.Target) []domain.Target {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := append([]domain.Target(nil), targets...)
	sort.SliceStable(out, func(i, j int) bool {
		return bucket(p.streaks[out[i].Addr]) < bucket(p.streaks[out[j].Addr])
	})
	return out
}
