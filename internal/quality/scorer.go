// Package quality ranks observations and merges the per-target set into a
// single attribute view, and orders targets across passes.
package quality

import (
	"sort"

	"assetscope/internal/domain"
)

// Scorer ranks observations by completeness and protocol trust.
type Scorer struct {
	trust map[string]float64
}

// NewScorer creates a scorer with the given protocol trust weights.
// Unknown protocols get a neutral 0.5.
func NewScorer(trust map[string]float64) *Scorer {
	return &Scorer{trust: trust}
}

// Rank computes the quality score of one observation.
func (s *Scorer) Rank(o domain.Observation) float64 {
	trust, ok := s.trust[o.Protocol]
	if !ok {
		trust = 0.5
	}
	return o.Completeness * trust
}

// Merge folds a target's observations into one merged observation. The
// highest-ranked observation is primary; lower-ranked ones only fill fields
// the primary lacks, never overwrite. The result is a pure function of the
// observation set: ties on rank fall back to recency and then protocol
// name, so arrival order is irrelevant.
func (s *Scorer) Merge(observations []domain.Observation) (domain.Observation, bool) {
	if len(observations) == 0 {
		return domain.Observation{}, false
	}

	ranked := append([]domain.Observation(nil), observations...)
	sort.Slice(ranked, func(i, j int) bool {
		ri, rj := s.Rank(ranked[i]), s.Rank(ranked[j])
		if ri != rj {
			return ri > rj
		}
		if !ranked[i].Taken.Equal(ranked[j].Taken) {
			return ranked[i].Taken.After(ranked[j].Taken)
		}
		return ranked[i].Protocol < ranked[j].Protocol
	})

	primary := ranked[0]
	merged := domain.Observation{
		Target:       primary.Target,
		Protocol:     primary.Protocol,
		Taken:        primary.Taken,
		Completeness: primary.Completeness,
		Attributes:   make(map[string]domain.AttrValue, len(primary.Attributes)),
	}
	for k, v := range primary.Attributes {
		merged.Attributes[k] = v
	}

	for _, secondary := range ranked[1:] {
		for k, v := range secondary.Attributes {
			if v.IsZero() {
				continue
			}
			if existing, ok := merged.Attributes[k]; ok && !existing.IsZero() {
				continue
			}
			merged.Attributes[k] = v
		}
	}

	return merged, true
}

// Protocols lists the protocols behind a merged set, sorted.
func Protocols(observations []domain.Observation) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, o := range observations {
		if _, ok := seen[o.Protocol]; ok {
			continue
		}
		seen[o.Protocol] = struct{}{}
		out = append(out, o.Protocol)
	}
	sort.Strings(out)
	return out
}
