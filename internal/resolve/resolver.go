// Package resolve matches fingerprints against the device store and decides
// what each new observation means: a duplicate, an upgrade, a transfer, a
// network move, a brand-new device, or something a human has to look at.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"assetscope/internal/config"
	"assetscope/internal/domain"
)

// Store is the read side of the persistence adapter the resolver needs.
type Store interface {
	// LookupCandidates returns records matching any populated identity key
	// exactly, via the store's indexes. It never scans the full table.
	LookupCandidates(ctx context.Context, keys domain.IdentityKeys) ([]domain.DeviceRecord, error)
}

// Thresholds are the named confidence boundaries. They come from
// configuration because tuning them is expected operational work.
type Thresholds struct {
	// MatchFloor: below it the fingerprint is a new device.
	MatchFloor float64
	// ExactThreshold: at or above it, with all keys agreeing, the match is
	// an exact duplicate.
	ExactThreshold float64
	// AmbiguousCeiling: matches below it with conflicting fields go to
	// manual review.
	AmbiguousCeiling float64
}

// Resolver implements duplicate detection and match classification.
type Resolver struct {
	store      Store
	weights    config.Weights
	thresholds Thresholds
	log        zerolog.Logger
}

// New creates a resolver.
func New(store Store, weights config.Weights, thresholds Thresholds, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		weights:    weights,
		thresholds: thresholds,
		log:        log.With().Str("component", "resolver").Logger(),
	}
}

// confidenceEpsilon separates a genuine tie from floating point noise.
const confidenceEpsilon = 1e-9

// Resolve compares a fingerprint against the store and returns the match
// result. It never mutates anything; deletion in particular is an explicit
// administrative operation elsewhere, not a resolution outcome.
func (r *Resolver) Resolve(ctx context.Context, fp domain.Fingerprint) (domain.MatchResult, error) {
	if fp.Keys.Empty() {
		// Nothing to match on; treat as new and let review sort it out
		// if it ever collides.
		return domain.MatchResult{Type: domain.MatchNewDevice}, nil
	}

	candidates, err := r.store.LookupCandidates(ctx, fp.Keys)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("candidate lookup: %w", err)
	}

	scored := r.scoreCandidates(fp, candidates)
	if len(scored) == 0 || scored[0].score.Confidence < r.thresholds.MatchFloor {
		return domain.MatchResult{Type: domain.MatchNewDevice}, nil
	}

	best := scored[0]

	// Exact tie between distinct records: never guess a winner.
	if len(scored) > 1 && scored[1].score.Confidence >= r.thresholds.MatchFloor &&
		best.score.Confidence-scored[1].score.Confidence < confidenceEpsilon {
		r.log.Warn().
			Str("a", best.record.ID).
			Str("b", scored[1].record.ID).
			Float64("confidence", best.score.Confidence).
			Msg("confidence tie, routing to review")
		return domain.MatchResult{
			Type:       domain.MatchAmbiguous,
			Confidence: best.score.Confidence,
			DeviceID:   best.record.ID,
			Record:     &best.record,
			Candidates: scoresOf(scored),
			Conflicts:  conflicts(fp, best.record),
		}, nil
	}

	return r.classify(fp, best, scoresOf(scored)), nil
}

type scoredCandidate struct {
	record domain.DeviceRecord
	score  domain.CandidateScore
}

// scoreCandidates computes each candidate's confidence as the sum of
// weights of the identity keys that match exactly, best first.
func (r *Resolver) scoreCandidates(fp domain.Fingerprint, candidates []domain.DeviceRecord) []scoredCandidate {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, record := range candidates {
		contributions := make(map[string]float64)

		if fp.Keys.SerialNumber != "" && fp.Keys.SerialNumber == record.Keys.SerialNumber {
			contributions[domain.KeySerial] = r.weights.Serial
		}
		if fp.Keys.BoardSerial != "" && fp.Keys.BoardSerial == record.Keys.BoardSerial {
			contributions[domain.KeyBoardSerial] = r.weights.BoardSerial
		}
		if fp.Keys.SharesMAC(record.Keys) {
			contributions[domain.KeyMAC] = r.weights.MAC
		}
		if fp.Keys.Hostname != "" && strings.EqualFold(fp.Keys.Hostname, record.Keys.Hostname) {
			contributions[domain.KeyHostname] = r.weights.Hostname
		}
		if fp.Keys.IP != "" && fp.Keys.IP == record.Keys.IP {
			contributions[domain.KeyIP] = r.weights.IP
		}

		confidence := 0.0
		for _, w := range contributions {
			confidence += w
		}
		if confidence == 0 {
			continue
		}

		scored = append(scored, scoredCandidate{
			record: record,
			score: domain.CandidateScore{
				DeviceID:      record.ID,
				Confidence:    confidence,
				Contributions: contributions,
			},
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score.Confidence != scored[j].score.Confidence {
			return scored[i].score.Confidence > scored[j].score.Confidence
		}
		return scored[i].record.ID < scored[j].record.ID
	})
	return scored
}

// classify decides the match type for the winning candidate.
func (r *Resolver) classify(fp domain.Fingerprint, best scoredCandidate, all []domain.CandidateScore) domain.MatchResult {
	result := domain.MatchResult{
		Confidence:    best.score.Confidence,
		DeviceID:      best.record.ID,
		Record:        &best.record,
		Contributions: best.score.Contributions,
		Candidates:    all,
		Conflicts:     conflicts(fp, best.record),
	}

	hardwareAnchor := best.score.Contributions[domain.KeySerial] > 0 ||
		best.score.Contributions[domain.KeyBoardSerial] > 0 ||
		best.score.Contributions[domain.KeyMAC] > 0

	hwConflict, userConflict, netConflict := splitConflicts(result.Conflicts)

	switch {
	case result.Confidence >= r.thresholds.ExactThreshold && allAvailableKeysAgree(fp, best.record):
		result.Type = domain.MatchExactDuplicate

	case hardwareAnchor && hwConflict:
		result.Type = domain.MatchHardwareUpgrade

	case hardwareAnchor && userConflict:
		result.Type = domain.MatchUserTransfer

	case hardwareAnchor && netConflict:
		result.Type = domain.MatchNetworkChange

	case hardwareAnchor:
		// Stable identity, no meaningful conflict. Same device,
		// re-observed with fewer keys populated.
		result.Type = domain.MatchExactDuplicate

	case result.Confidence < r.thresholds.AmbiguousCeiling && len(result.Conflicts) > 0:
		result.Type = domain.MatchAmbiguous

	default:
		// Soft keys only (hostname/IP) above the ambiguous band, nothing
		// contradicting: treat as the same device moved or renamed.
		result.Type = domain.MatchNetworkChange
	}

	return result
}

// allAvailableKeysAgree reports whether every identity key populated on
// both sides matches.
func allAvailableKeysAgree(fp domain.Fingerprint, record domain.DeviceRecord) bool {
	if fp.Keys.SerialNumber != "" && record.Keys.SerialNumber != "" &&
		fp.Keys.SerialNumber != record.Keys.SerialNumber {
		return false
	}
	if fp.Keys.BoardSerial != "" && record.Keys.BoardSerial != "" &&
		fp.Keys.BoardSerial != record.Keys.BoardSerial {
		return false
	}
	if len(fp.Keys.MACs) > 0 && len(record.Keys.MACs) > 0 && !fp.Keys.SharesMAC(record.Keys) {
		return false
	}
	if fp.Keys.Hostname != "" && record.Keys.Hostname != "" &&
		!strings.EqualFold(fp.Keys.Hostname, record.Keys.Hostname) {
		return false
	}
	if fp.Keys.IP != "" && record.Keys.IP != "" && fp.Keys.IP != record.Keys.IP {
		return false
	}
	return true
}

// conflicts lists fields populated on both sides with differing values, in
// deterministic field order.
func conflicts(fp domain.Fingerprint, record domain.DeviceRecord) []domain.FieldDiff {
	fields := make([]string, 0, len(fp.Attributes))
	for field := range fp.Attributes {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var diffs []domain.FieldDiff
	for _, field := range fields {
		newVal := fp.Attributes[field]
		if newVal.IsZero() {
			continue
		}
		oldVal, ok := record.Attr(field)
		if !ok {
			continue
		}
		if !oldVal.Equal(newVal) {
			diffs = append(diffs, domain.FieldDiff{Field: field, Old: oldVal, New: newVal})
		}
	}
	return diffs
}

func splitConflicts(diffs []domain.FieldDiff) (hw, user, network bool) {
	hwFields := make(map[string]bool, len(domain.HardwareAttrs))
	for _, f := range domain.HardwareAttrs {
		hwFields[f] = true
	}
	netFields := make(map[string]bool, len(domain.NetworkAttrs))
	for _, f := range domain.NetworkAttrs {
		netFields[f] = true
	}

	for _, d := range diffs {
		switch {
		case hwFields[d.Field]:
			hw = true
		case d.Field == domain.AttrCurrentUser:
			user = true
		case netFields[d.Field]:
			network = true
		}
	}
	return hw, user, network
}

func scoresOf(scored []scoredCandidate) []domain.CandidateScore {
	out := make([]domain.CandidateScore, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.score)
	}
	return out
}
