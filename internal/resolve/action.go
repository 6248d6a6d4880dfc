package resolve

import (
	"sort"

	"assetscope/internal/domain"
)

// Decide maps a match result onto the store mutation to apply.
//
//	ExactDuplicate            -> UpdateExisting
//	HardwareUpgrade, transfer,
//	network change            -> MergeKeepNewest (history preserved by audit)
//	Ambiguous                 -> FlagForReview (no automatic mutation)
//	NewDevice                 -> Insert
func Decide(fp domain.Fingerprint, match domain.MatchResult, passID string) domain.ResolutionAction {
	action := domain.ResolutionAction{
		PassID:      passID,
		Fingerprint: fp,
		Match:       match,
		DeviceID:    match.DeviceID,
	}

	switch match.Type {
	case domain.MatchNewDevice:
		action.Kind = domain.ActionInsert
		action.DeviceID = ""

	case domain.MatchExactDuplicate:
		action.Kind = domain.ActionUpdateExisting
		action.Diff = buildDiff(fp, match.Record)

	case domain.MatchHardwareUpgrade, domain.MatchUserTransfer, domain.MatchNetworkChange:
		action.Kind = domain.ActionMergeKeepNewest
		action.Diff = buildDiff(fp, match.Record)

	case domain.MatchAmbiguous:
		action.Kind = domain.ActionFlagForReview
	}

	return action
}

// buildDiff lists the field-level changes the new fingerprint proposes:
// fills for fields the record lacks, and replacements where values differ.
// Field order is deterministic.
func buildDiff(fp domain.Fingerprint, record *domain.DeviceRecord) []domain.FieldDiff {
	if record == nil {
		return nil
	}

	fields := make([]string, 0, len(fp.Attributes))
	for field := range fp.Attributes {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var diff []domain.FieldDiff
	for _, field := range fields {
		newVal := fp.Attributes[field]
		if newVal.IsZero() {
			continue
		}
		oldVal, ok := record.Attr(field)
		if !ok {
			diff = append(diff, domain.FieldDiff{Field: field, New: newVal})
			continue
		}
		if !oldVal.Equal(newVal) {
			diff = append(diff, domain.FieldDiff{Field: field, Old: oldVal, New: newVal})
		}
	}
	return diff
}
