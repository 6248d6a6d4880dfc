package domain

// MatchType classifies how a new fingerprint relates to an existing record.
type MatchType string

const (
	MatchExactDuplicate  MatchType = "exact_duplicate"
	MatchHardwareUpgrade MatchType = "hardware_upgrade"
	MatchUserTransfer    MatchType = "user_transfer"
	MatchNetworkChange   MatchType = "network_change"
	MatchNewDevice       MatchType = "new_device"
	MatchAmbiguous       MatchType = "ambiguous_low_confidence"
)

// ActionKind is the store mutation decided for a match.
type ActionKind string

const (
	ActionInsert          ActionKind = "insert"
	ActionUpdateExisting  ActionKind = "update_existing"
	ActionMergeKeepNewest ActionKind = "merge_keep_newest"
	ActionMergeKeepOldest ActionKind = "merge_keep_oldest"
	ActionFlagForReview   ActionKind = "flag_for_review"
)

// FieldDiff is a single field-level change proposed against a device record.
type FieldDiff struct {
	Field string    `json:"field"`
	Old   AttrValue `json:"old"`
	New   AttrValue `json:"new"`
}

// CandidateScore captures one candidate's confidence and the per-key weight
// contributions behind it, so review entries explain themselves.
type CandidateScore struct {
	DeviceID      string             `json:"device_id"`
	Confidence    float64            `json:"confidence"`
	Contributions map[string]float64 `json:"contributions"`
}

// MatchResult is the outcome of comparing a fingerprint against the store.
type MatchResult struct {
	Type       MatchType `json:"type"`
	Confidence float64   `json:"confidence"`

	// DeviceID and Record identify the best candidate; empty for NewDevice.
	DeviceID string        `json:"device_id,omitempty"`
	Record   *DeviceRecord `json:"-"`

	// Contributions holds the winning candidate's per-key weights.
	Contributions map[string]float64 `json:"contributions,omitempty"`

	// Candidates lists every scored candidate above the floor, best first.
	// Ambiguous results carry at least two so a human can compare them.
	Candidates []CandidateScore `json:"candidates,omitempty"`

	// Conflicts are the field disagreements that drove the classification.
	Conflicts []FieldDiff `json:"conflicts,omitempty"`
}

// ResolutionAction is the concrete mutation handed to the persistence
// adapter. Every kind except Insert and FlagForReview targets an existing
// device and carries the field-level diff to apply.
type ResolutionAction struct {
	Kind        ActionKind  `json:"kind"`
	PassID      string      `json:"pass_id"`
	DeviceID    string      `json:"device_id,omitempty"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Diff        []FieldDiff `json:"diff,omitempty"`
	Match       MatchResult `json:"match"`
}

// ReviewEntry is a persisted FlagForReview outcome awaiting a human.
type ReviewEntry struct {
	ID          int64            `json:"id"`
	PassID      string           `json:"pass_id"`
	Fingerprint Fingerprint      `json:"fingerprint"`
	Candidates  []CandidateScore `json:"candidates"`
	Conflicts   []FieldDiff      `json:"conflicts,omitempty"`
	Resolved    bool             `json:"resolved"`
	CreatedAt   string           `json:"created_at"`
}
