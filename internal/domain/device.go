package domain

import (
	"sort"
	"strings"
	"time"
)

// Target is a candidate address produced by the enumerator. Hints carry
// whatever the previous pass learned about the address.
type Target struct {
	Addr       string        `json:"addr"`
	LastRTT    time.Duration `json:"last_rtt,omitempty"`
	KnownPorts []int         `json:"known_ports,omitempty"`
}

// ProbeResult is the outcome of one discovery probe against a target.
type ProbeResult struct {
	Target    Target        `json:"target"`
	Reachable bool          `json:"reachable"`
	RTT       time.Duration `json:"rtt"`
	OpenPorts []int         `json:"open_ports,omitempty"`
	Hostname  string        `json:"hostname,omitempty"` // reverse DNS hint
}

// Observation is the result of one successful protocol collection attempt.
type Observation struct {
	Target       string               `json:"target"`
	Protocol     string               `json:"protocol"`
	Taken        time.Time            `json:"taken"`
	Attributes   map[string]AttrValue `json:"attributes"`
	Completeness float64              `json:"completeness"`
}

// Attr returns the named attribute, reporting whether it is populated.
func (o Observation) Attr(name string) (AttrValue, bool) {
	v, ok := o.Attributes[name]
	if !ok || v.IsZero() {
		return AttrValue{}, false
	}
	return v, true
}

// CollectionFailure records a collector attempt that did not yield an
// Observation, for the run summary and review output.
type CollectionFailure struct {
	Target   string `json:"target"`
	Protocol string `json:"protocol"`
	Terminal bool   `json:"terminal"`
	Reason   string `json:"reason"`
}

// TargetObservations groups every successful observation for one target in
// one pass; the quality scorer consumes the group as a unit.
type TargetObservations struct {
	Target       string              `json:"target"`
	Probe        ProbeResult         `json:"probe"`
	Observations []Observation       `json:"observations"`
	Failures     []CollectionFailure `json:"failures,omitempty"`
}

// IdentityKeys are the stable attributes a device can be recognized by.
type IdentityKeys struct {
	SerialNumber string   `json:"serial_number,omitempty"`
	BoardSerial  string   `json:"board_serial,omitempty"`
	MACs         []string `json:"macs,omitempty"`
	Hostname     string   `json:"hostname,omitempty"`
	IP           string   `json:"ip,omitempty"`
}

// Empty reports whether no identity key is populated at all.
func (k IdentityKeys) Empty() bool {
	return k.SerialNumber == "" && k.BoardSerial == "" && len(k.MACs) == 0 &&
		k.Hostname == "" && k.IP == ""
}

// SharesMAC reports whether the two MAC sets overlap.
func (k IdentityKeys) SharesMAC(other IdentityKeys) bool {
	if len(k.MACs) == 0 || len(other.MACs) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(k.MACs))
	for _, m := range k.MACs {
		set[strings.ToUpper(m)] = struct{}{}
	}
	for _, m := range other.MACs {
		if _, ok := set[strings.ToUpper(m)]; ok {
			return true
		}
	}
	return false
}

// Fingerprint is the weighted identity derived from the merged observations
// of one target. Attributes ride along so the resolver can diff fields.
type Fingerprint struct {
	Keys       IdentityKeys         `json:"keys"`
	Attributes map[string]AttrValue `json:"attributes"`
	Protocols  []string             `json:"protocols"`
	ObservedAt time.Time            `json:"observed_at"`
}

// PresentKeys lists which identity keys carry a value, in a fixed order.
func (f Fingerprint) PresentKeys() []string {
	var keys []string
	if f.Keys.SerialNumber != "" {
		keys = append(keys, KeySerial)
	}
	if f.Keys.BoardSerial != "" {
		keys = append(keys, KeyBoardSerial)
	}
	if len(f.Keys.MACs) > 0 {
		keys = append(keys, KeyMAC)
	}
	if f.Keys.Hostname != "" {
		keys = append(keys, KeyHostname)
	}
	if f.Keys.IP != "" {
		keys = append(keys, KeyIP)
	}
	return keys
}

// Identity key names used in weight tables and confidence contributions.
const (
	KeySerial      = "serial"
	KeyBoardSerial = "board_serial"
	KeyMAC         = "mac"
	KeyHostname    = "hostname"
	KeyIP          = "ip"
)

// DeviceRecord is the durable entity owned by the persistence adapter.
type DeviceRecord struct {
	ID         string               `json:"id"`
	Keys       IdentityKeys         `json:"keys"`
	Attributes map[string]AttrValue `json:"attributes"`
	FirstSeen  time.Time            `json:"first_seen"`
	LastSeen   time.Time            `json:"last_seen"`
}

// Attr returns the named stored attribute, reporting whether it is populated.
func (d DeviceRecord) Attr(name string) (AttrValue, bool) {
	v, ok := d.Attributes[name]
	if !ok || v.IsZero() {
		return AttrValue{}, false
	}
	return v, true
}

// AuditEntry is one immutable change-history record for a device field.
type AuditEntry struct {
	ID       int64     `json:"id"`
	DeviceID string    `json:"device_id"`
	Field    string    `json:"field"`
	OldValue string    `json:"old_value"`
	NewValue string    `json:"new_value"`
	PassID   string    `json:"pass_id"`
	At       time.Time `json:"at"`
}

// RunSummary is the end-of-pass report.
type RunSummary struct {
	PassID      string        `json:"pass_id"`
	Started     time.Time     `json:"started"`
	Elapsed     time.Duration `json:"elapsed"`
	Enumerated  int           `json:"enumerated"`
	Reachable   int           `json:"reachable"`
	Unreachable int           `json:"unreachable"`
	Collected   int           `json:"collected"`
	Inserted    int           `json:"inserted"`
	Updated     int           `json:"updated"`
	Merged      int           `json:"merged"`
	Flagged     int           `json:"flagged"`
	Errors      []string      `json:"errors,omitempty"`
}

// SortedPorts returns a sorted copy of ports for deterministic output.
func SortedPorts(ports []int) []int {
	out := append([]int(nil), ports...)
	sort.Ints(out)
	return out
}
