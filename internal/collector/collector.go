// Package collector defines the pluggable protocol collector interface and
// its implementations. A collector, given a target and a credential handle,
// returns a typed attribute map or a typed failure; wire-format details stay
// inside each implementation.
package collector

import (
	"context"
	"time"

	"assetscope/internal/domain"
)

// Credential is the opaque credential handle a collector receives. The
// pipeline never inspects Data; only the owning collector knows its keys.
type Credential struct {
	ID   string
	Data map[string]string
}

// Collector is one protocol capability.
type Collector interface {
	// Name is the protocol identifier ("ssh", "snmp", "wmi", "banner").
	Name() string

	// Ports are the port hints this collector claims.
	Ports() []int

	// Collect probes the target and returns an observation. Failures must
	// be typed (*domain.CollectionError) so the scheduler can classify
	// them as retryable or terminal.
	Collect(ctx context.Context, target domain.Target, cred Credential, timeout time.Duration) (*domain.Observation, error)
}

// expectedFields lists, per protocol, the attributes a fully successful
// collection populates. Completeness is measured against this schema at the
// collector boundary rather than trusted downstream.
var expectedFields = map[string][]string{
	"ssh": {
		domain.AttrHostname, domain.AttrOS, domain.AttrOSVersion,
		domain.AttrSerialNumber, domain.AttrBoardSerial, domain.AttrMACAddresses,
		domain.AttrCPUModel, domain.AttrMemoryMB, domain.AttrStorageGB,
		domain.AttrCurrentUser,
	},
	"snmp": {
		domain.AttrHostname, domain.AttrOS, domain.AttrSerialNumber,
		domain.AttrMACAddresses, domain.AttrUptime, domain.AttrLocation,
		domain.AttrContact,
	},
	"wmi": {
		domain.AttrHostname, domain.AttrOS, domain.AttrOSVersion,
		domain.AttrVendor,
	},
	"banner": {
		domain.AttrServices, domain.AttrHostname,
	},
}

// NewObservation builds an Observation for the protocol, computing the
// completeness score against the protocol's expected-field schema.
func NewObservation(protocol, target string, attrs map[string]domain.AttrValue) *domain.Observation {
	expected := expectedFields[protocol]

	populated := 0
	for _, field := range expected {
		if v, ok := attrs[field]; ok && !v.IsZero() {
			populated++
		}
	}

	completeness := 0.0
	if len(expected) > 0 {
		completeness = float64(populated) / float64(len(expected))
	}

	return &domain.Observation{
		Target:       target,
		Protocol:     protocol,
		Taken:        time.Now(),
		Attributes:   attrs,
		Completeness: completeness,
	}
}
