package collector

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetscope/internal/domain"
)

type stubCollector struct {
	name  string
	ports []int
}

func (s *stubCollector) Name() string { return s.name }
func (s *stubCollector) Ports() []int { return s.ports }
func (s *stubCollector) Collect(context.Context, domain.Target, Credential, time.Duration) (*domain.Observation, error) {
	return nil, nil
}

func names(collectors []Collector) []string {
	out := make([]string, len(collectors))
	for i, c := range collectors {
		out[i] = c.Name()
	}
	return out
}

func TestRegistryForPorts(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register(&stubCollector{name: "ssh", ports: []int{22}}))
	require.NoError(t, r.Register(&stubCollector{name: "wmi", ports: []int{135, 445, 5985}}))
	require.NoError(t, r.Register(&stubCollector{name: "snmp", ports: []int{161}}))
	require.NoError(t, r.Register(&stubCollector{name: "banner", ports: []int{22, 80, 443}}))

	tests := []struct {
		name  string
		ports []int
		want  []string
	}{
		{
			name:  "single claimed port",
			ports: []int{161},
			want:  []string{"snmp"},
		},
		{
			name:  "shared port selects both in registration order",
			ports: []int{22},
			want:  []string{"ssh", "banner"},
		},
		{
			name:  "multiple hints deduplicate",
			ports: []int{22, 80, 5985},
			want:  []string{"ssh", "wmi", "banner"},
		},
		{
			name:  "no hints tries everything",
			ports: nil,
			want:  []string{"ssh", "wmi", "snmp", "banner"},
		},
		{
			name:  "unclaimed ports fall back to everything",
			ports: []int{9999},
			want:  []string{"ssh", "wmi", "snmp", "banner"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(r.ForPorts(tt.ports)))
		})
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register(&stubCollector{name: "ssh", ports: []int{22}}))

	err := r.Register(&stubCollector{name: "ssh", ports: []int{2222}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register(&stubCollector{name: "ssh"}))
	require.NoError(t, r.Register(&stubCollector{name: "banner"}))

	assert.Equal(t, []string{"ssh", "banner"}, r.Names())
}

func TestNewObservationCompleteness(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		attrs    map[string]domain.AttrValue
		want     float64
	}{
		{
			name:     "ssh with six of ten fields",
			protocol: "ssh",
			attrs: map[string]domain.AttrValue{
				domain.AttrHostname:     domain.StringValue("web-01"),
				domain.AttrOS:           domain.StringValue("Ubuntu"),
				domain.AttrOSVersion:    domain.StringValue("22.04"),
				domain.AttrSerialNumber: domain.StringValue("SN-1"),
				domain.AttrMACAddresses: domain.ListValue("AA:BB:CC:DD:EE:FF"),
				domain.AttrMemoryMB:     domain.IntValue(8192),
			},
			want: 0.6,
		},
		{
			name:     "banner with both fields",
			protocol: "banner",
			attrs: map[string]domain.AttrValue{
				domain.AttrServices: domain.ListValue("22/ssh"),
				domain.AttrHostname: domain.StringValue("web-01"),
			},
			want: 1.0,
		},
		{
			name:     "zero values do not count",
			protocol: "banner",
			attrs: map[string]domain.AttrValue{
				domain.AttrServices: {},
				domain.AttrHostname: domain.StringValue("web-01"),
			},
			want: 0.5,
		},
		{
			name:     "fields outside the schema do not count",
			protocol: "wmi",
			attrs: map[string]domain.AttrValue{
				domain.AttrMemoryMB: domain.IntValue(4096),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := NewObservation(tt.protocol, "10.0.0.1", tt.attrs)
			assert.InDelta(t, tt.want, obs.Completeness, 1e-9)
			assert.Equal(t, tt.protocol, obs.Protocol)
			assert.Equal(t, "10.0.0.1", obs.Target)
			assert.False(t, obs.Taken.IsZero())
		})
	}
}
