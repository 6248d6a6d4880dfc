package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"assetscope/internal/config"
	"assetscope/internal/domain"
)

func TestBuild(t *testing.T) {
	e := NewEngine(config.Weights{Serial: 0.35, BoardSerial: 0.25, MAC: 0.20, Hostname: 0.10, IP: 0.10})

	taken := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	merged := domain.Observation{
		Target: "10.0.0.5",
		Taken:  taken,
		Attributes: map[string]domain.AttrValue{
			domain.AttrSerialNumber: domain.StringValue("  SN-100 "),
			domain.AttrBoardSerial:  domain.StringValue("BRD-7"),
			domain.AttrMACAddresses: domain.ListValue("aa:bb:cc:dd:ee:ff", "AA-BB-CC-00-11-22"),
			domain.AttrHostname:     domain.StringValue("Web-01"),
			domain.AttrMemoryMB:     domain.IntValue(8192),
		},
	}

	fp := e.Build(merged, []string{"snmp", "ssh"})

	assert.Equal(t, "SN-100", fp.Keys.SerialNumber)
	assert.Equal(t, "BRD-7", fp.Keys.BoardSerial)
	assert.Equal(t, []string{"AA:BB:CC:00:11:22", "AA:BB:CC:DD:EE:FF"}, fp.Keys.MACs)
	assert.Equal(t, "web-01", fp.Keys.Hostname)
	// No explicit ip attribute: the probed address fills in.
	assert.Equal(t, "10.0.0.5", fp.Keys.IP)
	assert.Equal(t, taken, fp.ObservedAt)
	assert.Equal(t, []string{"snmp", "ssh"}, fp.Protocols)
}

func TestBuildPartialKeys(t *testing.T) {
	e := NewEngine(config.Weights{Serial: 0.35, BoardSerial: 0.25, MAC: 0.20, Hostname: 0.10, IP: 0.10})

	fp := e.Build(domain.Observation{
		Target: "10.0.0.9",
		Attributes: map[string]domain.AttrValue{
			domain.AttrHostname: domain.StringValue("printer-3"),
		},
	}, []string{"banner"})

	assert.Equal(t, []string{domain.KeyHostname, domain.KeyIP}, fp.PresentKeys())
	assert.Empty(t, fp.Keys.SerialNumber)
	assert.Empty(t, fp.Keys.MACs)
}

func TestNormalizeMACs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "mixed case and separators",
			in:   []string{"aa:bb:cc:dd:ee:ff", "AA-BB-CC-DD-EE-FF"},
			want: []string{"AA:BB:CC:DD:EE:FF"},
		},
		{
			name: "sorted output",
			in:   []string{"ff:ff:ff:00:00:01", "aa:00:00:00:00:01"},
			want: []string{"AA:00:00:00:00:01", "FF:FF:FF:00:00:01"},
		},
		{
			name: "all-zero placeholder dropped",
			in:   []string{"00:00:00:00:00:00", "aa:bb:cc:dd:ee:ff"},
			want: []string{"AA:BB:CC:DD:EE:FF"},
		},
		{
			name: "garbage dropped",
			in:   []string{"not-a-mac", "", "aa:bb:cc:dd:ee"},
			want: nil,
		},
		{
			name: "embedded in interface listing",
			in:   []string{"link/ether aa:bb:cc:dd:ee:ff brd ff:ff:ff:ff:ff:ff"},
			want: []string{"AA:BB:CC:DD:EE:FF"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMACs(tt.in))
		})
	}
}
