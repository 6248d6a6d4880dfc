package enumerate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetscope/internal/domain"
)

func collect(t *testing.T, e *Enumerator) []string {
	t.Helper()
	var out []string
	for target := range e.Targets(context.Background()) {
		out = append(out, target.Addr)
	}
	return out
}

func TestParseSpecs(t *testing.T) {
	tests := []struct {
		name  string
		specs []string
		count int
		first string
		last  string
	}{
		{
			name:  "single address",
			specs: []string{"10.0.0.5"},
			count: 1,
			first: "10.0.0.5",
			last:  "10.0.0.5",
		},
		{
			name:  "full dash range",
			specs: []string{"10.0.0.5-10.0.0.20"},
			count: 16,
			first: "10.0.0.5",
			last:  "10.0.0.20",
		},
		{
			name:  "short dash range",
			specs: []string{"10.0.0.5-20"},
			count: 16,
			first: "10.0.0.5",
			last:  "10.0.0.20",
		},
		{
			name:  "cidr skips network and broadcast",
			specs: []string{"192.168.1.0/24"},
			count: 254,
			first: "192.168.1.1",
			last:  "192.168.1.254",
		},
		{
			name:  "slash 31 keeps both addresses",
			specs: []string{"10.0.0.0/31"},
			count: 2,
			first: "10.0.0.0",
			last:  "10.0.0.1",
		},
		{
			name:  "slash 32 is a single host",
			specs: []string{"10.0.0.7/32"},
			count: 1,
			first: "10.0.0.7",
			last:  "10.0.0.7",
		},
		{
			name:  "multiple specs sorted ascending",
			specs: []string{"10.0.1.1", "10.0.0.1-3"},
			count: 4,
			first: "10.0.0.1",
			last:  "10.0.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.specs)
			require.NoError(t, err)
			assert.Equal(t, tt.count, e.Count())

			addrs := collect(t, e)
			require.Len(t, addrs, tt.count)
			assert.Equal(t, tt.first, addrs[0])
			assert.Equal(t, tt.last, addrs[len(addrs)-1])
		})
	}
}

func TestParseSpecsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		specs []string
	}{
		{"no specs", nil},
		{"empty spec", []string{""}},
		{"garbage", []string{"not-an-address"}},
		{"bad cidr", []string{"10.0.0.0/40"}},
		{"ipv6", []string{"::1"}},
		{"ipv6 cidr", []string{"2001:db8::/64"}},
		{"reversed range", []string{"10.0.0.20-10.0.0.5"}},
		{"bad short octet", []string{"10.0.0.5-999"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.specs)
			require.Error(t, err)

			var cfgErr *domain.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestTargetsRestartable(t *testing.T) {
	e, err := New([]string{"10.0.0.1-4"})
	require.NoError(t, err)

	first := collect(t, e)
	second := collect(t, e)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, first)
}

func TestTargetsCancellation(t *testing.T) {
	e, err := New([]string{"10.0.0.0/16"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := e.Targets(ctx)

	// Drain a few, then cancel; the channel must close without delivering
	// the full 65534 targets.
	for i := 0; i < 10; i++ {
		<-ch
	}
	cancel()

	n := 10
	for range ch {
		n++
	}
	assert.Less(t, n, e.Count())
}
