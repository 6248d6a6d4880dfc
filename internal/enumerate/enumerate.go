// Package enumerate expands address specifications into target sequences.
//
// Supported forms: single IPv4 addresses ("10.0.0.5"), dash ranges in both
// full ("10.0.0.5-10.0.0.20") and short last-octet ("10.0.0.5-20") notation,
// and CIDR blocks ("10.0.0.0/24"). Enumeration is lazy, restartable, and
// emits targets in ascending numeric order so re-runs are reproducible.
package enumerate

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"assetscope/internal/domain"
)

// ipRange is a closed interval of IPv4 addresses.
type ipRange struct {
	start uint32
	end   uint32
}

// Enumerator produces the target sequence for one run.
type Enumerator struct {
	ranges []ipRange
	total  int
}

// New parses the given specs. Malformed input fails fast with a
// ConfigurationError before any network activity.
func New(specs []string) (*Enumerator, error) {
	if len(specs) == 0 {
		return nil, &domain.ConfigurationError{Field: "targets", Reason: "no target specifications"}
	}

	ranges := make([]ipRange, 0, len(specs))
	for _, spec := range specs {
		r, err := parseSpec(strings.TrimSpace(spec))
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "targets", Reason: err.Error()}
		}
		ranges = append(ranges, r)
	}

	// Ascending order across specs keeps the whole sequence deterministic.
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	total := 0
	for _, r := range ranges {
		total += int(r.end-r.start) + 1
	}

	return &Enumerator{ranges: ranges, total: total}, nil
}

// Count returns the number of targets without materializing them.
func (e *Enumerator) Count() int {
	return e.total
}

// Targets returns a fresh lazy sequence of targets. Each call restarts
// enumeration from the beginning. The channel closes when the sequence is
// exhausted or ctx is cancelled.
func (e *Enumerator) Targets(ctx context.Context) <-chan domain.Target {
	out := make(chan domain.Target)
	go func() {
		defer close(out)
		for _, r := range e.ranges {
			for ip := r.start; ; ip++ {
				select {
				case <-ctx.Done():
					return
				case out <- domain.Target{Addr: formatIP(ip)}:
				}
				if ip == r.end {
					break
				}
			}
		}
	}()
	return out
}

func parseSpec(spec string) (ipRange, error) {
	switch {
	case spec == "":
		return ipRange{}, fmt.Errorf("empty target spec")
	case strings.Contains(spec, "/"):
		return parseCIDR(spec)
	case strings.Contains(spec, "-"):
		return parseDashRange(spec)
	default:
		ip, err := parseIPv4(spec)
		if err != nil {
			return ipRange{}, err
		}
		return ipRange{start: ip, end: ip}, nil
	}
}

func parseCIDR(spec string) (ipRange, error) {
	prefix, err := netip.ParsePrefix(spec)
	if err != nil {
		return ipRange{}, fmt.Errorf("invalid CIDR %q: %v", spec, err)
	}
	if !prefix.Addr().Is4() {
		return ipRange{}, fmt.Errorf("invalid CIDR %q: only IPv4 is supported", spec)
	}

	bits := prefix.Bits()
	base := ipToUint32(prefix.Masked().Addr())
	size := uint32(1) << (32 - bits)
	start, end := base, base+size-1

	// Skip network and broadcast addresses for real subnets.
	if bits < 31 {
		start++
		end--
	}

	return ipRange{start: start, end: end}, nil
}

func parseDashRange(spec string) (ipRange, error) {
	parts := strings.SplitN(spec, "-", 2)
	start, err := parseIPv4(strings.TrimSpace(parts[0]))
	if err != nil {
		return ipRange{}, fmt.Errorf("invalid range %q: %v", spec, err)
	}

	tail := strings.TrimSpace(parts[1])

	var end uint32
	if strings.Contains(tail, ".") {
		end, err = parseIPv4(tail)
		if err != nil {
			return ipRange{}, fmt.Errorf("invalid range %q: %v", spec, err)
		}
	} else {
		// Short form: the tail replaces the last octet.
		octet, err := strconv.Atoi(tail)
		if err != nil || octet < 0 || octet > 255 {
			return ipRange{}, fmt.Errorf("invalid range %q: bad final octet %q", spec, tail)
		}
		end = start&0xFFFFFF00 | uint32(octet)
	}

	if end < start {
		return ipRange{}, fmt.Errorf("invalid range %q: end precedes start", spec)
	}

	return ipRange{start: start, end: end}, nil
}

func parseIPv4(s string) (uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("invalid address %q: only IPv4 is supported", s)
	}
	return ipToUint32(addr), nil
}

func ipToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func formatIP(ip uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return netip.AddrFrom4(b).String()
}
