package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"assetscope/internal/domain"
)

// Well-known service names for the discovery port set.
var wellKnownPorts = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "dns",
	80:   "http",
	135:  "msrpc",
	161:  "snmp",
	443:  "https",
	445:  "smb",
	3306: "mysql",
	3389: "rdp",
	5432: "postgres",
	5900: "vnc",
	5985: "winrm",
	8080: "http-alt",
	8443: "https-alt",
}

// ServiceName returns the conventional service name for a port.
func ServiceName(port int) string {
	if name, ok := wellKnownPorts[port]; ok {
		return name
	}
	return fmt.Sprintf("unknown-%d", port)
}

// TCPProber probes targets with parallel TCP connect attempts over a fixed
// port set. A target is considered alive when any probed port accepts.
type TCPProber struct {
	ports   []int
	timeout time.Duration
	log     zerolog.Logger
}

// NewTCPProber creates the native connect-scan prober.
func NewTCPProber(ports []int, timeout time.Duration, log zerolog.Logger) *TCPProber {
	return &TCPProber{
		ports:   ports,
		timeout: timeout,
		log:     log.With().Str("prober", "tcp").Logger(),
	}
}

// Probe checks reachability of one target. The configured timeout is a hard
// per-target cap: every port dial shares one deadline.
func (p *TCPProber) Probe(ctx context.Context, target domain.Target) domain.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	var (
		mu       sync.Mutex
		open     []int
		bestRTT  time.Duration
		anyAlive bool
	)

	var wg sync.WaitGroup
	for _, port := range p.ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			dialer := net.Dialer{}
			conn, err := dialer.DialContext(probeCtx, "tcp", fmt.Sprintf("%s:%d", target.Addr, port))
			if err != nil {
				return
			}
			rtt := time.Since(start)
			conn.Close()

			mu.Lock()
			open = append(open, port)
			if !anyAlive || rtt < bestRTT {
				bestRTT = rtt
			}
			anyAlive = true
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	result := domain.ProbeResult{
		Target:    target,
		Reachable: anyAlive,
		RTT:       bestRTT,
		OpenPorts: sortedCopy(open),
	}
	if anyAlive {
		result.Hostname = reverseDNS(target.Addr)
	}
	return result
}

// reverseDNS resolves a PTR record as a hostname hint. Best effort.
func reverseDNS(ip string) string {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	hostname := names[0]
	if len(hostname) > 0 && hostname[len(hostname)-1] == '.' {
		hostname = hostname[:len(hostname)-1]
	}
	return hostname
}

func sortedCopy(ports []int) []int {
	out := append([]int(nil), ports...)
	sort.Ints(out)
	return out
}
