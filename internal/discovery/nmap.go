package discovery

import (
	"context"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"

	"assetscope/internal/domain"
)

// NmapProber probes targets through the nmap binary. It yields richer port
// state than the native prober at the cost of the external dependency; the
// config selects it with discovery.engine: nmap.
type NmapProber struct {
	ports   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewNmapProber creates the nmap-backed prober for the given port set.
func NewNmapProber(ports []int, timeout time.Duration, log zerolog.Logger) *NmapProber {
	specs := make([]string, 0, len(ports))
	for _, p := range ports {
		specs = append(specs, strconv.Itoa(p))
	}
	return &NmapProber{
		ports:   strings.Join(specs, ","),
		timeout: timeout,
		log:     log.With().Str("prober", "nmap").Logger(),
	}
}

// Available reports whether the nmap binary can be executed.
func (p *NmapProber) Available(ctx context.Context) bool {
	scanner, err := nmap.NewScanner(ctx, nmap.WithTargets("localhost"), nmap.WithListScan())
	if err != nil {
		return false
	}
	_, _, err = scanner.Run()
	return err == nil
}

// Probe runs a connect scan of one target under the per-target timeout.
func (p *NmapProber) Probe(ctx context.Context, target domain.Target) domain.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := domain.ProbeResult{Target: target}
	start := time.Now()

	scanner, err := nmap.NewScanner(
		probeCtx,
		nmap.WithTargets(target.Addr),
		nmap.WithPorts(p.ports),
		nmap.WithConnectScan(),
	)
	if err != nil {
		p.log.Warn().Err(err).Str("addr", target.Addr).Msg("scanner setup failed")
		return result
	}

	run, warnings, err := scanner.Run()
	if err != nil {
		return result
	}
	if warnings != nil && len(*warnings) > 0 {
		p.log.Debug().Str("addr", target.Addr).Strs("warnings", *warnings).Msg("nmap warnings")
	}
	if run == nil {
		return result
	}

	for _, host := range run.Hosts {
		if host.Status.State != "up" {
			continue
		}
		result.Reachable = true
		for _, port := range host.Ports {
			if port.State.State == "open" {
				result.OpenPorts = append(result.OpenPorts, int(port.ID))
			}
		}
		for _, hn := range host.Hostnames {
			if hn.Name != "" {
				result.Hostname = hn.Name
				break
			}
		}
	}

	if result.Reachable {
		result.RTT = time.Since(start)
		result.OpenPorts = sortedCopy(result.OpenPorts)
		if result.Hostname == "" {
			result.Hostname = reverseDNS(target.Addr)
		}
	}
	return result
}

var _ Prober = (*NmapProber)(nil)
