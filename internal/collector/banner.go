package collector

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"assetscope/internal/domain"
)

// BannerCollector is the lowest-trust fallback: it connects to whatever
// ports discovery found open and records the service banners. It needs no
// credentials, so appliances that speak nothing else still get a record.
type BannerCollector struct {
	log zerolog.Logger
}

// NewBannerCollector creates the banner-grab collector.
func NewBannerCollector(log zerolog.Logger) *BannerCollector {
	return &BannerCollector{log: log.With().Str("collector", "banner").Logger()}
}

// Name returns the protocol identifier.
func (b *BannerCollector) Name() string { return "banner" }

// Ports returns the port hints this collector claims.
func (b *BannerCollector) Ports() []int { return []int{21, 22, 23, 25, 80, 110, 143, 443, 8080} }

// Collect reads a banner line from each hinted open port.
func (b *BannerCollector) Collect(ctx context.Context, target domain.Target, _ Credential, timeout time.Duration) (*domain.Observation, error) {
	ports := target.KnownPorts
	if len(ports) == 0 {
		ports = b.Ports()
	}

	collectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	perPort := timeout / time.Duration(len(ports))
	if perPort < 500*time.Millisecond {
		perPort = 500 * time.Millisecond
	}

	var services []string
	for _, port := range ports {
		select {
		case <-collectCtx.Done():
			return nil, domain.NewCollectionError("banner", target.Addr, domain.KindTransient, collectCtx.Err())
		default:
		}

		banner, connected := b.grab(collectCtx, target.Addr, port, perPort)
		if !connected {
			continue
		}
		if banner != "" {
			services = append(services, fmt.Sprintf("%d/%s", port, banner))
		} else {
			services = append(services, fmt.Sprintf("%d", port))
		}
	}

	if len(services) == 0 {
		return nil, domain.NewCollectionError("banner", target.Addr, domain.KindTransient, domain.ErrUnreachable)
	}
	sort.Strings(services)

	attrs := map[string]domain.AttrValue{
		domain.AttrIPAddress: domain.StringValue(target.Addr),
		domain.AttrServices:  domain.ListValue(services...),
	}
	if hostname := reverseLookup(target.Addr); hostname != "" {
		attrs[domain.AttrHostname] = domain.StringValue(hostname)
	}

	return NewObservation("banner", target.Addr, attrs), nil
}

// grab reads the first line a service volunteers, reporting whether the
// port accepted a connection at all. HTTP-ish ports get a minimal request
// first since they only speak when spoken to.
func (b *BannerCollector) grab(ctx context.Context, ip string, port int, timeout time.Duration) (string, bool) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return "", false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	if port == 80 || port == 8080 || port == 443 {
		fmt.Fprintf(conn, "HEAD / HTTP/1.0\r\nHost: %s\r\n\r\n", ip)
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", true
			}
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Server:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "Server:")), true
			}
			if line == "" {
				return "http", true
			}
		}
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", true
	}
	banner := strings.TrimSpace(line)
	if len(banner) > 80 {
		banner = banner[:80]
	}
	return banner, true
}
