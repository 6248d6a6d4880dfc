package collector

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"assetscope/internal/domain"
)

// wsmanIdentify is the unauthenticated-capable WS-Management Identify
// request; the full WMI query surface is deliberately out of scope, this
// collector only harvests what the management endpoint advertises.
const wsmanIdentify = `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:wsmid="http://schemas.dmtf.org/wbem/wsman/identity/1/wsmanidentity.xsd"><s:Header/><s:Body><wsmid:Identify/></s:Body></s:Envelope>`

var (
	productVendorRe  = regexp.MustCompile(`<wsmid:ProductVendor>([^<]+)</wsmid:ProductVendor>`)
	productVersionRe = regexp.MustCompile(`<wsmid:ProductVersion>([^<]+)</wsmid:ProductVersion>`)
)

// WMICollector probes Windows hosts through the WinRM management endpoint.
type WMICollector struct {
	port   int
	client *http.Client
	log    zerolog.Logger
}

// NewWMICollector creates the WMI/WinRM protocol collector.
func NewWMICollector(log zerolog.Logger) *WMICollector {
	return &WMICollector{
		port:   5985,
		client: &http.Client{},
		log:    log.With().Str("collector", "wmi").Logger(),
	}
}

// Name returns the protocol identifier.
func (w *WMICollector) Name() string { return "wmi" }

// Ports returns the port hints this collector claims. 135/445 indicate a
// Windows host even when WinRM itself is on 5985.
func (w *WMICollector) Ports() []int { return []int{135, 445, 5985} }

// Collect posts a WS-Management Identify request and maps the response.
func (w *WMICollector) Collect(ctx context.Context, target domain.Target, cred Credential, timeout time.Duration) (*domain.Observation, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/wsman", net.JoinHostPort(target.Addr, fmt.Sprintf("%d", w.port)))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, strings.NewReader(wsmanIdentify))
	if err != nil {
		return nil, domain.NewCollectionError("wmi", target.Addr, domain.KindProtocol, err)
	}
	req.Header.Set("Content-Type", "application/soap+xml;charset=UTF-8")
	if user := cred.Data["username"]; user != "" {
		req.SetBasicAuth(user, cred.Data["password"])
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, domain.NewCollectionError("wmi", target.Addr, domain.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.NewCollectionError("wmi", target.Addr, domain.KindAuth,
			fmt.Errorf("management endpoint rejected credentials: %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewCollectionError("wmi", target.Addr, domain.KindProtocol,
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, domain.NewCollectionError("wmi", target.Addr, domain.KindTransient, err)
	}

	attrs := map[string]domain.AttrValue{
		domain.AttrIPAddress: domain.StringValue(target.Addr),
	}
	if m := productVendorRe.FindSubmatch(body); m != nil {
		attrs[domain.AttrVendor] = domain.StringValue(string(m[1]))
		attrs[domain.AttrOS] = domain.StringValue("Windows")
	}
	if m := productVersionRe.FindSubmatch(body); m != nil {
		attrs[domain.AttrOSVersion] = domain.StringValue(string(m[1]))
	}
	if target.Addr != "" {
		if hostname := reverseLookup(target.Addr); hostname != "" {
			attrs[domain.AttrHostname] = domain.StringValue(hostname)
		}
	}

	return NewObservation("wmi", target.Addr, attrs), nil
}

func reverseLookup(ip string) string {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
