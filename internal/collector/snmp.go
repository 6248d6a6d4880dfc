package collector

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"

	"assetscope/internal/domain"
)

// Standard MIB-2 and ENTITY-MIB object identifiers.
const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysUptime   = ".1.3.6.1.2.1.1.3.0"
	oidSysContact  = ".1.3.6.1.2.1.1.4.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"

	oidIfPhysAddress = ".1.3.6.1.2.1.2.2.1.6"

	oidEntPhysicalSerial = ".1.3.6.1.2.1.47.1.1.1.1.11"
)

// SNMPCollector pulls inventory facts from SNMP agents (v2c).
type SNMPCollector struct {
	port uint16
	log  zerolog.Logger
}

// NewSNMPCollector creates the SNMP protocol collector.
func NewSNMPCollector(log zerolog.Logger) *SNMPCollector {
	return &SNMPCollector{port: 161, log: log.With().Str("collector", "snmp").Logger()}
}

// Name returns the protocol identifier.
func (s *SNMPCollector) Name() string { return "snmp" }

// Ports returns the port hints this collector claims.
func (s *SNMPCollector) Ports() []int { return []int{161} }

// Collect queries the system group, interface MACs, and the entity serial.
func (s *SNMPCollector) Collect(ctx context.Context, target domain.Target, cred Credential, timeout time.Duration) (*domain.Observation, error) {
	community := cred.Data["community"]
	if community == "" {
		community = "public"
	}

	client := &gosnmp.GoSNMP{
		Context:            ctx,
		Target:             target.Addr,
		Port:               s.port,
		Community:          community,
		Version:            gosnmp.Version2c,
		Timeout:            timeout,
		Retries:            0, // the collection scheduler owns retry policy
		MaxOids:            gosnmp.MaxOids,
		ExponentialTimeout: false,
	}

	if err := client.Connect(); err != nil {
		return nil, domain.NewCollectionError("snmp", target.Addr, domain.KindTransient, err)
	}
	defer client.Conn.Close()

	attrs := map[string]domain.AttrValue{
		domain.AttrIPAddress: domain.StringValue(target.Addr),
	}

	if err := s.collectSystemGroup(client, attrs); err != nil {
		return nil, s.classify(target.Addr, err)
	}

	// Interface MACs and entity serial are best effort; many agents
	// restrict these subtrees.
	s.collectMACs(client, attrs)
	s.collectSerial(client, attrs)

	return NewObservation("snmp", target.Addr, attrs), nil
}

func (s *SNMPCollector) collectSystemGroup(client *gosnmp.GoSNMP, attrs map[string]domain.AttrValue) error {
	oids := []string{oidSysDescr, oidSysUptime, oidSysContact, oidSysName, oidSysLocation}
	packet, err := client.Get(oids)
	if err != nil {
		return err
	}

	for _, pdu := range packet.Variables {
		switch pdu.Name {
		case oidSysDescr:
			if descr := pduString(pdu); descr != "" {
				attrs[domain.AttrOS] = domain.StringValue(descr)
			}
		case oidSysName:
			if name := pduString(pdu); name != "" {
				attrs[domain.AttrHostname] = domain.StringValue(name)
			}
		case oidSysContact:
			if contact := pduString(pdu); contact != "" {
				attrs[domain.AttrContact] = domain.StringValue(contact)
			}
		case oidSysLocation:
			if loc := pduString(pdu); loc != "" {
				attrs[domain.AttrLocation] = domain.StringValue(loc)
			}
		case oidSysUptime:
			// TimeTicks are hundredths of a second.
			ticks := gosnmp.ToBigInt(pdu.Value)
			if ticks != nil && ticks.Sign() > 0 {
				attrs[domain.AttrUptime] = domain.IntValue(ticks.Int64() / 100)
			}
		}
	}
	return nil
}

func (s *SNMPCollector) collectMACs(client *gosnmp.GoSNMP, attrs map[string]domain.AttrValue) {
	var macs []string
	seen := make(map[string]struct{})

	err := client.BulkWalk(oidIfPhysAddress, func(pdu gosnmp.SnmpPDU) error {
		raw, ok := pdu.Value.([]byte)
		if !ok || len(raw) != 6 {
			return nil
		}
		mac := formatMAC(raw)
		if mac == "00:00:00:00:00:00" {
			return nil
		}
		if _, dup := seen[mac]; dup {
			return nil
		}
		seen[mac] = struct{}{}
		macs = append(macs, mac)
		return nil
	})
	if err != nil {
		s.log.Debug().Str("addr", client.Target).Err(err).Msg("ifPhysAddress walk failed")
		return
	}
	if len(macs) > 0 {
		attrs[domain.AttrMACAddresses] = domain.ListValue(macs...)
	}
}

func (s *SNMPCollector) collectSerial(client *gosnmp.GoSNMP, attrs map[string]domain.AttrValue) {
	err := client.BulkWalk(oidEntPhysicalSerial, func(pdu gosnmp.SnmpPDU) error {
		if _, done := attrs[domain.AttrSerialNumber]; done {
			return nil
		}
		if serial := pduString(pdu); serial != "" {
			attrs[domain.AttrSerialNumber] = domain.StringValue(serial)
		}
		return nil
	})
	if err != nil {
		s.log.Debug().Str("addr", client.Target).Err(err).Msg("entPhysicalSerial walk failed")
	}
}

// classify maps gosnmp failures onto the collection error taxonomy. SNMP
// has no explicit auth rejection for bad v2c communities; agents simply
// never answer, which is indistinguishable from a timeout.
func (s *SNMPCollector) classify(addr string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout") {
		return domain.NewCollectionError("snmp", addr, domain.KindTransient, err)
	}
	return domain.NewCollectionError("snmp", addr, domain.KindProtocol, err)
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	}
	return ""
}

func formatMAC(raw []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, 17)
	for i, b := range raw {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return string(out)
}
