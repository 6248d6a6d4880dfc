package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// AttrKind identifies the concrete type carried by an AttrValue.
type AttrKind int

const (
	AttrString AttrKind = iota
	AttrInt
	AttrStringList
)

// AttrValue is a tagged value for a single observation attribute.
// Collectors return loosely-typed data; validating it into one of these
// shapes at the collector boundary keeps everything downstream typed.
type AttrValue struct {
	Kind AttrKind
	Str  string
	Int  int64
	List []string
}

// StringValue wraps a string attribute.
func StringValue(s string) AttrValue {
	return AttrValue{Kind: AttrString, Str: s}
}

// IntValue wraps an integer attribute.
func IntValue(i int64) AttrValue {
	return AttrValue{Kind: AttrInt, Int: i}
}

// ListValue wraps a list-of-string attribute.
func ListValue(items ...string) AttrValue {
	return AttrValue{Kind: AttrStringList, List: items}
}

// IsZero reports whether the value carries no usable data.
func (v AttrValue) IsZero() bool {
	switch v.Kind {
	case AttrString:
		return strings.TrimSpace(v.Str) == ""
	case AttrInt:
		return false
	case AttrStringList:
		return len(v.List) == 0
	}
	return true
}

// Equal compares two attribute values. List comparison is order-insensitive
// so that MAC sets collected in different orders compare equal.
func (v AttrValue) Equal(o AttrValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case AttrString:
		return v.Str == o.Str
	case AttrInt:
		return v.Int == o.Int
	case AttrStringList:
		if len(v.List) != len(o.List) {
			return false
		}
		a := append([]string(nil), v.List...)
		b := append([]string(nil), o.List...)
		sort.Strings(a)
		sort.Strings(b)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Display renders the value for audit entries and review output.
func (v AttrValue) Display() string {
	switch v.Kind {
	case AttrString:
		return v.Str
	case AttrInt:
		return fmt.Sprintf("%d", v.Int)
	case AttrStringList:
		return strings.Join(v.List, ",")
	}
	return ""
}

// MarshalJSON stores the value as its natural JSON shape.
func (v AttrValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case AttrInt:
		return json.Marshal(v.Int)
	case AttrStringList:
		return json.Marshal(v.List)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON infers the kind from the JSON shape.
func (v *AttrValue) UnmarshalJSON(data []byte) error {
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*v = IntValue(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = StringValue(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = ListValue(list...)
		return nil
	}
	return fmt.Errorf("unsupported attribute value: %s", string(data))
}

// Canonical attribute names shared by collectors and the fingerprint engine.
const (
	AttrSerialNumber = "serial_number"
	AttrBoardSerial  = "board_serial"
	AttrMACAddresses = "mac_addresses"
	AttrHostname     = "hostname"
	AttrIPAddress    = "ip_address"
	AttrOS           = "os"
	AttrOSVersion    = "os_version"
	AttrCPUModel     = "cpu_model"
	AttrMemoryMB     = "memory_mb"
	AttrStorageGB    = "storage_gb"
	AttrCurrentUser  = "current_user"
	AttrVendor       = "vendor"
	AttrModel        = "model"
	AttrUptime       = "uptime_seconds"
	AttrLocation     = "location"
	AttrContact      = "contact"
	AttrServices     = "services"
)

// HardwareAttrs are the fields whose divergence indicates a hardware upgrade
// rather than a different device.
var HardwareAttrs = []string{AttrMemoryMB, AttrStorageGB, AttrCPUModel}

// NetworkAttrs are the fields whose divergence indicates a network move.
var NetworkAttrs = []string{AttrIPAddress, AttrHostname}
