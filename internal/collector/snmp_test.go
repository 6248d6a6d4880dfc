package collector

import (
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
)

func TestFormatMAC(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", formatMAC([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}))
	assert.Equal(t, "", formatMAC(nil))
}

func TestPDUString(t *testing.T) {
	assert.Equal(t, "core-sw-1", pduString(gosnmp.SnmpPDU{Value: " core-sw-1 "}))
	assert.Equal(t, "core-sw-1", pduString(gosnmp.SnmpPDU{Value: []byte("core-sw-1\n")}))
	assert.Equal(t, "", pduString(gosnmp.SnmpPDU{Value: 42}))
}
