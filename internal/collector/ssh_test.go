package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetscope/internal/domain"
)

func TestParseOSRelease(t *testing.T) {
	attrs := map[string]domain.AttrValue{}
	parseOSRelease(`NAME="Ubuntu"
VERSION="22.04.3 LTS (Jammy Jellyfish)"
ID=ubuntu
VERSION_ID="22.04"
`, attrs)

	assert.Equal(t, "Ubuntu", attrs[domain.AttrOS].Str)
	assert.Equal(t, "22.04", attrs[domain.AttrOSVersion].Str)
}

func TestParseSerials(t *testing.T) {
	t.Run("both present", func(t *testing.T) {
		attrs := map[string]domain.AttrValue{}
		parseSerials("VMW-1234\nBRD-5678\n", attrs)
		assert.Equal(t, "VMW-1234", attrs[domain.AttrSerialNumber].Str)
		assert.Equal(t, "BRD-5678", attrs[domain.AttrBoardSerial].Str)
	})

	t.Run("placeholders dropped", func(t *testing.T) {
		attrs := map[string]domain.AttrValue{}
		parseSerials("To Be Filled By O.E.M.\nDefault string\n", attrs)
		assert.NotContains(t, attrs, domain.AttrSerialNumber)
		assert.NotContains(t, attrs, domain.AttrBoardSerial)
	})

	t.Run("chassis placeholder with real board serial", func(t *testing.T) {
		attrs := map[string]domain.AttrValue{}
		parseSerials("None\nBRD-91\n", attrs)
		assert.NotContains(t, attrs, domain.AttrSerialNumber)
		assert.Equal(t, "BRD-91", attrs[domain.AttrBoardSerial].Str)
	})
}

func TestParseMACOutput(t *testing.T) {
	attrs := map[string]domain.AttrValue{}
	parseMACOutput(`00:00:00:00:00:00
aa:bb:cc:dd:ee:ff
aa:bb:cc:dd:ee:ff
not a mac
12:34:56:78:9a:bc
`, attrs)

	macs, ok := attrs[domain.AttrMACAddresses]
	require.True(t, ok)
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF", "12:34:56:78:9A:BC"}, macs.List)
}

func TestParseMemTotal(t *testing.T) {
	attrs := map[string]domain.AttrValue{}
	parseMemTotal("MemTotal:       16384000 kB\n", attrs)
	assert.EqualValues(t, 16000, attrs[domain.AttrMemoryMB].Int)

	empty := map[string]domain.AttrValue{}
	parseMemTotal("garbage", empty)
	assert.NotContains(t, empty, domain.AttrMemoryMB)
}

func TestParseStorage(t *testing.T) {
	attrs := map[string]domain.AttrValue{}
	// Two disks: 256 GiB and 1 TiB of bytes.
	parseStorage("274877906944\n1099511627776\nsome-header\n", attrs)
	assert.EqualValues(t, 1280, attrs[domain.AttrStorageGB].Int)
}

func TestBuildSSHConfigPassword(t *testing.T) {
	cfg, err := buildSSHConfig(Credential{
		ID: "lab",
		Data: map[string]string{
			"username": "svc",
			"password": "hunter2",
		},
	}, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "svc", cfg.User)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	require.Len(t, cfg.Auth, 1)
}

func TestBuildSSHConfigMissingUser(t *testing.T) {
	_, err := buildSSHConfig(Credential{ID: "lab"}, time.Second)
	require.Error(t, err)
}
