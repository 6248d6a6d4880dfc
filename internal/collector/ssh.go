package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"assetscope/internal/domain"
)

// factCommand is one remote command and the attributes parsed from it.
type factCommand struct {
	name    string
	command string
	parse   func(output string, attrs map[string]domain.AttrValue)
}

// sshFactCommands gather inventory facts from Linux and BSD-ish hosts.
// Failures of individual commands reduce completeness, they are not errors.
var sshFactCommands = []factCommand{
	{
		name:    "hostname",
		command: "hostname -f 2>/dev/null || hostname",
		parse: func(out string, attrs map[string]domain.AttrValue) {
			if hostname := strings.TrimSpace(out); hostname != "" {
				attrs[domain.AttrHostname] = domain.StringValue(hostname)
			}
		},
	},
	{
		name:    "os_release",
		command: "cat /etc/os-release 2>/dev/null",
		parse:   parseOSRelease,
	},
	{
		name:    "serials",
		command: "cat /sys/class/dmi/id/product_serial /sys/class/dmi/id/board_serial 2>/dev/null",
		parse:   parseSerials,
	},
	{
		name:    "macs",
		command: "cat /sys/class/net/*/address 2>/dev/null",
		parse:   parseMACOutput,
	},
	{
		name:    "cpu",
		command: `grep -m1 'model name' /proc/cpuinfo 2>/dev/null`,
		parse: func(out string, attrs map[string]domain.AttrValue) {
			if _, model, ok := strings.Cut(out, ":"); ok {
				attrs[domain.AttrCPUModel] = domain.StringValue(strings.TrimSpace(model))
			}
		},
	},
	{
		name:    "memory",
		command: "grep MemTotal /proc/meminfo 2>/dev/null",
		parse:   parseMemTotal,
	},
	{
		name:    "storage",
		command: "lsblk -bdno SIZE 2>/dev/null",
		parse:   parseStorage,
	},
	{
		name:    "current_user",
		command: "who 2>/dev/null | awk '{print $1}' | sort | uniq -c | sort -rn | head -1 | awk '{print $2}'",
		parse: func(out string, attrs map[string]domain.AttrValue) {
			if user := strings.TrimSpace(out); user != "" {
				attrs[domain.AttrCurrentUser] = domain.StringValue(user)
			}
		},
	},
}

// SSHCollector gathers facts over an SSH session.
type SSHCollector struct {
	port int
	log  zerolog.Logger
}

// NewSSHCollector creates the SSH protocol collector.
func NewSSHCollector(log zerolog.Logger) *SSHCollector {
	return &SSHCollector{port: 22, log: log.With().Str("collector", "ssh").Logger()}
}

// Name returns the protocol identifier.
func (s *SSHCollector) Name() string { return "ssh" }

// Ports returns the port hints this collector claims.
func (s *SSHCollector) Ports() []int { return []int{22} }

// Collect connects with the credential and runs the fact commands.
func (s *SSHCollector) Collect(ctx context.Context, target domain.Target, cred Credential, timeout time.Duration) (*domain.Observation, error) {
	client, err := s.connect(ctx, target.Addr, cred, timeout)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	attrs := map[string]domain.AttrValue{
		domain.AttrIPAddress: domain.StringValue(target.Addr),
	}

	for _, fc := range sshFactCommands {
		select {
		case <-ctx.Done():
			return nil, domain.NewCollectionError("ssh", target.Addr, domain.KindTransient, ctx.Err())
		default:
		}

		out, err := runCommand(client, fc.command)
		if err != nil {
			s.log.Debug().Str("addr", target.Addr).Str("fact", fc.name).Err(err).Msg("fact command failed")
			continue
		}
		fc.parse(out, attrs)
	}

	return NewObservation("ssh", target.Addr, attrs), nil
}

// connect builds the SSH session from the opaque credential. Supports
// password ("username"/"password") and key ("username"/"private_key",
// optional "passphrase") material.
func (s *SSHCollector) connect(ctx context.Context, addr string, cred Credential, timeout time.Duration) (*ssh.Client, error) {
	cfg, err := buildSSHConfig(cred, timeout)
	if err != nil {
		return nil, domain.NewCollectionError("ssh", addr, domain.KindAuth, err)
	}

	dialer := net.Dialer{Timeout: timeout}
	hostport := net.JoinHostPort(addr, strconv.Itoa(s.port))

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", hostport)
	if err != nil {
		return nil, domain.NewCollectionError("ssh", addr, domain.KindTransient,
			fmt.Errorf("%w: %v", domain.ErrUnreachable, err))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostport, cfg)
	if err != nil {
		conn.Close()
		kind := domain.KindTransient
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "permission denied") {
			kind = domain.KindAuth
		}
		return nil, domain.NewCollectionError("ssh", addr, kind, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func buildSSHConfig(cred Credential, timeout time.Duration) (*ssh.ClientConfig, error) {
	username := cred.Data["username"]
	if username == "" {
		return nil, errors.New("username not found in credential")
	}

	var auth []ssh.AuthMethod
	switch {
	case cred.Data["private_key"] != "":
		var signer ssh.Signer
		var err error
		if passphrase := cred.Data["passphrase"]; passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cred.Data["private_key"]), []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cred.Data["private_key"]))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case cred.Data["password"] != "":
		auth = append(auth, ssh.Password(cred.Data["password"]))
	default:
		return nil, errors.New("credential carries neither private_key nor password")
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

func runCommand(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	if err != nil {
		return "", fmt.Errorf("run %q: %w", command, err)
	}
	return string(out), nil
}

// parseOSRelease parses /etc/os-release KEY=value lines.
func parseOSRelease(out string, attrs map[string]domain.AttrValue) {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "NAME":
			attrs[domain.AttrOS] = domain.StringValue(value)
		case "VERSION_ID":
			attrs[domain.AttrOSVersion] = domain.StringValue(value)
		}
	}
}

// parseSerials reads the two DMI serial lines in order. Virtual machines
// often report placeholders, which are dropped.
func parseSerials(out string, attrs map[string]domain.AttrValue) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	placeholders := map[string]bool{
		"": true, "none": true, "not specified": true,
		"to be filled by o.e.m.": true, "default string": true,
	}

	assign := []string{domain.AttrSerialNumber, domain.AttrBoardSerial}
	for i, line := range lines {
		if i >= len(assign) {
			break
		}
		serial := strings.TrimSpace(line)
		if placeholders[strings.ToLower(serial)] {
			continue
		}
		attrs[assign[i]] = domain.StringValue(serial)
	}
}

var macLineRe = regexp.MustCompile(`(?i)^[0-9a-f]{2}(?::[0-9a-f]{2}){5}$`)

// parseMACOutput collects interface MACs, dropping loopback zeros.
func parseMACOutput(out string, attrs map[string]domain.AttrValue) {
	var macs []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		mac := strings.ToUpper(strings.TrimSpace(line))
		if !macLineRe.MatchString(mac) || mac == "00:00:00:00:00:00" {
			continue
		}
		if _, ok := seen[mac]; ok {
			continue
		}
		seen[mac] = struct{}{}
		macs = append(macs, mac)
	}
	if len(macs) > 0 {
		attrs[domain.AttrMACAddresses] = domain.ListValue(macs...)
	}
}

// parseMemTotal converts the MemTotal kB line to whole megabytes.
func parseMemTotal(out string, attrs map[string]domain.AttrValue) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return
	}
	kb, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return
	}
	attrs[domain.AttrMemoryMB] = domain.IntValue(kb / 1024)
}

// parseStorage sums block device sizes into whole gigabytes.
func parseStorage(out string, attrs map[string]domain.AttrValue) {
	var total int64
	for _, line := range strings.Split(out, "\n") {
		size, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			continue
		}
		total += size
	}
	if total > 0 {
		attrs[domain.AttrStorageGB] = domain.IntValue(total / (1 << 30))
	}
}
