// Package config holds the immutable run configuration for assetscope.
//
// A Config is constructed once per run (from YAML or defaults), validated
// before any network activity, and passed by reference to every component.
// Nothing mutates it after Load returns.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"assetscope/internal/domain"
)

// Duration wraps time.Duration for YAML "500ms" / "15s" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the wrapped value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the full run configuration.
type Config struct {
	// Targets are address specifications: single IPs, dash ranges, CIDRs.
	Targets []string `yaml:"targets"`

	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Collection CollectionConfig `yaml:"collection"`
	Identity   IdentityConfig   `yaml:"identity"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`

	// Credentials maps a protocol name to the credential used for it.
	// The pipeline treats each entry as an opaque handle.
	Credentials map[string]Credential `yaml:"credentials,omitempty"`
}

// Credential is an opaque credential handle with its key-value material.
type Credential struct {
	ID   string            `yaml:"id"`
	Data map[string]string `yaml:"data,omitempty"`
}

// DiscoveryConfig tunes the reachability probing pool.
type DiscoveryConfig struct {
	// Workers is the discovery pool size.
	Workers int `yaml:"workers"`
	// ProbeTimeout is the hard per-target reachability cap.
	ProbeTimeout Duration `yaml:"probe_timeout"`
	// Ports is the fixed port set probed for liveness and service hints.
	Ports []int `yaml:"ports"`
	// Engine selects the prober backend: "tcp" (native) or "nmap".
	Engine string `yaml:"engine"`
	// QueueSize bounds the probe-result channel feeding collection.
	QueueSize int `yaml:"queue_size"`
}

// CollectionConfig tunes the protocol collection pool and retry policy.
type CollectionConfig struct {
	// Workers is the collection pool size, smaller than discovery since
	// collection holds sessions open.
	Workers int `yaml:"workers"`
	// Timeout is the per-collector invocation cap.
	Timeout Duration `yaml:"timeout"`
	// MaxAttempts caps attempts for transient failures.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffBase is the first retry delay; doubled each attempt.
	BackoffBase Duration `yaml:"backoff_base"`
	// BackoffCap bounds the exponential growth.
	BackoffCap Duration `yaml:"backoff_cap"`
	// QueueSize bounds the observation channel feeding resolution.
	QueueSize int `yaml:"queue_size"`
}

// IdentityConfig holds the fingerprint weight table and the match
// thresholds. Tuning these is an expected operational activity, which is
// why they are configuration rather than constants.
type IdentityConfig struct {
	Weights Weights `yaml:"weights"`

	// MatchFloor is the minimum confidence to consider any candidate a
	// match at all; below it the observation is a new device.
	MatchFloor float64 `yaml:"match_floor"`
	// ExactThreshold is the confidence at or above which a fully agreeing
	// candidate is an exact duplicate.
	ExactThreshold float64 `yaml:"exact_threshold"`
	// AmbiguousCeiling is the upper bound of the low-confidence band that
	// routes conflicting matches to manual review.
	AmbiguousCeiling float64 `yaml:"ambiguous_ceiling"`

	// Trust ranks protocols when several observations cover one target.
	Trust map[string]float64 `yaml:"trust,omitempty"`
}

// Weights is the identity-key weight table. The weights of a fully
// populated record must sum to 1.0.
type Weights struct {
	Serial      float64 `yaml:"serial"`
	BoardSerial float64 `yaml:"board_serial"`
	MAC         float64 `yaml:"mac"`
	Hostname    float64 `yaml:"hostname"`
	IP          float64 `yaml:"ip"`
}

// Sum returns the total weight of all keys.
func (w Weights) Sum() float64 {
	return w.Serial + w.BoardSerial + w.MAC + w.Hostname + w.IP
}

// StoreConfig locates the device store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads config from path, or returns defaults when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns sensible defaults for a small network pass.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

const (
	// discoveryWorkerCeiling bounds the pool so a misconfigured run cannot
	// flood the network.
	discoveryWorkerCeiling = 256

	defaultDiscoveryWorkers  = 50
	defaultCollectionWorkers = 20
	defaultMaxAttempts       = 3
)

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	if c.Discovery.Workers == 0 {
		c.Discovery.Workers = defaultDiscoveryWorkers
	}
	if c.Discovery.ProbeTimeout == 0 {
		c.Discovery.ProbeTimeout = Duration(time.Second)
	}
	if len(c.Discovery.Ports) == 0 {
		c.Discovery.Ports = []int{22, 80, 135, 161, 443, 445, 3389, 5985, 8080}
	}
	if c.Discovery.Engine == "" {
		c.Discovery.Engine = "tcp"
	}
	if c.Discovery.QueueSize == 0 {
		c.Discovery.QueueSize = 64
	}

	if c.Collection.Workers == 0 {
		c.Collection.Workers = defaultCollectionWorkers
	}
	if c.Collection.Timeout == 0 {
		c.Collection.Timeout = Duration(15 * time.Second)
	}
	if c.Collection.MaxAttempts == 0 {
		c.Collection.MaxAttempts = defaultMaxAttempts
	}
	if c.Collection.BackoffBase == 0 {
		c.Collection.BackoffBase = Duration(500 * time.Millisecond)
	}
	if c.Collection.BackoffCap == 0 {
		c.Collection.BackoffCap = Duration(8 * time.Second)
	}
	if c.Collection.QueueSize == 0 {
		c.Collection.QueueSize = 64
	}

	if c.Identity.Weights == (Weights{}) {
		c.Identity.Weights = Weights{
			Serial:      0.35,
			BoardSerial: 0.25,
			MAC:         0.20,
			Hostname:    0.10,
			IP:          0.10,
		}
	}
	if c.Identity.MatchFloor == 0 {
		c.Identity.MatchFloor = 0.50
	}
	if c.Identity.ExactThreshold == 0 {
		c.Identity.ExactThreshold = 0.95
	}
	if c.Identity.AmbiguousCeiling == 0 {
		c.Identity.AmbiguousCeiling = 0.85
	}
	if len(c.Identity.Trust) == 0 {
		c.Identity.Trust = map[string]float64{
			"wmi":    0.95,
			"ssh":    0.90,
			"snmp":   0.80,
			"banner": 0.30,
		}
	}

	if c.Store.Path == "" {
		c.Store.Path = "./assetscope.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration before any work starts. Any failure is
// a ConfigurationError and fatal for the run.
func (c *Config) Validate() error {
	if c.Discovery.Workers < 1 || c.Discovery.Workers > discoveryWorkerCeiling {
		return &domain.ConfigurationError{
			Field:  "discovery.workers",
			Reason: fmt.Sprintf("must be 1..%d, got %d", discoveryWorkerCeiling, c.Discovery.Workers),
		}
	}
	if c.Collection.Workers < 1 {
		return &domain.ConfigurationError{Field: "collection.workers", Reason: "must be positive"}
	}
	if c.Collection.MaxAttempts < 1 {
		return &domain.ConfigurationError{Field: "collection.max_attempts", Reason: "must be positive"}
	}
	if c.Discovery.ProbeTimeout <= 0 {
		return &domain.ConfigurationError{Field: "discovery.probe_timeout", Reason: "must be positive"}
	}
	if c.Collection.Timeout <= 0 {
		return &domain.ConfigurationError{Field: "collection.timeout", Reason: "must be positive"}
	}
	if c.Discovery.Engine != "tcp" && c.Discovery.Engine != "nmap" {
		return &domain.ConfigurationError{
			Field:  "discovery.engine",
			Reason: fmt.Sprintf("unknown engine %q", c.Discovery.Engine),
		}
	}

	const epsilon = 1e-9
	if diff := c.Identity.Weights.Sum() - 1.0; diff > epsilon || diff < -epsilon {
		return &domain.ConfigurationError{
			Field:  "identity.weights",
			Reason: fmt.Sprintf("must sum to 1.0, got %.4f", c.Identity.Weights.Sum()),
		}
	}
	if c.Identity.MatchFloor <= 0 || c.Identity.MatchFloor >= 1 {
		return &domain.ConfigurationError{Field: "identity.match_floor", Reason: "must be in (0,1)"}
	}
	if c.Identity.ExactThreshold <= c.Identity.AmbiguousCeiling {
		return &domain.ConfigurationError{
			Field:  "identity.exact_threshold",
			Reason: "must exceed ambiguous_ceiling",
		}
	}
	if c.Identity.AmbiguousCeiling <= c.Identity.MatchFloor {
		return &domain.ConfigurationError{
			Field:  "identity.ambiguous_ceiling",
			Reason: "must exceed match_floor",
		}
	}

	return nil
}
