// Package config loads the node configuration from YAML.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/geanlabs/beaconchain/p2p"
	"github.com/geanlabs/beaconchain/protocol"
	"github.com/geanlabs/beaconchain/statemachine"
	"github.com/geanlabs/beaconchain/types"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrNoBootnodes   = errors.New("bootnodes file lists no bootnodes")
)

// Fork activates a named protocol version at a slot.
type Fork struct {
	Name      string     `yaml:"name"`
	StartSlot types.Slot `yaml:"start_slot"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // also write to this file, rotated
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config is the node configuration.
type Config struct {
	GenesisTime      uint64     `yaml:"genesis_time"`
	GenesisSlot      types.Slot `yaml:"genesis_slot"`
	GenesisFile      string     `yaml:"genesis_file"` // JSON validator set; interop keys when empty
	ValidatorCount   uint64     `yaml:"validator_count"`
	ValidatorIndices []uint64   `yaml:"validator_indices"` // interop keys this node proposes with
	SecondsPerSlot   uint64     `yaml:"seconds_per_slot"`
	Forks            []Fork     `yaml:"forks"`

	DataDir          string   `yaml:"data_dir"`      // in-memory database when empty
	NodeKeyFile      string   `yaml:"node_key_file"` // ephemeral libp2p identity when empty
	Graffiti         string   `yaml:"graffiti"`
	ListenAddrs      []string `yaml:"listen_addrs"`
	Bootnodes        []string `yaml:"bootnodes"`
	BootnodesFile    string   `yaml:"bootnodes_file"`
	MaxPeers         int      `yaml:"max_peers"`
	MetricsAddr      string   `yaml:"metrics_addr"` // disabled when empty
	PoolCapacity     int      `yaml:"pool_capacity"`
	VerifySignatures bool     `yaml:"verify_signatures"` // BLS checks; a no-op backend when false

	Log LogConfig `yaml:"log"`
}

// Default returns a single-node devnet configuration.
func Default() *Config {
	return &Config{
		ValidatorCount: 4,
		SecondsPerSlot: types.SecondsPerSlot,
		Forks:          []Fork{{Name: "phase0", StartSlot: 0}},
		ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/9000"},
		MaxPeers:       50,
		Log:            LogConfig{Level: "info", Format: "text", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 7},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent configurations.
func (c *Config) Validate() error {
	if c.GenesisFile == "" && c.ValidatorCount == 0 {
		return errors.Wrap(ErrInvalidConfig, "validator_count must be positive")
	}
	for _, idx := range c.ValidatorIndices {
		if c.GenesisFile == "" && idx >= c.ValidatorCount {
			return errors.Wrapf(ErrInvalidConfig, "validator index %d out of range [0, %d)", idx, c.ValidatorCount)
		}
	}
	if c.SecondsPerSlot == 0 {
		return errors.Wrap(ErrInvalidConfig, "seconds_per_slot must be positive")
	}
	if _, err := c.Schedule(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.Wrapf(ErrInvalidConfig, "log format %q", c.Log.Format)
	}
	return nil
}

// Schedule turns the fork list into a protocol schedule, checking that it
// would form a valid registry.
func (c *Config) Schedule() ([]protocol.Entry[statemachine.Rules], error) {
	entries := make([]protocol.Entry[statemachine.Rules], 0, len(c.Forks))
	for _, f := range c.Forks {
		rules, err := statemachine.RulesByName(f.Name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, protocol.Entry[statemachine.Rules]{StartSlot: f.StartSlot, Version: rules})
	}
	if _, err := protocol.NewRegistry(c.GenesisSlot, entries...); err != nil {
		return nil, err
	}
	return entries, nil
}

// Bootnode is one bootnodes file entry. It is written either as a bare
// multiaddr or ENR string, or as a mapping with a multiaddr or enr key.
type Bootnode string

func (b *Bootnode) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*b = Bootnode(value.Value)
		return nil
	case yaml.MappingNode:
		var entry struct {
			Multiaddr string `yaml:"multiaddr"`
			ENR       string `yaml:"enr"`
		}
		if err := value.Decode(&entry); err != nil {
			return err
		}
		if (entry.Multiaddr == "") == (entry.ENR == "") {
			return errors.Errorf("line %d: want exactly one of multiaddr or enr", value.Line)
		}
		*b = Bootnode(entry.Multiaddr + entry.ENR)
		return nil
	default:
		return errors.Errorf("line %d: bootnode must be a string or a mapping", value.Line)
	}
}

// LoadBootnodes reads a YAML list of bootnodes and checks that every entry
// parses as a multiaddr with a peer id or as an ENR.
func LoadBootnodes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read bootnodes")
	}
	var entries []Bootnode
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "parse bootnodes %s", path)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if addr := strings.TrimSpace(string(e)); addr != "" {
			out = append(out, addr)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrNoBootnodes, path)
	}
	if err := checkBootnodes(out); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return out, nil
}

func checkBootnodes(addrs []string) error {
	for i, addr := range addrs {
		if _, err := p2p.ParseBootnodes([]string{addr}); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "bootnode %d: %v", i, err)
		}
	}
	return nil
}

// AllBootnodes returns the inline bootnodes followed by those in BootnodesFile.
func (c *Config) AllBootnodes() ([]string, error) {
	if err := checkBootnodes(c.Bootnodes); err != nil {
		return nil, err
	}
	out := append([]string(nil), c.Bootnodes...)
	if c.BootnodesFile == "" {
		return out, nil
	}
	fromFile, err := LoadBootnodes(c.BootnodesFile)
	if err != nil {
		return nil, err
	}
	return append(out, fromFile...), nil
}
