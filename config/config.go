// Package config holds the parameters of a bus simulation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the sizes and latencies of the simulated system.
type Config struct {
	// ClockMHz is the frequency of the bus clock. Default: 1000 MHz.
	ClockMHz float64 `json:"clock_mhz" yaml:"clock_mhz"`

	// ResetCycles is how long reset is held low at start-up.
	// Default: 10 cycles.
	ResetCycles uint64 `json:"reset_cycles" yaml:"reset_cycles"`

	// RecvQueueSize is the capacity of every channel receive queue.
	// Default: 1 beat.
	RecvQueueSize int `json:"recv_queue_size" yaml:"recv_queue_size"`

	// SendQueueSize is the capacity of every channel send queue.
	// Default: 2 beats.
	SendQueueSize int `json:"send_queue_size" yaml:"send_queue_size"`

	// ReadOutstandingMax bounds the reads in flight. Default: 4.
	ReadOutstandingMax int `json:"read_outstanding_max" yaml:"read_outstanding_max"`

	// WriteOutstandingMax bounds the writes in flight. Default: 4.
	WriteOutstandingMax int `json:"write_outstanding_max" yaml:"write_outstanding_max"`

	// SettleRounds is the number of zero-time yields before each phase of
	// an edge. Default: 10.
	SettleRounds int `json:"settle_rounds" yaml:"settle_rounds"`

	// ReadLatency is the Subordinate read latency. Default: 2 cycles.
	ReadLatency uint64 `json:"read_latency" yaml:"read_latency"`

	// WriteLatency is the Subordinate write latency. Default: 3 cycles.
	WriteLatency uint64 `json:"write_latency" yaml:"write_latency"`

	// WordStride is the distance in bytes between consecutive beats of a
	// burst. Default: 16 bytes.
	WordStride uint64 `json:"word_stride" yaml:"word_stride"`
}

// DefaultConfig returns the configuration of a 128-bit bus at 1 GHz.
func DefaultConfig() *Config {
	return &Config{
		ClockMHz:            1000,
		ResetCycles:         10,
		RecvQueueSize:       1,
		SendQueueSize:       2,
		ReadOutstandingMax:  4,
		WriteOutstandingMax: 4,
		SettleRounds:        10,
		ReadLatency:         2,
		WriteLatency:        3,
		WordStride:          16,
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig loads a Config from a JSON or YAML file. Fields missing from
// the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON or YAML file.
func (c *Config) SaveConfig(path string) error {
	var data []byte
	var err error

	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration describes a working system.
func (c *Config) Validate() error {
	if c.ClockMHz <= 0 {
		return fmt.Errorf("clock_mhz must be > 0")
	}
	if c.RecvQueueSize < 1 {
		return fmt.Errorf("recv_queue_size must be > 0")
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be > 0")
	}
	if c.ReadOutstandingMax < 1 {
		return fmt.Errorf("read_outstanding_max must be > 0")
	}
	if c.WriteOutstandingMax < 1 {
		return fmt.Errorf("write_outstanding_max must be > 0")
	}
	if c.SettleRounds < 0 {
		return fmt.Errorf("settle_rounds must be >= 0")
	}
	if c.WordStride == 0 {
		return fmt.Errorf("word_stride must be > 0")
	}
	return nil
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AXISIM_"

// ApplyEnv overrides fields from environment variables named after the
// JSON keys, for example AXISIM_READ_OUTSTANDING_MAX. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	type field struct {
		key string
		set func(string) error
	}

	fields := []field{
		{"clock_mhz", floatSetter(&c.ClockMHz)},
		{"reset_cycles", uintSetter(&c.ResetCycles)},
		{"recv_queue_size", intSetter(&c.RecvQueueSize)},
		{"send_queue_size", intSetter(&c.SendQueueSize)},
		{"read_outstanding_max", intSetter(&c.ReadOutstandingMax)},
		{"write_outstanding_max", intSetter(&c.WriteOutstandingMax)},
		{"settle_rounds", intSetter(&c.SettleRounds)},
		{"read_latency", uintSetter(&c.ReadLatency)},
		{"write_latency", uintSetter(&c.WriteLatency)},
		{"word_stride", uintSetter(&c.WordStride)},
	}

	for _, f := range fields {
		name := EnvPrefix + strings.ToUpper(f.key)

		v, ok := lookup(name)
		if !ok {
			continue
		}

		if err := f.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

func floatSetter(p *float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err == nil {
			*p = v
		}
		return err
	}
}

func intSetter(p *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err == nil {
			*p = v
		}
		return err
	}
}

func uintSetter(p *uint64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 10, 64)
		if err == nil {
			*p = v
		}
		return err
	}
}
