// Package config loads, validates and watches the miner configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
	"github.com/shizukutanaka/Temari/internal/logging"
	"github.com/shizukutanaka/Temari/internal/mining"
)

// Config is the full on-disk configuration.
type Config struct {
	Log        logging.Config   `yaml:"log"`
	Mining     MiningConfig     `yaml:"mining"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
}

// MiningConfig describes the search thread topology and memory policy.
type MiningConfig struct {
	// MemoryPolicy is one of never_lock, no_lock_if_unavailable,
	// warn_on_lock_failure, always_lock.
	MemoryPolicy string `yaml:"memory_policy"`

	// NiceHash reserves the nonce's top byte for the pool.
	NiceHash bool `yaml:"nicehash"`

	Threads []ThreadConfig `yaml:"threads"`
}

// ThreadConfig configures one search thread.
type ThreadConfig struct {
	// DoubleMode hashes two work units per round on this thread.
	DoubleMode bool `yaml:"double_mode"`

	// NoPrefetch selects the hash path without scratchpad prefetching.
	// Valid only when the memory policy yields large pages.
	NoPrefetch bool `yaml:"no_prefetch"`

	// AffineToCPU pins the thread to a logical CPU. Omitted means no pin.
	AffineToCPU *int `yaml:"affine_to_cpu"`
}

// MonitoringConfig controls the Prometheus listener.
type MonitoringConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// APIConfig controls the read-only status API.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and validates the configuration at path. Unknown keys are an
// error so typos do not silently drop settings.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with working values.
func (c *Config) ApplyDefaults() {
	c.Log.ApplyDefaults()

	if c.Mining.MemoryPolicy == "" {
		c.Mining.MemoryPolicy = "warn_on_lock_failure"
	}
	if len(c.Mining.Threads) == 0 {
		c.Mining.Threads = make([]ThreadConfig, runtime.NumCPU())
	}
	if c.Monitoring.ListenAddr == "" {
		c.Monitoring.ListenAddr = "127.0.0.1:9090"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = "127.0.0.1:8080"
	}
}

// Validate checks cross-field consistency. The self-test performs the deeper
// checks that need live allocations.
func (c *Config) Validate() error {
	if _, err := cryptonight.ParseMemoryPolicy(c.Mining.MemoryPolicy); err != nil {
		return err
	}
	if len(c.Mining.Threads) == 0 {
		return errors.New("at least one mining thread is required")
	}
	for i, tc := range c.Mining.Threads {
		if tc.AffineToCPU != nil {
			if cpu := *tc.AffineToCPU; cpu < 0 || cpu >= runtime.NumCPU() {
				return fmt.Errorf("thread %d: affine_to_cpu %d out of range [0,%d)",
					i, cpu, runtime.NumCPU())
			}
		}
	}
	return nil
}

// MemoryPolicy returns the parsed policy. Call after Validate.
func (c *Config) MemoryPolicy() cryptonight.MemoryPolicy {
	p, _ := cryptonight.ParseMemoryPolicy(c.Mining.MemoryPolicy)
	return p
}

// ThreadOptions maps the thread configs to launch options.
func (c *Config) ThreadOptions() []mining.ThreadOptions {
	opts := make([]mining.ThreadOptions, len(c.Mining.Threads))
	for i, tc := range c.Mining.Threads {
		affinity := -1
		if tc.AffineToCPU != nil {
			affinity = *tc.AffineToCPU
		}
		opts[i] = mining.ThreadOptions{
			DoubleMode: tc.DoubleMode,
			NoPrefetch: tc.NoPrefetch,
			Affinity:   affinity,
		}
	}
	return opts
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// GenerateDefault writes a default configuration to path unless one already
// exists, and returns the loaded result either way.
func GenerateDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	var cfg Config
	cfg.ApplyDefaults()
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}
