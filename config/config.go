// Package config holds the machine and kernel settings read at boot.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joshuapare/kestrel/boot"
	"github.com/joshuapare/kestrel/cpu"
	"github.com/joshuapare/kestrel/internal/layout"
	"github.com/joshuapare/kestrel/memory/region"
	"github.com/joshuapare/kestrel/sched"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

const (
	// DefaultMemory is the simulated RAM size.
	DefaultMemory = 32 << 20
	// DefaultQuantum is the number of instructions a thread runs per tick.
	DefaultQuantum = 4
)

// Config is the full set of tunables. Zero fields take the defaults.
type Config struct {
	MemoryBytes uint64            `json:"memory_bytes"`
	TimerHz     uint64            `json:"timer_hz"`
	RegionPages uint64            `json:"region_pages"`
	StackPages  uint64            `json:"stack_pages"`
	Quantum     int               `json:"quantum"`
	Refresh     string            `json:"refresh"`
	LogLevel    string            `json:"log_level"`
	RecordLimit int               `json:"record_limit"`
	MemoryMap   []boot.Descriptor `json:"memory_map,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		MemoryBytes: DefaultMemory,
		TimerHz:     cpu.DefaultTimerHz,
		RegionPages: region.DefaultPages,
		StackPages:  sched.DefaultStackPages,
		Quantum:     DefaultQuantum,
		Refresh:     "always",
		LogLevel:    "info",
	}
}

// Load reads a JSON file over the defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads JSON from r over the defaults and validates the result.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fill replaces explicit zeros with defaults.
func (c *Config) fill() {
	d := Default()
	if c.MemoryBytes == 0 {
		c.MemoryBytes = d.MemoryBytes
	}
	if c.TimerHz == 0 {
		c.TimerHz = d.TimerHz
	}
	if c.RegionPages == 0 {
		c.RegionPages = d.RegionPages
	}
	if c.StackPages == 0 {
		c.StackPages = d.StackPages
	}
	if c.Quantum == 0 {
		c.Quantum = d.Quantum
	}
	if c.Refresh == "" {
		c.Refresh = d.Refresh
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	if c.MemoryBytes < boot.MinMemory || !layout.IsAligned(c.MemoryBytes) {
		return fmt.Errorf("%w: memory_bytes %d must be a page multiple of at least %d",
			ErrInvalid, c.MemoryBytes, boot.MinMemory)
	}
	if c.TimerHz == 0 || c.TimerHz > 1000 {
		return fmt.Errorf("%w: timer_hz %d out of range 1..1000", ErrInvalid, c.TimerHz)
	}
	if c.RegionPages == 0 || c.RegionPages*layout.PageSize > layout.RegionWindowSize {
		return fmt.Errorf("%w: region_pages %d does not fit the region window", ErrInvalid, c.RegionPages)
	}
	if c.StackPages == 0 || c.StackPages >= c.RegionPages {
		return fmt.Errorf("%w: stack_pages %d must be below region_pages", ErrInvalid, c.StackPages)
	}
	if c.Quantum < 1 {
		return fmt.Errorf("%w: quantum %d", ErrInvalid, c.Quantum)
	}
	if c.RecordLimit < 0 {
		return fmt.Errorf("%w: record_limit %d", ErrInvalid, c.RecordLimit)
	}
	if _, err := sched.ParseRefreshPolicy(c.Refresh); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if len(c.MemoryMap) > 0 {
		mmap, err := boot.NewMemoryMap(c.MemoryMap...)
		if err != nil {
			return fmt.Errorf("%w: memory_map: %w", ErrInvalid, err)
		}
		if uint64(mmap.LastAddr) > c.MemoryBytes {
			return fmt.Errorf("%w: memory_map ends at %#x beyond memory_bytes %#x",
				ErrInvalid, uint64(mmap.LastAddr), c.MemoryBytes)
		}
	}
	return nil
}

// RefreshPolicy returns the parsed refresh policy.
func (c Config) RefreshPolicy() sched.RefreshPolicy {
	p, _ := sched.ParseRefreshPolicy(c.Refresh)
	return p
}

// Map returns the configured memory map, or the default layout for
// MemoryBytes when none is set.
func (c Config) Map() (boot.MemoryMap, error) {
	if len(c.MemoryMap) > 0 {
		return boot.NewMemoryMap(c.MemoryMap...)
	}
	return boot.DefaultMap(c.MemoryBytes)
}
