// Package config loads the YAML file wiring the experiment's hardware and
// logic modules together.
package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Roles a module can fill in the wiring graph.
const (
	RoleCamera    = "camera"
	RoleMW        = "mw"
	RoleSequencer = "sequencer"
	RoleSweeper   = "sweeper"
)

// moduleRoles maps a module type to the role it fills. Sim types back the
// same roles for dev mode.
var moduleRoles = map[string]string{
	"prime95b":      RoleCamera,
	"sim_camera":    RoleCamera,
	"scpi_serial":   RoleMW,
	"sim_mw":        RoleMW,
	"pulsestreamer": RoleSequencer,
	"sim_sequencer": RoleSequencer,
	"sweep":         RoleSweeper,
}

// Options holds the per-module hardware settings. Only the fields relevant
// to the module's type are read.
type Options struct {
	Port          string  `yaml:"port,omitempty"`
	Width         int     `yaml:"width,omitempty"`
	Height        int     `yaml:"height,omitempty"`
	ExposureS     float64 `yaml:"exposure_s,omitempty"`
	Gain          int     `yaml:"gain,omitempty"`
	SampleRateHz  float64 `yaml:"sample_rate_hz,omitempty"`
	MemorySamples int64   `yaml:"memory_samples,omitempty"`
}

// Module is one named entry in the wiring graph: a driver type, its
// options, and references to the modules it connects to.
type Module struct {
	Type    string            `yaml:"type"`
	Options Options           `yaml:"options,omitempty"`
	Connect map[string]string `yaml:"connect,omitempty"`
}

// Defaults are the sweep parameters used when a request leaves them unset.
type Defaults struct {
	Repetitions int     `yaml:"repetitions"`
	Averages    int     `yaml:"averages"`
	MWPowerDBm  float64 `yaml:"mw_power_dbm"`
	MWFreqHz    float64 `yaml:"mw_freq_hz"`
}

// Config is the root of the wiring file.
type Config struct {
	DataDir  string            `yaml:"data_dir"`
	Database string            `yaml:"database"`
	Defaults Defaults          `yaml:"defaults"`
	Modules  map[string]Module `yaml:"modules"`
}

// Load reads and validates a wiring file. Unknown keys are rejected so
// typos in option names fail at startup rather than silently using a
// default.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates wiring YAML.
func Parse(raw []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every module has a known type and that every
// connect reference names an existing module of the expected role.
func (c *Config) Validate() error {
	if len(c.Modules) == 0 {
		return fmt.Errorf("config has no modules")
	}
	for _, name := range sortedNames(c.Modules) {
		m := c.Modules[name]
		role, ok := moduleRoles[m.Type]
		if !ok {
			return fmt.Errorf("module %q has unknown type %q", name, m.Type)
		}
		if role == RoleCamera && (m.Options.Width < 0 || m.Options.Height < 0) {
			return fmt.Errorf("module %q has negative sensor dimensions", name)
		}
		for port, target := range m.Connect {
			tm, ok := c.Modules[target]
			if !ok {
				return fmt.Errorf("module %q connects %s to unknown module %q", name, port, target)
			}
			if wantRole, ok := moduleRoles[tm.Type]; ok && port != wantRole {
				return fmt.Errorf("module %q connects %s to %q which fills role %s", name, port, target, wantRole)
			}
		}
	}
	return nil
}

// FindByRole returns the name and definition of the first module filling
// the given role, in name order.
func (c *Config) FindByRole(role string) (string, Module, bool) {
	for _, name := range sortedNames(c.Modules) {
		m := c.Modules[name]
		if moduleRoles[m.Type] == role {
			return name, m, true
		}
	}
	return "", Module{}, false
}

func sortedNames(modules map[string]Module) []string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
