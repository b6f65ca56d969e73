// Package vconfig loads and merges the settings that shape how a volume
// is mounted and served: mount options, log verbosity, the virtual-node
// cache size, and which backing implementation a volume image uses.
package vconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/sisatech/toml"
)

// Config is the root settings document, loadable from a TOML file and
// mergeable against CLI-flag overrides the way VCFG merges a base file
// against a build-time overlay.
type Config struct {
	Mount   MountSettings   `toml:"mount,omitempty" json:"mount,omitempty"`
	Log     LogSettings     `toml:"log,omitempty" json:"log,omitempty"`
	Cache   CacheSettings   `toml:"cache,omitempty" json:"cache,omitempty"`
	Backing BackingSettings `toml:"backing,omitempty" json:"backing,omitempty"`
	modtime time.Time
}

// MountSettings controls how the FUSE mount point is attached.
type MountSettings struct {
	ReadOnly   bool     `toml:"readonly,omitempty" json:"readonly,omitempty"`
	AllowOther bool     `toml:"allow-other,omitempty" json:"allow-other,omitempty"`
	Debug      bool     `toml:"debug,omitempty" json:"debug,omitempty"`
	Options    []string `toml:"options,omitempty" json:"options,omitempty"`
}

// LogSettings controls the package-level logger's verbosity and format.
type LogSettings struct {
	Level   LogLevel `toml:"level,omitempty" json:"level,omitempty"`
	JSON    bool     `toml:"json,omitempty" json:"json,omitempty"`
	Verbose bool     `toml:"verbose,omitempty" json:"verbose,omitempty"`
}

// CacheSettings sizes the virtual-node cache (C3) and the backing store's
// in-memory cluster-table cache.
type CacheSettings struct {
	VNodeEntries int   `toml:"vnode-entries,omitzero" json:"vnode-entries,omitempty"`
	MaxDirtyPct  int   `toml:"max-dirty-pct,omitzero" json:"max-dirty-pct,omitempty"`
	BlockBudget  Bytes `toml:"block-budget,omitzero" json:"block-budget,omitempty"`
}

// BackingSettings selects and configures the block device implementation
// a volume image is opened with.
type BackingSettings struct {
	Type BackingType `toml:"type,omitempty" json:"type,omitempty"`
	Size Bytes       `toml:"size,omitzero" json:"size,omitempty"`
}

// BackingType names a pkg/vblock.Backing implementation.
type BackingType string

const (
	// BackingFile is a flat, preallocated file backing (pkg/vblock).
	BackingFile BackingType = "file"
	// BackingQCOW2 is a sparse, copy-on-write backing (pkg/vqcow2).
	BackingQCOW2 BackingType = "qcow2"
)

// ModTime returns the time the config was last loaded or merged to a new
// value, mirroring VCFG's own change-tracking.
func (c *Config) ModTime() time.Time {
	return c.modtime
}

// Load parses a TOML document into a new Config.
func Load(data []byte) (*Config, error) {
	c := new(Config)
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	c.modtime = time.Now()
	return c, nil
}

// LoadFile reads and parses a TOML config file from disk.
func LoadFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Marshal renders the config back to TOML.
func (c *Config) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := toml.NewEncoder(buf)
	enc.SmartMultiline = true
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Format implements fmt.Formatter so %v on a *Config prints as JSON, the
// same debugging shape VCFG.Format uses.
func (c *Config) Format(f fmt.State, verb rune) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		f.Write([]byte("failed to format config"))
		return
	}
	f.Write(data)
}

// Merge overlays x's non-zero fields onto c in place, recording a fresh
// modtime only if the merge actually changed anything.
func (c *Config) Merge(x *Config) error {
	before := fmt.Sprintf("%v", c)
	merged, err := Merge(c, x)
	if err != nil {
		return err
	}
	*c = *merged
	if fmt.Sprintf("%v", c) != before {
		c.modtime = time.Now()
	}
	return nil
}
