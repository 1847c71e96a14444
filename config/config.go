package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cndeng/ramfs/internal/util"
	"gopkg.in/yaml.v3"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultMaxWrite is the maximum write size per FUSE request
	DefaultMaxWrite = 1 << 20

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	// DefaultNegativeTimeout is the negative lookup cache timeout in seconds
	DefaultNegativeTimeout = 0.1

	// DefaultRootMode is the permission bits of the root directory
	DefaultRootMode = 0o755
)

// Config contains runtime configuration values for the in-memory filesystem.
type Config struct {
	LogLvl util.LogLevel // Log verbosity (Default Info)

	RootMode uint32 // Permission bits of the root directory (Default 0755)
	Uid      uint32 // Owner uid stamped on new nodes (Default current user)
	Gid      uint32 // Owner gid stamped on new nodes (Default current group)

	// NOTE: Low-level FUSE config (strongly recommend defaults unless you really know what you're doing):

	MaxWrite        int     // Maximum write size per FUSE request (Default 1MB)
	AttrTimeout     float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout    float64 // Directory entry cache timeout in seconds (Default 1.0)
	NegativeTimeout float64 // Negative lookup cache timeout in seconds (Default 0.1)

	MountOptions MountOptions
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	LogLvl          *util.LogLevel `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	RootMode        *uint32        `yaml:"root_mode,omitempty" json:"root_mode,omitempty"`
	Uid             *uint32        `yaml:"uid,omitempty" json:"uid,omitempty"`
	Gid             *uint32        `yaml:"gid,omitempty" json:"gid,omitempty"`
	MaxWrite        *int           `yaml:"max_write,omitempty" json:"max_write,omitempty"`
	AttrTimeout     *float64       `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout    *float64       `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	NegativeTimeout *float64       `yaml:"negative_timeout,omitempty" json:"negative_timeout,omitempty"`
	FsName          *string        `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name            *string        `yaml:"name,omitempty" json:"name,omitempty"`
	AllowOther      *bool          `yaml:"allow_other,omitempty" json:"allow_other,omitempty"`
	Debug           *bool          `yaml:"debug,omitempty" json:"debug,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLvl:          util.InfoLevel,
		RootMode:        DefaultRootMode,
		Uid:             uint32(os.Getuid()),
		Gid:             uint32(os.Getgid()),
		MaxWrite:        DefaultMaxWrite,
		AttrTimeout:     DefaultAttrTimeout,
		EntryTimeout:    DefaultEntryTimeout,
		NegativeTimeout: DefaultNegativeTimeout,
		MountOptions: MountOptions{
			FsName: "ramfs",
			Name:   "ramfs",
		},
	}
}

// NewConfig creates a Config from defaults with an optional override applied.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = *override.LogLvl
	}
	if override.RootMode != nil {
		c.RootMode = *override.RootMode
	}
	if override.Uid != nil {
		c.Uid = *override.Uid
	}
	if override.Gid != nil {
		c.Gid = *override.Gid
	}
	if override.MaxWrite != nil {
		c.MaxWrite = *override.MaxWrite
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.NegativeTimeout != nil {
		c.NegativeTimeout = *override.NegativeTimeout
	}
	if override.FsName != nil {
		c.MountOptions.FsName = *override.FsName
	}
	if override.Name != nil {
		c.MountOptions.Name = *override.Name
	}
	if override.AllowOther != nil {
		c.MountOptions.AllowOther = *override.AllowOther
	}
	if override.Debug != nil {
		c.MountOptions.Debug = *override.Debug
	}
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}
