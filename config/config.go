// Package config loads build configuration from contract.yaml. Defaults are
// applied first so a missing or partial file still yields a complete,
// working configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the configuration file looked up in the project
// directory.
const DefaultFileName = "contract.yaml"

// Policy defaults. The execution environment publishes no machine-readable
// limits, so these are configuration with conservative defaults rather than
// hard-coded constants.
const (
	DefaultMaxModuleBytes = 1 << 20 // 1 MiB
	DefaultMaxBodyBytes   = 64 << 10
	DefaultMaxMemoryPages = 16
)

// Config is the full build configuration.
type Config struct {
	Contract   Contract   `yaml:"contract"`
	Optimizer  Optimizer  `yaml:"optimizer"`
	Validation Validation `yaml:"validation"`
	Cache      Cache      `yaml:"cache"`
	Toolchain  Toolchain  `yaml:"toolchain"`
}

// Contract identifies the contract being built.
type Contract struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Optimizer controls the size-optimization passes.
type Optimizer struct {
	// KeepCustomSections lists custom section names to preserve; everything
	// else is stripped.
	KeepCustomSections []string `yaml:"keep_custom_sections"`
	Peephole           bool     `yaml:"peephole"`
	StripCustom        bool     `yaml:"strip_custom"`
}

// Validation holds the execution environment's policy ceilings.
type Validation struct {
	// AllowedImportModules is the import allow-list. Every import's module
	// name must appear here.
	AllowedImportModules []string `yaml:"allowed_import_modules"`
	// EntryPoints are the exports the environment invokes. Each must be an
	// exported function with an empty signature.
	EntryPoints    []string `yaml:"entry_points"`
	MaxModuleBytes uint32   `yaml:"max_module_bytes"`
	MaxBodyBytes   uint32   `yaml:"max_body_bytes"`
	MaxMemoryPages uint32   `yaml:"max_memory_pages"`
}

// Cache configures the content-addressed build cache.
type Cache struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

// Toolchain configures the external compiler invocation.
type Toolchain struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Optimizer: Optimizer{
			StripCustom: true,
			Peephole:    true,
		},
		Validation: Validation{
			AllowedImportModules: []string{"env", "seal0", "seal1"},
			EntryPoints:          []string{"deploy", "call"},
			MaxModuleBytes:       DefaultMaxModuleBytes,
			MaxBodyBytes:         DefaultMaxBodyBytes,
			MaxMemoryPages:       DefaultMaxMemoryPages,
		},
		Cache: Cache{
			Dir: defaultCacheDir(),
		},
		Toolchain: Toolchain{
			Timeout: 5 * time.Minute,
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/cargo-contract"
	}
	return ".contract-cache"
}

// Load reads the configuration file at path, unmarshalling over defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Validation.MaxModuleBytes == 0 {
		return fmt.Errorf("validation.max_module_bytes must be positive")
	}
	if c.Validation.MaxBodyBytes == 0 {
		return fmt.Errorf("validation.max_body_bytes must be positive")
	}
	if c.Validation.MaxMemoryPages == 0 {
		return fmt.Errorf("validation.max_memory_pages must be positive")
	}
	if len(c.Validation.EntryPoints) == 0 {
		return fmt.Errorf("validation.entry_points must not be empty")
	}
	if c.Toolchain.Timeout <= 0 {
		return fmt.Errorf("toolchain.timeout must be positive")
	}
	return nil
}
