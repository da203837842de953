// Package config handles stvm.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/KentBeck/LivingObjects-sub000/vm"
)

// FileName is the name of the configuration file.
const FileName = "stvm.toml"

// Config represents an stvm.toml configuration.
type Config struct {
	Heap Heap `toml:"heap"`
	Log  Log  `toml:"log"`

	// Dir is the directory containing the stvm.toml file (set at load time).
	// Empty for the defaults.
	Dir string `toml:"-"`
}

// Heap sizes the managed heap.
type Heap struct {
	SpaceWords  int     `toml:"space-words"`
	GCThreshold float64 `toml:"gc-threshold"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no stvm.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	def := vm.DefaultOptions()
	if c.Heap.SpaceWords == 0 {
		c.Heap.SpaceWords = def.SpaceWords
	}
	if c.Heap.GCThreshold == 0 {
		c.Heap.GCThreshold = def.GCThreshold
	}
}

// Load parses an stvm.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if c.Log.File != "" && !filepath.IsAbs(c.Log.File) {
		c.Log.File = filepath.Join(c.Dir, c.Log.File)
	}
	return c, nil
}

// Parse decodes configuration text, applies defaults and validates the
// result.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find an stvm.toml file, then loads
// it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate rejects settings the VM cannot run with.
func (c *Config) Validate() error {
	if c.Heap.SpaceWords <= 0 {
		return fmt.Errorf("heap.space-words must be positive, got %d", c.Heap.SpaceWords)
	}
	if c.Heap.GCThreshold <= 0 || c.Heap.GCThreshold > 1 {
		return fmt.Errorf("heap.gc-threshold must be in (0, 1], got %g", c.Heap.GCThreshold)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity)
	}
	return nil
}

// Options returns the VM options the configuration describes.
func (c *Config) Options() vm.Options {
	return vm.Options{SpaceWords: c.Heap.SpaceWords, GCThreshold: c.Heap.GCThreshold}
}

// LogFile returns the configured log path, or nil for standard error.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	f := c.Log.File
	return &f
}
